package gateway

import "github.com/synapsehq/synapse/pkg/models"

// The wire protocol is a closed set of JSON messages, each tagged with a
// "type" field. These are the only shapes ever written to a client.

type authOKMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type threadOKMsg struct {
	Type     string   `json:"type"`
	ThreadID string   `json:"thread_id"`
	FileIDs  []string `json:"file_ids"`
}

type fileAddedMsg struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

type contentMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type toolStartMsg struct {
	Type     string `json:"type"`
	ToolName string `json:"tool_name"`
}

type toolEndMsg struct {
	Type     string `json:"type"`
	ToolName string `json:"tool_name"`
	Output   string `json:"output"`
}

type endMsg struct {
	Type   string `json:"type"`
	Tokens any    `json:"tokens"`
}

type cancelledMsg struct {
	Type string `json:"type"`
}

type ingestionStatusMsg struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
	FileID   string `json:"file_id"`
	ThreadID string `json:"thread_id"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func wireAuthOK(user *models.User) authOKMsg {
	return authOKMsg{Type: "auth_ok", UserID: user.ID, Username: user.Name}
}

func wireThreadOK(threadID string, fileIDs []string) threadOKMsg {
	if fileIDs == nil {
		fileIDs = []string{}
	}
	return threadOKMsg{Type: "thread_ok", ThreadID: threadID, FileIDs: fileIDs}
}

func wireFileAdded(fileID string) fileAddedMsg {
	return fileAddedMsg{Type: "file_added", FileID: fileID}
}

func wireContent(content string) contentMsg {
	return contentMsg{Type: "content", Content: content}
}

func wireToolStart(name string) toolStartMsg {
	return toolStartMsg{Type: "tool_start", ToolName: name}
}

func wireToolEnd(name, output string) toolEndMsg {
	return toolEndMsg{Type: "tool_end", ToolName: name, Output: output}
}

// wireEnd reports usage metadata when present, else an empty object so the
// client always sees a "tokens" key.
func wireEnd(usage *models.TokenUsage) endMsg {
	if usage == nil {
		return endMsg{Type: "end", Tokens: map[string]any{}}
	}
	return endMsg{Type: "end", Tokens: usage}
}

func wireCancelled() cancelledMsg {
	return cancelledMsg{Type: "cancelled"}
}

func wireIngestionStatus(jobID, state string, progress int, fileID, threadID string) ingestionStatusMsg {
	return ingestionStatusMsg{
		Type:     "ingestion_status",
		JobID:    jobID,
		State:    state,
		Progress: progress,
		FileID:   fileID,
		ThreadID: threadID,
	}
}

func wireError(message string) errorMsg {
	return errorMsg{Type: "error", Message: message}
}
