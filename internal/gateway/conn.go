package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/synapsehq/synapse/pkg/models"
)

const (
	maxPayloadBytes = 1 << 20
	writeWait       = 10 * time.Second
)

// errCloseConnection signals the read loop to stop after the handler has
// already reported whatever the client needed to hear.
var errCloseConnection = errors.New("close connection")

// clientAction is the decoded inbound frame. One flat shape; the action
// field selects which of the remaining fields are meaningful.
type clientAction struct {
	Action             string `json:"action"`
	Token              string `json:"token"`
	ThreadID           string `json:"thread_id"`
	FileID             string `json:"file_id"`
	Message            string `json:"message"`
	ShowToolsResponses bool   `json:"show_tools_responses"`
	JobID              string `json:"job_id"`
}

// session is the per-connection state machine:
// unauthenticated -> authenticated (user set) -> thread-bound (threadID set).
// Owned exclusively by its connection; never shared.
type session struct {
	user     *models.User
	threadID string
	fileIDs  []string
}

func (s *session) authenticated() bool {
	return s.user != nil
}

func (s *session) threadBound() bool {
	return s.threadID != ""
}

// connection owns one websocket. All writes go through write, which holds
// writeMu: the read loop and nothing else dispatches actions, so a turn's
// stream and protocol replies never interleave mid-frame.
type connection struct {
	server *Server
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	writeMu sync.Mutex
	sess    session
}

func (s *Server) newConnection(parent context.Context, ws *websocket.Conn) *connection {
	ctx, cancel := context.WithCancel(parent)
	return &connection{
		server: s,
		ws:     ws,
		ctx:    ctx,
		cancel: cancel,
		logger: s.logger.With("conn_id", uuid.NewString()),
	}
}

func (c *connection) run() {
	defer c.close()
	if c.server.metrics != nil {
		c.server.metrics.ConnectionsOpen.Inc()
		defer c.server.metrics.ConnectionsOpen.Dec()
	}
	c.readLoop()

	if c.sess.authenticated() {
		c.logger.Info("client disconnected",
			"user_id", c.sess.user.ID, "thread_id", c.sess.threadID)
	}
}

func (c *connection) close() {
	c.cancel()
	_ = c.ws.Close()
}

// readLoop processes inbound frames strictly in receipt order. A frame's
// handler runs to completion, including a full chat turn or ingestion
// watch, before the next frame is read.
func (c *connection) readLoop() {
	c.ws.SetReadLimit(maxPayloadBytes)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var action clientAction
		if err := json.Unmarshal(data, &action); err != nil {
			if c.write(wireError("Invalid JSON")) != nil {
				return
			}
			continue
		}

		if err := c.dispatch(&action); err != nil {
			if !errors.Is(err, errCloseConnection) {
				c.logger.Error("action failed", "action", action.Action, "error", err)
				_ = c.write(wireError("Internal server error"))
			}
			return
		}
	}
}

// dispatch routes one action. A nil return keeps the connection open; an
// error return closes it (errCloseConnection quietly, anything else after
// a best-effort internal error report).
func (c *connection) dispatch(action *clientAction) error {
	if c.server.metrics != nil {
		name := action.Action
		switch name {
		case "auth", "set_thread", "add_file", "chat", "cancel", "watch_ingestion":
		default:
			name = "unknown"
		}
		c.server.metrics.ActionsTotal.WithLabelValues(name).Inc()
	}

	switch action.Action {
	case "auth":
		return c.handleAuth(action.Token)
	case "set_thread":
		return c.handleSetThread(action.ThreadID)
	case "add_file":
		return c.handleAddFile(action.FileID)
	case "chat":
		return c.handleChat(action.Message, action.ShowToolsResponses)
	case "cancel":
		return c.handleCancel()
	case "watch_ingestion":
		return c.handleWatchIngestion(action.JobID)
	default:
		return c.write(wireError(fmt.Sprintf("Unknown action: %s", action.Action)))
	}
}

// handleAuth verifies the bearer token. Failure is fatal: without an
// identity there is nothing to continue with.
func (c *connection) handleAuth(token string) error {
	if c.sess.authenticated() {
		return c.write(wireError("Already authenticated"))
	}

	user, err := c.server.verifier.Verify(token)
	if err != nil || user == nil {
		_ = c.write(wireError("Auth failed"))
		return errCloseConnection
	}

	c.sess.user = user
	c.logger.Info("client authenticated", "user_id", user.ID)
	return c.write(wireAuthOK(user))
}

// handleSetThread binds (or rebinds) the connection to a thread the user
// owns and loads the thread's current file set.
func (c *connection) handleSetThread(threadID string) error {
	if !c.sess.authenticated() {
		return c.write(wireError("Not authenticated"))
	}

	owns, err := c.server.directory.Owns(c.ctx, c.sess.user.ID, threadID)
	if err != nil {
		c.logger.Error("ownership check failed", "thread_id", threadID, "error", err)
		owns = false
	}
	if !owns {
		return c.write(wireError("Invalid thread"))
	}

	fileIDs, err := c.server.directory.FilesForThread(c.ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread files: %w", err)
	}

	c.sess.threadID = threadID
	c.sess.fileIDs = fileIDs
	return c.write(wireThreadOK(threadID, fileIDs))
}

// handleAddFile accumulates a file id on the bound thread. The set is
// order-irrelevant and deduplicated; the reply echoes the id either way.
func (c *connection) handleAddFile(fileID string) error {
	if !c.sess.threadBound() {
		return c.write(wireError("Thread not initialized"))
	}

	if !slices.Contains(c.sess.fileIDs, fileID) {
		c.sess.fileIDs = append(c.sess.fileIDs, fileID)
	}
	return c.write(wireFileAdded(fileID))
}

// handleChat runs exactly one turn and blocks until its terminal message
// has been written. Turn-level failures are reported on the wire and do
// not close the connection.
func (c *connection) handleChat(message string, showTools bool) error {
	if !c.sess.threadBound() {
		return c.write(wireError("Thread not initialized"))
	}

	c.server.streamTurn(c.ctx, &c.sess, message, showTools, c.write)
	return nil
}

// handleCancel requests cancellation of the bound thread's active turn.
// The flag is thread-scoped: another connection's turn on the same thread
// is cancelled just the same. No direct reply; the cancelled turn emits
// the cancelled message.
func (c *connection) handleCancel() error {
	if !c.sess.threadBound() {
		return c.write(wireError("Thread not initialized"))
	}

	if c.server.metrics != nil {
		c.server.metrics.CancelRequestsTotal.Inc()
	}
	if err := c.server.cancels.Request(c.ctx, c.sess.threadID); err != nil {
		c.logger.Error("cancel request failed", "thread_id", c.sess.threadID, "error", err)
	}
	return nil
}

// handleWatchIngestion polls the job store and forwards status until the
// job reaches a terminal state or disappears. Absence is a terminal
// outcome, not a poll error: records expire by design.
func (c *connection) handleWatchIngestion(jobID string) error {
	if !c.sess.authenticated() {
		return c.write(wireError("Not authenticated"))
	}
	if jobID == "" {
		return c.write(wireError("job_id required"))
	}

	final := "error"
	if c.server.metrics != nil {
		defer func() {
			c.server.metrics.IngestionWatchesTotal.WithLabelValues(final).Inc()
		}()
	}

	for {
		status, err := c.server.jobs.GetStatus(c.ctx, jobID)
		if err != nil {
			c.logger.Error("ingestion status read failed", "job_id", jobID, "error", err)
			return c.write(wireError("Failed to read ingestion status"))
		}
		if status == nil {
			final = "not_found"
			return c.write(wireError("Job not found"))
		}

		if err := c.write(wireIngestionStatus(jobID, string(status.State), status.Progress, status.FileID, status.ThreadID)); err != nil {
			return err
		}
		if status.State.Terminal() {
			final = string(status.State)
			return nil
		}

		select {
		case <-c.ctx.Done():
			return errCloseConnection
		case <-time.After(c.server.pollInterval):
		}
	}
}

// write marshals and sends one frame. Safe for use from the streaming
// callback and the read loop; writeMu serializes the socket.
func (c *connection) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
