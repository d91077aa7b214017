package ingestion

import (
	"context"
	"fmt"
	"log/slog"
)

// Chunk is one unit of processed content headed for the vector store.
type Chunk struct {
	Content  string
	FileID   string
	ThreadID string
}

// DocumentProcessor extracts and chunks text from an uploaded document.
type DocumentProcessor interface {
	LoadAndChunk(ctx context.Context, path string) ([]Chunk, error)
}

// ImageProcessor validates, normalizes and describes an uploaded image.
type ImageProcessor interface {
	Validate(ctx context.Context, path string) error
	Normalize(ctx context.Context, path string) (string, error)
	Analyze(ctx context.Context, path string) (string, error)
}

// VectorSink stores processed chunks for retrieval.
type VectorSink interface {
	Save(ctx context.Context, chunks []Chunk) error
}

// Pipeline drives ingestion jobs through their state machines, recording
// every transition in the shared store. The stage work itself is supplied
// by the processor and sink implementations; the pipeline's only contract
// is the transition sequence and the failure write.
type Pipeline struct {
	store  Store
	logger *slog.Logger
}

// NewPipeline builds a pipeline bound to a job store.
func NewPipeline(store Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, logger: logger}
}

// RunDocument processes one uploaded document:
// uploaded(10) -> parsing(30) -> chunking(50) -> embedding(80) -> completed(100),
// or failed with progress 0 on any stage error.
func (p *Pipeline) RunDocument(ctx context.Context, jobID, path, fileID, threadID string, proc DocumentProcessor, sink VectorSink) error {
	fail := p.failer(ctx, jobID, fileID, threadID)

	if err := p.set(ctx, jobID, StateUploaded, 10, fileID, threadID); err != nil {
		return err
	}
	p.logger.Info("document ingestion started", "job_id", jobID, "file_id", fileID)

	if err := p.set(ctx, jobID, StateParsing, 30, fileID, threadID); err != nil {
		return err
	}
	chunks, err := proc.LoadAndChunk(ctx, path)
	if err != nil {
		return fail(err)
	}
	if len(chunks) == 0 {
		return fail(fmt.Errorf("no content extracted from %s", path))
	}

	if err := p.set(ctx, jobID, StateChunking, 50, fileID, threadID); err != nil {
		return err
	}

	if err := p.set(ctx, jobID, StateEmbedding, 80, fileID, threadID); err != nil {
		return err
	}
	if err := sink.Save(ctx, chunks); err != nil {
		return fail(err)
	}

	if err := p.set(ctx, jobID, StateCompleted, 100, fileID, threadID); err != nil {
		return err
	}
	p.logger.Info("document ingestion completed", "job_id", jobID, "chunks", len(chunks))
	return nil
}

// RunImage processes one uploaded image:
// uploaded(10) -> validating(30) -> normalizing(50) -> analyzing(70) ->
// embedding(90) -> completed(100), or failed with progress 0 on any stage error.
func (p *Pipeline) RunImage(ctx context.Context, jobID, path, fileID, threadID string, proc ImageProcessor, sink VectorSink) error {
	fail := p.failer(ctx, jobID, fileID, threadID)

	if err := p.set(ctx, jobID, StateUploaded, 10, fileID, threadID); err != nil {
		return err
	}
	p.logger.Info("image ingestion started", "job_id", jobID, "file_id", fileID)

	if err := p.set(ctx, jobID, StateValidating, 30, fileID, threadID); err != nil {
		return err
	}
	if err := proc.Validate(ctx, path); err != nil {
		return fail(err)
	}

	if err := p.set(ctx, jobID, StateNormalizing, 50, fileID, threadID); err != nil {
		return err
	}
	normalized, err := proc.Normalize(ctx, path)
	if err != nil {
		return fail(err)
	}

	if err := p.set(ctx, jobID, StateAnalyzing, 70, fileID, threadID); err != nil {
		return err
	}
	analysis, err := proc.Analyze(ctx, normalized)
	if err != nil {
		return fail(err)
	}

	if err := p.set(ctx, jobID, StateEmbedding, 90, fileID, threadID); err != nil {
		return err
	}
	if err := sink.Save(ctx, []Chunk{{Content: analysis, FileID: fileID, ThreadID: threadID}}); err != nil {
		return fail(err)
	}

	if err := p.set(ctx, jobID, StateCompleted, 100, fileID, threadID); err != nil {
		return err
	}
	p.logger.Info("image ingestion completed", "job_id", jobID)
	return nil
}

func (p *Pipeline) set(ctx context.Context, jobID string, state State, progress int, fileID, threadID string) error {
	return p.store.SetStatus(ctx, jobID, Status{
		State:    state,
		Progress: progress,
		FileID:   fileID,
		ThreadID: threadID,
	})
}

// failer returns a closure that records the failed state. Progress is not
// meaningful on failure and is written as 0.
func (p *Pipeline) failer(ctx context.Context, jobID, fileID, threadID string) func(error) error {
	return func(cause error) error {
		p.logger.Error("ingestion failed", "job_id", jobID, "error", cause)
		if err := p.store.SetStatus(ctx, jobID, Status{
			State:    StateFailed,
			Progress: 0,
			FileID:   fileID,
			ThreadID: threadID,
			Error:    cause.Error(),
		}); err != nil {
			p.logger.Error("failed to record ingestion failure", "job_id", jobID, "error", err)
		}
		return cause
	}
}
