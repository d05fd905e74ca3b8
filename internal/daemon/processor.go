package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ppiankov/hostiotrace/internal/alert"
	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/tracer"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

// ProcessorConfig holds runtime configuration for job processing.
type ProcessorConfig struct {
	Dirs  DirConfig
	Nests model.NestingSet
	// Audit receives one entry per processed job. Optional.
	Audit *audit.Log
	// Alerts is notified of every job outcome. Optional.
	Alerts *alert.Dispatcher
}

// Processor handles job lifecycle transitions. It is safe for concurrent
// use; every job gets a fresh builder.
type Processor struct {
	cfg ProcessorConfig
}

// NewProcessor creates a processor with the given configuration.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Nests == nil {
		cfg.Nests = model.DefaultNestingSet()
	}
	return &Processor{cfg: cfg}
}

// Process handles a single job file through its full lifecycle:
// read → validate → move to processing → reconstruct → write result to outbox.
func (p *Processor) Process(ctx context.Context, jobPath string) error {
	// Reject symlinks before reading so inbox entries cannot point at
	// arbitrary files.
	fi, err := os.Lstat(jobPath)
	if err != nil {
		return fmt.Errorf("stat job file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("rejected symlink: %s", filepath.Base(jobPath))
	}

	data, err := os.ReadFile(jobPath)
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		_ = os.Remove(jobPath)
		return p.writeFailedResult(jobID(jobPath), fmt.Sprintf("invalid JSON: %v", err))
	}
	if err := ValidateJob(&job); err != nil {
		_ = os.Remove(jobPath)
		return p.writeFailedResult(jobID(jobPath), fmt.Sprintf("validation failed: %v", err))
	}

	processingPath := filepath.Join(p.cfg.Dirs.ProcessingDir(), job.ID+".json")
	if err := moveFile(jobPath, processingPath); err != nil {
		return fmt.Errorf("move to processing: %w", err)
	}

	result := p.Reconstruct(ctx, &job)
	if err := p.writeResult(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	_ = os.Remove(processingPath)
	return nil
}

// Reconstruct runs a job's events through a new builder. Failures are
// reported in the result rather than returned.
func (p *Processor) Reconstruct(ctx context.Context, job *Job) *Result {
	logger := log.New("job", job.ID)
	res, err := p.build(ctx, job)

	subject := job.Source
	if subject == "" {
		subject = job.ID
	}
	entry := audit.FromResult("inbox", subject, res, err)
	if p.cfg.Audit != nil {
		if aerr := p.cfg.Audit.Record(entry); aerr != nil {
			logger.Warn("Audit record failed", "err", aerr)
		}
	}
	p.cfg.Alerts.Dispatch(alert.FromEntry(job.ID, entry))

	result := &Result{ID: job.ID, TraceID: entry.TraceID, CompletedAt: time.Now().UTC()}
	if err != nil {
		logger.Warn("Reconstruction failed", "err", err)
		result.Status = ResultFailed
		result.Error = err.Error()
		return result
	}
	steps, err := wire.EncodeResult(res.Root)
	if err != nil {
		result.Status = ResultFailed
		result.Error = err.Error()
		return result
	}

	result.Status = ResultDone
	if res.Partial {
		result.Status = ResultPartial
		result.Depth = res.Depth
	}
	result.Events = res.Events
	result.Stats = entry.Stats
	result.Steps = steps
	logger.Info("Reconstructed capture", "status", result.Status, "events", res.Events, "hostios", entry.Stats.HostIOs)
	return result
}

func (p *Processor) build(ctx context.Context, job *Job) (*tracer.Result, error) {
	nests := p.cfg.Nests
	if len(job.NestingOps) > 0 {
		var err error
		if nests, err = model.NewNestingSet(job.NestingOps...); err != nil {
			return nil, err
		}
	}
	events, err := wire.DecodeEvents(job.Events)
	if err != nil {
		return nil, err
	}
	b := tracer.NewBuilder(nests)
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.Process(ev); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

// writeResult writes a result to the outbox directory atomically.
func (p *Processor) writeResult(r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return writeAtomic(filepath.Join(p.cfg.Dirs.Outbox, r.ID+".json"), data)
}

// writeFailedResult writes a minimal failed result when the job can't be parsed.
func (p *Processor) writeFailedResult(id string, errMsg string) error {
	if id == "" {
		id = fmt.Sprintf("unknown-%d", time.Now().UnixNano())
	}
	return p.writeResult(&Result{
		ID:          id,
		Status:      ResultFailed,
		Error:       errMsg,
		CompletedAt: time.Now().UTC(),
	})
}

// jobID derives an id from the file name when the body cannot supply one.
func jobID(path string) string {
	id := strings.TrimSuffix(filepath.Base(path), ".json")
	if !validID.MatchString(id) {
		return ""
	}
	return id
}
