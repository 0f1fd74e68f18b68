package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apittopti/diagflow/internal/processor"
)

// Config holds the batch ingest configuration.
type Config struct {
	Dir        string // directory of trace captures, walked recursively
	SingleFile string // process a single file only
	VehicleID  string // vehicle all captures belong to
	StatePath  string // progress file; empty selects the default
}

// Result summarizes one batch run.
type Result struct {
	Files       int `json:"files"`
	Skipped     int `json:"skipped"`
	Lines       int `json:"lines"`
	Messages    int `json:"messages"`
	Definitions int `json:"definitions"`
	Errors      int `json:"errors"`
}

// Runner walks trace captures through the ingest pipeline.
type Runner struct {
	cfg    Config
	proc   *processor.Processor
	logger *slog.Logger
}

// NewRunner creates a batch runner.
func NewRunner(cfg Config, proc *processor.Processor, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, proc: proc, logger: logger}
}

// Run ingests every unprocessed capture, saving progress after each file so
// an interrupted run resumes cleanly. Files that fail stay unmarked and are
// retried on the next run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.cfg.VehicleID == "" {
		return nil, fmt.Errorf("vehicle id is required")
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	res := &Result{}
	var pending []string
	for _, path := range files {
		if state.IsProcessed(path) {
			res.Skipped++
			continue
		}
		pending = append(pending, path)
	}
	state.FilesRemaining = len(pending)

	r.logger.Info("captures discovered",
		"total", len(files),
		"pending", len(pending),
		"already_processed", res.Skipped,
	)

	for _, path := range pending {
		select {
		case <-ctx.Done():
			r.logger.Info("ingest interrupted, saving state")
			_ = state.Save()
			return res, ctx.Err()
		default:
		}

		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("capture unreadable", "path", path, "error", err)
			state.AddError(fmt.Sprintf("read %s: %v", path, err))
			res.Errors++
			continue
		}

		out, err := r.proc.Process(ctx, processor.Request{
			VehicleID: r.cfg.VehicleID,
			Name:      filepath.Base(path),
			Trace:     string(data),
		})
		if err != nil {
			r.logger.Error("ingest failed", "path", path, "error", err)
			state.AddError(fmt.Sprintf("ingest %s: %v", path, err))
			res.Errors++
			continue
		}

		r.logger.Info("capture ingested",
			"path", path,
			"lines", out.Lines,
			"messages", out.Messages,
			"definitions", out.Inserted,
		)

		res.Files++
		res.Lines += out.Lines
		res.Messages += out.Messages
		res.Definitions += out.Inserted

		state.Lines += out.Lines
		state.Messages += out.Messages
		state.Definitions += out.Inserted
		state.MarkProcessed(path)
		state.FilesRemaining--
		_ = state.Save()
	}

	_ = state.Save()

	r.logger.Info("batch ingest complete",
		"files", res.Files,
		"skipped", res.Skipped,
		"lines", res.Lines,
		"messages", res.Messages,
		"definitions", res.Definitions,
		"errors", res.Errors,
	)

	return res, nil
}

// discoverFiles lists candidate captures, sorted for a stable ingest order.
func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("single file not found: %s", path)
		}
		return []string{path}, nil
	}

	dir := expandHome(r.cfg.Dir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("capture dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("capture dir %s is not a directory", dir)
	}

	var files []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !info.IsDir() && isTraceFile(info.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("error walking capture dir", "dir", dir, "error", err)
	}

	sort.Strings(files)
	return files, nil
}

func isTraceFile(name string) bool {
	for _, ext := range []string{".txt", ".log", ".trace"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
