// Package processor orchestrates the ingest pipeline: decode trace text,
// interpret UDS messages, run discovery, persist definitions and announce
// the outcome.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/apittopti/diagflow/internal/archive"
	"github.com/apittopti/diagflow/internal/discovery"
	"github.com/apittopti/diagflow/internal/events"
	"github.com/apittopti/diagflow/internal/knowledge"
	"github.com/apittopti/diagflow/internal/knownids"
	"github.com/apittopti/diagflow/internal/odx"
	"github.com/apittopti/diagflow/internal/store"
	"github.com/apittopti/diagflow/internal/trace"
	"github.com/apittopti/diagflow/internal/uds"
)

// Definitions is the write side of the knowledge store.
type Definitions interface {
	Upsert(ctx context.Context, def *knowledge.Definition) (bool, error)
}

// Jobs tracks ingest job rows. Optional: a nil Jobs runs the pipeline
// without lifecycle bookkeeping.
type Jobs interface {
	CreateJob(ctx context.Context, vehicleID string) (uuid.UUID, error)
	StartJob(ctx context.Context, id uuid.UUID) error
	CompleteJob(ctx context.Context, id uuid.UUID, counts store.JobCounts) error
	FailJob(ctx context.Context, id uuid.UUID, reason string) error
}

// Publisher emits lifecycle events to the bus. Optional.
type Publisher interface {
	Publish(subject string, data any) error
}

// Archiver receives every interpreted message for long-term storage. Optional.
type Archiver interface {
	Write(msg archive.Message)
}

// Processor wires the pipeline stages together. Required: a definition
// store. Everything else degrades to nil.
type Processor struct {
	defs   Definitions
	jobs   Jobs
	bus    Publisher
	arch   Archiver
	sink   odx.Sink
	names  *knownids.Table
	logger *slog.Logger
}

func New(defs Definitions, jobs Jobs, bus Publisher, arch Archiver, sink odx.Sink, names *knownids.Table, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		defs:   defs,
		jobs:   jobs,
		bus:    bus,
		arch:   arch,
		sink:   sink,
		names:  names,
		logger: logger,
	}
}

// Request is one trace session to ingest. A zero JobID creates a new job row.
type Request struct {
	JobID     uuid.UUID
	VehicleID string
	Name      string
	Trace     string
}

// Result counts what one ingest run produced.
type Result struct {
	JobID        uuid.UUID `json:"jobId"`
	VehicleID    string    `json:"vehicleId"`
	Lines        int       `json:"lines"`
	Decoded      int       `json:"decoded"`
	Skipped      int       `json:"skipped"`
	Messages     int       `json:"messages"`
	Unattributed int       `json:"unattributed"`
	ECUs         int       `json:"ecus"`
	Patterns     int       `json:"patterns"`
	Inserted     int       `json:"inserted"`
	Duplicates   int       `json:"duplicates"`
}

// Process runs one trace session through the full pipeline.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	if req.VehicleID == "" {
		return nil, fmt.Errorf("vehicle id is required")
	}

	jobID := req.JobID
	if p.jobs != nil {
		if jobID == uuid.Nil {
			id, err := p.jobs.CreateJob(ctx, req.VehicleID)
			if err != nil {
				return nil, fmt.Errorf("create job: %w", err)
			}
			jobID = id
		}
		if err := p.jobs.StartJob(ctx, jobID); err != nil {
			return nil, fmt.Errorf("start job: %w", err)
		}
	}

	res, disc, err := p.run(ctx, jobID, req)
	if err != nil {
		if p.jobs != nil {
			if ferr := p.jobs.FailJob(ctx, jobID, err.Error()); ferr != nil {
				p.logger.Error("failed to mark job failed", "job_id", jobID, "error", ferr)
			}
		}
		p.publishJobCompleted(jobID, req.VehicleID, "failed", err.Error(), nil)
		return nil, err
	}

	if p.jobs != nil {
		counts := store.JobCounts{
			Lines:       res.Lines,
			Decoded:     res.Decoded,
			Messages:    res.Messages,
			ECUs:        res.ECUs,
			Definitions: res.Inserted,
		}
		if err := p.jobs.CompleteJob(ctx, jobID, counts); err != nil {
			p.logger.Error("failed to mark job completed", "job_id", jobID, "error", err)
		}
	}

	p.publishJobCompleted(jobID, req.VehicleID, "completed", "", res)
	if p.bus != nil {
		evt := events.DiscoveryCompletedEvent{
			JobID:          jobIDString(jobID),
			VehicleID:      req.VehicleID,
			ECUs:           res.ECUs,
			NewDefinitions: res.Inserted,
			Patterns:       res.Patterns,
		}
		if err := p.bus.Publish(events.SubjectDiscoveryCompleted, evt); err != nil {
			p.logger.Error("failed to publish discovery completed", "error", err)
		}
	}

	if p.sink != nil {
		set := odx.Synthesize(disc, req.VehicleID)
		if err := p.sink.Export(ctx, set); err != nil {
			p.logger.Error("document export failed", "vehicle_id", req.VehicleID, "error", err)
		}
	}

	return res, nil
}

func (p *Processor) run(ctx context.Context, jobID uuid.UUID, req Request) (*Result, *discovery.Result, error) {
	wire, stats := trace.DecodeString(req.Trace)
	p.logger.Info("trace decoded",
		"job_id", jobID,
		"vehicle_id", req.VehicleID,
		"trace", req.Name,
		"lines", stats.Lines,
		"decoded", stats.Decoded,
		"skipped", stats.Skipped,
	)

	session := discovery.NewSession(p.names, p.logger)
	for _, w := range wire {
		m := uds.Interpret(w)
		if m == nil {
			continue
		}
		if p.arch != nil {
			p.arch.Write(archiveMessage(jobID, req.VehicleID, *m))
		}
		session.Observe(*m)
	}
	disc := session.Result()

	inserted, duplicates := 0, 0
	defs := discovery.BuildDefinitions(disc, req.VehicleID)
	for i := range defs {
		ok, err := p.defs.Upsert(ctx, &defs[i])
		if err != nil {
			return nil, nil, fmt.Errorf("persist %s %s: %w", defs[i].Kind, defs[i].Identifier, err)
		}
		if ok {
			inserted++
		} else {
			duplicates++
		}
	}

	res := &Result{
		JobID:        jobID,
		VehicleID:    req.VehicleID,
		Lines:        stats.Lines,
		Decoded:      stats.Decoded,
		Skipped:      stats.Skipped,
		Messages:     disc.Messages,
		Unattributed: disc.Unattributed,
		ECUs:         len(disc.Addresses),
		Patterns:     len(disc.Patterns),
		Inserted:     inserted,
		Duplicates:   duplicates,
	}
	return res, disc, nil
}

// HandleTraceStored is the NATS handler for diag.trace.stored.
func (p *Processor) HandleTraceStored(subject string, data []byte) {
	ctx := context.Background()

	var evt events.TraceStoredEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse trace event", "error", err)
		return
	}
	if evt.VehicleID == "" {
		p.logger.Error("trace event missing vehicle id", "name", evt.Name)
		return
	}

	text, err := p.fetchTrace(evt)
	if err != nil {
		p.logger.Error("failed to fetch trace", "vehicle_id", evt.VehicleID, "name", evt.Name, "error", err)
		return
	}

	res, err := p.Process(ctx, Request{VehicleID: evt.VehicleID, Name: evt.Name, Trace: text})
	if err != nil {
		p.logger.Error("trace processing failed", "vehicle_id", evt.VehicleID, "error", err)
		return
	}

	p.logger.Info("trace processed",
		"job_id", res.JobID,
		"vehicle_id", res.VehicleID,
		"messages", res.Messages,
		"ecus", res.ECUs,
		"definitions", res.Inserted,
	)
}

// fetchTrace prefers trace text embedded in the event and falls back to a
// file on shared storage.
func (p *Processor) fetchTrace(evt events.TraceStoredEvent) (string, error) {
	if evt.Content != "" {
		return evt.Content, nil
	}
	if evt.Path == "" {
		return "", fmt.Errorf("trace event for %s has neither content nor path", evt.VehicleID)
	}
	data, err := os.ReadFile(evt.Path)
	if err != nil {
		return "", fmt.Errorf("read trace file: %w", err)
	}
	return string(data), nil
}

func (p *Processor) publishJobCompleted(jobID uuid.UUID, vehicleID, status, errMsg string, res *Result) {
	if p.bus == nil {
		return
	}
	evt := events.JobCompletedEvent{
		JobID:     jobIDString(jobID),
		VehicleID: vehicleID,
		Status:    status,
		Error:     errMsg,
	}
	if res != nil {
		evt.Lines = res.Lines
		evt.Messages = res.Messages
		evt.ECUs = res.ECUs
		evt.Definitions = res.Inserted
	}
	if err := p.bus.Publish(events.SubjectJobCompleted, evt); err != nil {
		p.logger.Error("failed to publish job completed", "error", err)
	}
}

func archiveMessage(jobID uuid.UUID, vehicleID string, m uds.Message) archive.Message {
	return archive.Message{
		JobID:     jobIDString(jobID),
		VehicleID: vehicleID,
		TraceTime: m.Wire.Timestamp,
		Direction: string(m.Wire.Direction),
		Source:    m.Wire.Source,
		Target:    m.Wire.Target,
		Service:   m.ServiceID,
		Payload:   fmt.Sprintf("%X", m.Wire.Payload),
	}
}

func jobIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
