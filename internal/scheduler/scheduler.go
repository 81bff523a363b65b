package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nichescout/nichescout/internal/config"
	"github.com/nichescout/nichescout/internal/natsbus"
	"github.com/nichescout/nichescout/internal/research"
	"github.com/nichescout/nichescout/internal/schedule"
	"github.com/nichescout/nichescout/internal/store"
)

const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Starter queues a research run.
type Starter interface {
	Start(ctx context.Context, niche, origin string) (*store.Run, error)
}

type Publisher interface {
	PublishEvent(e natsbus.Event) error
}

type Scheduler struct {
	store        *store.Store
	starter      Starter
	publisher    Publisher
	pollInterval time.Duration
	now          func() time.Time
}

// New creates a scheduler. publisher may be nil.
func New(s *store.Store, starter Starter, publisher Publisher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		starter:      starter,
		publisher:    publisher,
		pollInterval: cfg.PollInterval,
		now:          time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval <= 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll starts a run for every active schedule that is due.
func (s *Scheduler) Poll(ctx context.Context) {
	due, err := s.store.GetDueSchedules(s.now())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}
	for _, sch := range due {
		s.execute(ctx, sch)
	}
}

func (s *Scheduler) execute(ctx context.Context, sch store.ScheduledResearch) {
	slog.Info("executing scheduled research", "id", sch.ID, "name", sch.Name, "niche", sch.Niche)

	var lastStatus, lastError, runID string
	run, err := s.starter.Start(ctx, sch.Niche, research.OriginSchedule(sch.ID))
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled research failed to start", "id", sch.ID, "error", err)
	} else {
		lastStatus = "started"
		runID = run.ID
	}

	next := s.nextRun(sch.Schedule)
	if err := s.store.UpdateScheduleRun(sch.ID, lastStatus, lastError, runID, next); err != nil {
		slog.Error("failed to update schedule run", "id", sch.ID, "error", err)
	}

	s.publishExecuted(sch, lastStatus, runID)

	if next == nil {
		slog.Info("no next run, completing schedule", "id", sch.ID, "name", sch.Name)
		if err := s.store.UpdateScheduleStatus(sch.ID, StatusCompleted); err != nil {
			slog.Error("failed to complete schedule", "id", sch.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishExecuted(sch store.ScheduledResearch, status, runID string) {
	if s.publisher == nil {
		return
	}
	event := natsbus.Event{
		Type:       natsbus.EventScheduleExecuted,
		ScheduleID: sch.ID,
		Timestamp:  s.now().UTC().Format(time.RFC3339),
		Data: map[string]any{
			"name":   sch.Name,
			"niche":  sch.Niche,
			"status": status,
			"run_id": runID,
		},
	}
	if err := s.publisher.PublishEvent(event); err != nil {
		slog.Warn("publish schedule event failed", "id", sch.ID, "error", err)
	}
}

func (s *Scheduler) nextRun(raw string) *time.Time {
	parsed, err := schedule.Parse(raw)
	if err != nil {
		slog.Warn("unparsable schedule", "schedule", raw, "error", err)
		return nil
	}
	return parsed.Next(s.now())
}

// Create validates and stores a new active schedule.
func (s *Scheduler) Create(name, rawSchedule, niche string) (*store.ScheduledResearch, error) {
	niche = strings.TrimSpace(niche)
	if niche == "" {
		return nil, fmt.Errorf("niche is required")
	}
	normalized, err := schedule.Normalize(rawSchedule)
	if err != nil {
		return nil, err
	}
	next := s.nextRun(normalized)
	if next == nil {
		return nil, fmt.Errorf("schedule never fires")
	}
	if strings.TrimSpace(name) == "" {
		name = niche
	}

	sch := &store.ScheduledResearch{
		ID:        uuid.New().String(),
		Name:      name,
		Schedule:  normalized,
		Niche:     niche,
		Status:    StatusActive,
		NextRunAt: next,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SaveSchedule(sch); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	return sch, nil
}

// SetPaused pauses or resumes a schedule. Resuming recomputes the next run
// so a schedule paused for a while does not fire for every missed tick.
func (s *Scheduler) SetPaused(id string, paused bool) error {
	sch, err := s.store.GetSchedule(id)
	if err != nil {
		return err
	}
	if sch == nil {
		return fmt.Errorf("schedule %s not found", id)
	}

	if paused {
		return s.store.UpdateScheduleStatus(id, StatusPaused)
	}
	sch.Status = StatusActive
	sch.NextRunAt = s.nextRun(sch.Schedule)
	if sch.NextRunAt == nil {
		return fmt.Errorf("schedule %s will not fire again", id)
	}
	return s.store.SaveSchedule(sch)
}
