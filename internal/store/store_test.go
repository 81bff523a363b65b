package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nichescout/nichescout/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "data", "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)

	r := &Run{ID: "run-1", Niche: "pet grooming subscription boxes", Origin: "cli", Status: RunQueued}
	if err := s.SaveRun(r); err != nil {
		t.Fatalf("save run: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Niche != r.Niche || got.Status != RunQueued {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.CompletedAt != nil || got.Done() {
		t.Error("queued run should not be complete")
	}

	if err := s.UpdateRunStatus("run-1", RunRunning); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := s.FinishRun("run-1", RunCompleted, "# Report", 7, ""); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	got, _ = s.GetRun("run-1")
	if got.Status != RunCompleted || got.FinalReport != "# Report" || got.Steps != 7 {
		t.Errorf("unexpected finished run: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if got.Error != "" {
		t.Errorf("expected no error, got %q", got.Error)
	}

	// Not found
	got, err = s.GetRun("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent run")
	}
}

func TestSaveRunKeepsTimestamps(t *testing.T) {
	s := newTestStore(t)

	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	completed := started.Add(4 * time.Minute)
	r := &Run{ID: "imported", Niche: "n", Origin: "cli", Status: RunCompleted, StartedAt: started, CompletedAt: &completed}
	if err := s.SaveRun(r); err != nil {
		t.Fatalf("save run: %v", err)
	}

	got, _ := s.GetRun("imported")
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, got.StartedAt)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("expected completed_at %v, got %v", completed, got.CompletedAt)
	}

	// Updating keeps the original start.
	r.StartedAt = started.Add(time.Hour)
	r.Steps = 3
	if err := s.SaveRun(r); err != nil {
		t.Fatalf("update run: %v", err)
	}
	got, _ = s.GetRun("imported")
	if !got.StartedAt.Equal(started) || got.Steps != 3 {
		t.Errorf("unexpected updated run: %+v", got)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.SaveRun(&Run{ID: id, Niche: "n-" + id, Origin: "web", Status: RunQueued}); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("expected newest first, got %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestRunMessages(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveRun(&Run{ID: "run-1", Niche: "n", Origin: "cli", Status: RunRunning})

	msgs := []RunMessage{
		{RunID: "run-1", Seq: 0, Role: "user", Content: "pet grooming"},
		{RunID: "run-1", Seq: 1, Role: "user", Name: "market", Content: "TAM is big", Reason: "size first"},
		{RunID: "run-1", Seq: 2, Role: "user", Name: "final_report", Content: "# Report"},
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if err := s.SaveRunMessage(&msgs[i]); err != nil {
			t.Fatalf("save message: %v", err)
		}
		if msgs[i].ID == 0 {
			t.Error("expected id to be set")
		}
	}

	got, err := s.GetRunMessages("run-1")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.Seq != i {
			t.Errorf("message %d has seq %d", i, m.Seq)
		}
	}
	if got[1].Name != "market" || got[1].Reason != "size first" {
		t.Errorf("unexpected message: %+v", got[1])
	}
	if got[0].Name != "" {
		t.Errorf("seed message should have no name, got %q", got[0].Name)
	}

	// Duplicate seq is rejected.
	if err := s.SaveRunMessage(&RunMessage{RunID: "run-1", Seq: 1, Role: "user", Content: "dup"}); err == nil {
		t.Error("expected duplicate seq to fail")
	}

	counts, err := s.CountRunMessages()
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if counts["run-1"] != 3 {
		t.Errorf("expected 3, got %d", counts["run-1"])
	}

	if err := s.DeleteRun("run-1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	got, _ = s.GetRunMessages("run-1")
	if len(got) != 0 {
		t.Errorf("expected messages to be deleted, got %d", len(got))
	}
	if r, _ := s.GetRun("run-1"); r != nil {
		t.Error("expected run to be deleted")
	}
}

func TestFailStaleRunsAndCounts(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveRun(&Run{ID: "q", Niche: "n", Origin: "cli", Status: RunQueued})
	_ = s.SaveRun(&Run{ID: "r", Niche: "n", Origin: "cli", Status: RunRunning})
	_ = s.SaveRun(&Run{ID: "c", Niche: "n", Origin: "cli", Status: RunCompleted})

	n, err := s.FailStaleRuns()
	if err != nil {
		t.Fatalf("fail stale runs: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 stale runs, got %d", n)
	}

	r, _ := s.GetRun("r")
	if r.Status != RunFailed || r.Error == "" {
		t.Errorf("expected failed run with error, got %+v", r)
	}

	counts, err := s.CountRunsByStatus()
	if err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if counts[RunFailed] != 2 || counts[RunCompleted] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := &ScheduledResearch{ID: "s1", Name: "weekly pets", Schedule: `{"kind":"cron","cron_expr":"0 9 * * 1"}`, Niche: "pet grooming", Status: "active", NextRunAt: &past}
	later := &ScheduledResearch{ID: "s2", Name: "later", Schedule: `{"kind":"interval","interval_ms":3600000}`, Niche: "x", Status: "active", NextRunAt: &future}
	paused := &ScheduledResearch{ID: "s3", Name: "paused", Schedule: `{"kind":"interval","interval_ms":60000}`, Niche: "y", Status: "paused", NextRunAt: &past}
	for _, sch := range []*ScheduledResearch{due, later, paused} {
		if err := s.SaveSchedule(sch); err != nil {
			t.Fatalf("save schedule: %v", err)
		}
	}

	all, err := s.ListSchedules()
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 schedules, got %d", len(all))
	}

	dueList, err := s.GetDueSchedules(time.Now())
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(dueList) != 1 || dueList[0].ID != "s1" {
		t.Fatalf("expected only s1 due, got %+v", dueList)
	}

	if err := s.UpdateScheduleRun("s1", "started", "", "run-9", &future); err != nil {
		t.Fatalf("update schedule run: %v", err)
	}
	got, _ := s.GetSchedule("s1")
	if got.LastStatus != "started" || got.LastRunID != "run-9" || got.LastRunAt == nil {
		t.Errorf("unexpected schedule after run: %+v", got)
	}

	if err := s.UpdateScheduleStatus("s3", "active"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	dueList, _ = s.GetDueSchedules(time.Now())
	if len(dueList) != 1 || dueList[0].ID != "s3" {
		t.Errorf("expected s3 due after resume, got %+v", dueList)
	}

	if err := s.DeleteSchedule("s2"); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
	if got, _ := s.GetSchedule("s2"); got != nil {
		t.Error("expected schedule to be deleted")
	}
}
