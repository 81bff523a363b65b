package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nichescout/nichescout/internal/graph"
	"github.com/nichescout/nichescout/internal/research"
	"github.com/nichescout/nichescout/internal/schedule"
	"github.com/nichescout/nichescout/internal/scheduler"
	"github.com/nichescout/nichescout/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Runs
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs/active", s.listActiveRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/runs/{id}/messages", s.getRunMessages)
	mux.HandleFunc("GET /api/runs/{id}/report", s.getRunReport)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.cancelRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// System
	mux.HandleFunc("GET /api/graph", s.getGraph)
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	counts, _ := s.store.CountRunMessages()

	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		entry := runToAPI(run)
		entry["message_count"] = counts[run.ID]
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Niche string `json:"niche"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Niche) == "" {
		jsonError(w, "niche is required", http.StatusBadRequest)
		return
	}

	run, err := s.coord.Start(r.Context(), body.Niche, research.OriginWeb)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(runToAPI(*run))
}

func (s *Server) listActiveRuns(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.coord.Active())
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return nil, false
	}
	return run, true
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	out := runToAPI(*run)
	out["final_report"] = run.FinalReport
	jsonResponse(w, out)
}

func (s *Server) getRunMessages(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	messages, err := s.store.GetRunMessages(run.ID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		entry := map[string]any{
			"seq":  m.Seq,
			"role": m.Role,
			"text": m.Content,
			"time": formatTime(m.CreatedAt),
		}
		if m.Name != "" {
			entry["name"] = m.Name
		}
		if m.Reason != "" {
			entry["reason"] = m.Reason
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

// getRunReport serves the report as markdown.
func (s *Server) getRunReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.FinalReport == "" {
		jsonError(w, "run has no report", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(run.FinalReport))
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	if !s.coord.Cancel(r.PathValue("id")) {
		jsonError(w, "run is not active", http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]string{"status": "cancelled"})
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if err := s.coord.Delete(run.ID); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(schedules))
	for _, sch := range schedules {
		out = append(out, scheduleToAPI(sch))
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Niche    string `json:"niche"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sch, err := s.sched.Create(body.Name, body.Schedule, body.Niche)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(scheduleToAPI(*sch))
}

// updateSchedule changes the name, niche or recurrence of a schedule, and
// pauses or resumes it via "enabled".
func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sch, err := s.store.GetSchedule(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sch == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name     *string `json:"name"`
		Schedule *string `json:"schedule"`
		Niche    *string `json:"niche"`
		Enabled  *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		sch.Name = *body.Name
	}
	if body.Niche != nil {
		if strings.TrimSpace(*body.Niche) == "" {
			jsonError(w, "niche is required", http.StatusBadRequest)
			return
		}
		sch.Niche = strings.TrimSpace(*body.Niche)
	}
	if body.Schedule != nil {
		normalized, err := schedule.Normalize(*body.Schedule)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sch.Schedule = normalized
		sch.NextRunAt = schedule.CalculateNextRun(normalized)
	}
	if err := s.store.SaveSchedule(sch); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if body.Enabled != nil {
		if err := s.sched.SetPaused(id, !*body.Enabled); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	updated, err := s.store.GetSchedule(id)
	if err != nil || updated == nil {
		jsonError(w, "schedule vanished", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(*updated))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSchedule(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	workers := make([]string, 0, len(s.workers))
	for _, d := range s.workers {
		workers = append(workers, d.String())
	}
	jsonResponse(w, map[string]any{
		"workers": workers,
		"mermaid": graph.Mermaid(s.workers),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	counts, _ := s.store.CountRunsByStatus()
	schedules, _ := s.store.ListSchedules()

	activeSchedules := 0
	for _, sch := range schedules {
		if sch.Status == scheduler.StatusActive {
			activeSchedules++
		}
	}

	natsStatus := "disabled"
	if s.bus != nil {
		natsStatus = "ok"
	}

	jsonResponse(w, map[string]any{
		"status":           "ok",
		"active_runs":      len(s.coord.Active()),
		"runs":             counts,
		"active_schedules": activeSchedules,
		"websocket_peers":  s.hub.Len(),
		"uptime":           formatUptime(time.Since(s.startedAt)),
		"nats":             natsStatus,
		"timestamp":        time.Now().UTC(),
		"version":          s.version,
	})
}

func runToAPI(r store.Run) map[string]any {
	m := map[string]any{
		"id":         r.ID,
		"niche":      r.Niche,
		"origin":     r.Origin,
		"status":     r.Status,
		"steps":      r.Steps,
		"started_at": formatTime(r.StartedAt),
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.CompletedAt != nil {
		m["completed_at"] = formatTime(*r.CompletedAt)
		m["duration"] = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
	}
	return m
}

func scheduleToAPI(sch store.ScheduledResearch) map[string]any {
	m := map[string]any{
		"id":               sch.ID,
		"name":             sch.Name,
		"niche":            sch.Niche,
		"schedule":         sch.Schedule,
		"schedule_display": schedule.Describe(sch.Schedule),
		"enabled":          sch.Status == scheduler.StatusActive,
		"status":           sch.Status,
	}
	if sch.LastRunAt != nil {
		m["last_run"] = formatTime(*sch.LastRunAt)
		m["last_status"] = sch.LastStatus
	}
	if sch.LastRunID != "" {
		m["last_run_id"] = sch.LastRunID
	}
	if sch.LastError != "" {
		m["last_error"] = sch.LastError
	}
	if sch.NextRunAt != nil {
		m["next_run"] = formatTime(*sch.NextRunAt)
	}
	return m
}

func formatTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
