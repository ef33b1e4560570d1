package handlers

import (
	"net/http"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
)

// SchedulerHandler exposes the periodic sweeps
type SchedulerHandler struct {
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

func NewSchedulerHandler(scheduler interfaces.SchedulerService, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// ListJobsHandler - GET /api/scheduler/jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	statuses := h.scheduler.GetAllJobStatuses()
	jobs := make([]*interfaces.JobStatus, 0, len(statuses))
	for _, status := range statuses {
		jobs = append(jobs, status)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.scheduler.IsRunning(),
		"jobs":    jobs,
	})
}

// TriggerJobHandler - POST /api/scheduler/jobs/{name}/trigger
func (h *SchedulerHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, "triggered", h.scheduler.TriggerJob)
}

// EnableJobHandler - POST /api/scheduler/jobs/{name}/enable
func (h *SchedulerHandler) EnableJobHandler(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, "enabled", h.scheduler.EnableJob)
}

// DisableJobHandler - POST /api/scheduler/jobs/{name}/disable
func (h *SchedulerHandler) DisableJobHandler(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, "disabled", h.scheduler.DisableJob)
}

func (h *SchedulerHandler) jobAction(w http.ResponseWriter, r *http.Request, verb string, action func(string) error) {
	name := r.PathValue("name")
	if _, err := h.scheduler.GetJobStatus(name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := action(name); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	h.logger.Info().Str("job_name", name).Msg("Scheduled job " + verb)
	WriteSuccess(w, "job "+name+" "+verb)
}
