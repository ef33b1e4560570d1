package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/services/report"
)

// ReportHandler serves pipeline audit reports
type ReportHandler struct {
	reports *report.Service
	logger  arbor.ILogger
}

func NewReportHandler(reports *report.Service, logger arbor.ILogger) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		logger:  logger,
	}
}

// PipelineReportHandler - GET /api/pipelines/{id}/report?format=pdf|html|md
func (h *ReportHandler) PipelineReportHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	switch format := r.URL.Query().Get("format"); format {
	case "", "pdf":
		data, err := h.reports.PipelinePDF(ctx, id)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "pipeline-"+id+".pdf"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case "html":
		body, err := h.reports.PipelineHTML(ctx, id)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	case "md", "markdown":
		body, err := h.reports.PipelineMarkdown(ctx, id)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	default:
		WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unsupported report format %q", format))
	}
}
