package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Service renders the audit report of a pipeline as markdown, HTML or PDF
type Service struct {
	orchestrator interfaces.PipelineOrchestrator
	logger       arbor.ILogger
}

func NewService(orchestrator interfaces.PipelineOrchestrator, logger arbor.ILogger) *Service {
	return &Service{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// PipelineMarkdown loads the pipeline with its transitions and errors and
// lays them out as a markdown document
func (s *Service) PipelineMarkdown(ctx context.Context, pipelineID string) (string, error) {
	p, err := s.orchestrator.GetPipeline(ctx, pipelineID)
	if err != nil {
		return "", err
	}
	transitions, err := s.orchestrator.ListTransitions(ctx, pipelineID)
	if err != nil {
		return "", err
	}
	errs, err := s.orchestrator.ListErrors(ctx, pipelineID)
	if err != nil {
		return "", err
	}
	return BuildMarkdown(p, transitions, errs), nil
}

// PipelineHTML renders the pipeline report as an HTML fragment
func (s *Service) PipelineHTML(ctx context.Context, pipelineID string) (string, error) {
	markdown, err := s.PipelineMarkdown(ctx, pipelineID)
	if err != nil {
		return "", err
	}
	return RenderHTML(markdown)
}

// PipelinePDF renders the pipeline report as a PDF document
func (s *Service) PipelinePDF(ctx context.Context, pipelineID string) ([]byte, error) {
	markdown, err := s.PipelineMarkdown(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	data, err := RenderPDF(markdown)
	if err != nil {
		s.logger.Error().Err(err).Str("pipeline_id", pipelineID).Msg("Failed to render pipeline report")
		return nil, err
	}

	s.logger.Debug().
		Str("pipeline_id", pipelineID).
		Int("pdf_size", len(data)).
		Msg("Pipeline report rendered")
	return data, nil
}

// BuildMarkdown lays out a pipeline, its stage history and its error log
func BuildMarkdown(p *models.Pipeline, transitions []*models.PipelineTransition, errs []*models.PipelineError) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Order %s\n\n", p.OrderID)
	fmt.Fprintf(&b, "**Pipeline:** %s  \n", p.ID)
	fmt.Fprintf(&b, "**Brand:** %s  \n", p.BrandID)
	fmt.Fprintf(&b, "**Status:** %s  \n", p.Status)
	fmt.Fprintf(&b, "**Current stage:** %s (%d%%)  \n", p.CurrentStage, p.Progress)
	if p.StartedAt != nil {
		fmt.Fprintf(&b, "**Started:** %s  \n", formatTime(*p.StartedAt))
	}
	if p.CompletedAt != nil {
		fmt.Fprintf(&b, "**Completed:** %s  \n", formatTime(*p.CompletedAt))
	}
	if p.FailedStage != "" {
		fmt.Fprintf(&b, "**Failed at:** %s  \n", p.FailedStage)
	}
	if p.CancelReason != "" {
		fmt.Fprintf(&b, "**Cancelled:** %s  \n", escapeCell(p.CancelReason))
	}
	if p.Stalled {
		b.WriteString("**Stalled:** yes  \n")
	}

	b.WriteString("\n## Stage history\n\n")
	if len(transitions) == 0 {
		b.WriteString("No transitions recorded.\n")
	} else {
		b.WriteString("| When | From | To | Trigger |\n|---|---|---|---|\n")
		for _, t := range transitions {
			from := string(t.FromStage)
			if from == "" {
				from = "-"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", formatTime(t.CreatedAt), from, t.ToStage, t.TriggeredBy)
		}
	}

	b.WriteString("\n## Errors\n\n")
	if len(errs) == 0 {
		b.WriteString("No errors recorded.\n")
	} else {
		b.WriteString("| When | Stage | Retryable | Resolved | Error |\n|---|---|---|---|---|\n")
		for _, e := range errs {
			resolved := "no"
			if e.ResolvedAt != nil {
				resolved = formatTime(*e.ResolvedAt)
			}
			fmt.Fprintf(&b, "| %s | %s | %t | %s | %s |\n", formatTime(e.CreatedAt), e.Stage, e.Retryable, resolved, escapeCell(e.Error))
		}
	}

	return b.String()
}

// NotificationMarkdown summarizes an operator notification
func NotificationMarkdown(n *models.OperatorNotification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s: order %s\n\n", strings.ToUpper(n.Kind), n.OrderID)
	fmt.Fprintf(&b, "%s\n\n", n.Message)
	fmt.Fprintf(&b, "- Brand: %s\n- Stage: %s\n- Pipeline: %s\n", n.BrandID, n.Stage, n.PipelineID)
	return b.String()
}

// RenderHTML converts markdown to HTML with GitHub flavored extensions
func RenderHTML(markdown string) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown to HTML: %w", err)
	}
	return buf.String(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// escapeCell keeps free text from breaking a table row
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
