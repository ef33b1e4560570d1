package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

type mockOrchestrator struct {
	interfaces.PipelineOrchestrator
	mock.Mock
}

func (m *mockOrchestrator) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.Pipeline)
	return p, args.Error(1)
}

func (m *mockOrchestrator) ListTransitions(ctx context.Context, id string) ([]*models.PipelineTransition, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]*models.PipelineTransition), args.Error(1)
}

func (m *mockOrchestrator) ListErrors(ctx context.Context, id string) ([]*models.PipelineError, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]*models.PipelineError), args.Error(1)
}

func fixture() (*models.Pipeline, []*models.PipelineTransition, []*models.PipelineError) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	p := &models.Pipeline{
		ID:           "p-1",
		OrderID:      "order-1",
		BrandID:      "brand-A",
		CurrentStage: models.StageProduction,
		Status:       models.PipelineStatusFailed,
		Progress:     40,
		FailedStage:  models.StageProduction,
		StartedAt:    &at,
	}
	transitions := []*models.PipelineTransition{
		{PipelineID: "p-1", ToStage: models.StageOrderReceived, TriggeredBy: models.TriggerAutomatic, CreatedAt: at},
		{PipelineID: "p-1", FromStage: models.StageOrderReceived, ToStage: models.StageProduction, TriggeredBy: models.TriggerAutomatic, CreatedAt: at.Add(time.Minute)},
	}
	errs := []*models.PipelineError{
		{PipelineID: "p-1", Stage: models.StageProduction, Error: "printer | offline", CreatedAt: at.Add(2 * time.Minute)},
	}
	return p, transitions, errs
}

func TestBuildMarkdown(t *testing.T) {
	markdown := BuildMarkdown(fixture())

	assert.Contains(t, markdown, "# Order order-1")
	assert.Contains(t, markdown, "**Status:** FAILED")
	assert.Contains(t, markdown, "**Failed at:** PRODUCTION")
	assert.Contains(t, markdown, "| 2026-03-01 09:30:00 UTC | - | ORDER_RECEIVED |")
	assert.Contains(t, markdown, "| ORDER_RECEIVED | PRODUCTION |")
	assert.Contains(t, markdown, `printer \| offline`)
}

func TestBuildMarkdown_Empty(t *testing.T) {
	p, _, _ := fixture()
	markdown := BuildMarkdown(p, nil, nil)

	assert.Contains(t, markdown, "No transitions recorded.")
	assert.Contains(t, markdown, "No errors recorded.")
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(BuildMarkdown(fixture()))
	require.NoError(t, err)

	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<strong>Status:</strong>")
}

func TestRenderPDF(t *testing.T) {
	data, err := RenderPDF(BuildMarkdown(fixture()))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestService_PipelineReport(t *testing.T) {
	p, transitions, errs := fixture()
	orchestrator := &mockOrchestrator{}
	orchestrator.On("GetPipeline", mock.Anything, "p-1").Return(p, nil)
	orchestrator.On("ListTransitions", mock.Anything, "p-1").Return(transitions, nil)
	orchestrator.On("ListErrors", mock.Anything, "p-1").Return(errs, nil)
	orchestrator.On("GetPipeline", mock.Anything, "missing").Return(nil, models.ErrPipelineNotFound)

	service := NewService(orchestrator, arbor.NewNoOpLogger())
	ctx := context.Background()

	data, err := service.PipelinePDF(ctx, "p-1")
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	html, err := service.PipelineHTML(ctx, "p-1")
	require.NoError(t, err)
	assert.Contains(t, html, "order-1")

	_, err = service.PipelineMarkdown(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrPipelineNotFound)
}

func TestNotificationMarkdown(t *testing.T) {
	markdown := NotificationMarkdown(&models.OperatorNotification{
		Kind:       "alert",
		PipelineID: "p-1",
		OrderID:    "order-1",
		BrandID:    "brand-A",
		Stage:      models.StageRender,
		Message:    "render failed",
	})
	assert.Contains(t, markdown, "## ALERT: order order-1")
	assert.Contains(t, markdown, "- Stage: RENDER")
}
