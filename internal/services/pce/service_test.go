package pce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/queue"
	"github.com/ternarybob/pce/internal/services/events"
	"github.com/ternarybob/pce/internal/services/pipeline"
	"github.com/ternarybob/pce/internal/services/quota"
	badgerstore "github.com/ternarybob/pce/internal/storage/badger"
)

type harness struct {
	service      *Service
	orchestrator *pipeline.Orchestrator
	resolver     *quota.ConfigResolver
	usage        interfaces.UsageStorage
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := arbor.NewNoOpLogger()

	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pipelines := badgerstore.NewPipelineStorage(db, logger)
	usage := badgerstore.NewUsageStorage(db, logger)

	queues := queue.NewManager(logger, queue.NewDefaultConfig(), models.AllQueueNames()...)
	t.Cleanup(func() { _ = queues.Close() })

	orchestrator := pipeline.NewOrchestrator(pipelines, queues, events.NewService(logger), pipeline.NewDefaultConfig(), logger)

	resolver, err := quota.NewConfigResolver(&common.QuotaConfig{
		DefaultPlan: "starter",
		Tenants:     map[string]string{"brand-big": "enterprise"},
	}, logger)
	require.NoError(t, err)
	guard := quota.NewGuard(resolver, pipelines, usage, logger)

	return &harness{
		service:      NewService(orchestrator, pipelines, usage, guard, logger),
		orchestrator: orchestrator,
		resolver:     resolver,
		usage:        usage,
	}
}

func order(orderID, brandID string) interfaces.ProcessOrderRequest {
	return interfaces.ProcessOrderRequest{OrderID: orderID, BrandID: brandID}
}

func TestProcessOrder_StartsPipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := order("order-1", "brand-A")
	req.Options = interfaces.ProcessOrderOptions{Priority: "high", Source: "shopify", RequiresRender: true}

	p, err := h.service.ProcessOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StageOrderReceived, p.CurrentStage)
	assert.Equal(t, "high", p.Metadata["priority"])
	assert.Equal(t, "shopify", p.Metadata["source"])
	assert.Equal(t, "true", p.Metadata["requires_render"])

	records, err := h.usage.ListUsage(ctx, "brand-A", models.MonthStart(p.CreatedAt))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.UsageOrders, records[0].Metric)

	_, err = h.service.ProcessOrder(ctx, order("order-1", "brand-A"))
	assert.ErrorIs(t, err, models.ErrDuplicatePipeline)
}

func TestProcessOrder_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  interfaces.ProcessOrderRequest
	}{
		{"missing order", order("", "brand-A")},
		{"missing brand", order("order-1", "")},
		{"unknown priority", interfaces.ProcessOrderRequest{
			OrderID: "order-1",
			BrandID: "brand-A",
			Options: interfaces.ProcessOrderOptions{Priority: "urgent"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.service.ProcessOrder(ctx, tt.req)
			assert.ErrorIs(t, err, models.ErrInvalidRequest)
		})
	}
}

func TestProcessOrder_QuotaCheckedBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// starter allows 5 concurrent pipelines
	for i := 0; i < 5; i++ {
		_, err := h.service.ProcessOrder(ctx, order("order-"+string(rune('a'+i)), "brand-A"))
		require.NoError(t, err)
	}

	_, err := h.service.ProcessOrder(ctx, order("order-over", "brand-A"))
	require.ErrorIs(t, err, models.ErrQuotaExceeded)
	var exceeded *models.QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, models.QuotaConcurrentPipelines, exceeded.Dimension)

	_, err = h.orchestrator.GetPipelineByOrder(ctx, "order-over")
	assert.ErrorIs(t, err, models.ErrPipelineNotFound)

	// Unlimited tenants are never rejected
	for i := 0; i < 8; i++ {
		_, err := h.service.ProcessOrder(ctx, order("big-"+string(rune('a'+i)), "brand-big"))
		require.NoError(t, err)
	}
}

func TestGetOrderStatus_TenantScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.service.ProcessOrder(ctx, order("order-1", "brand-A"))
	require.NoError(t, err)
	_, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "commerce timeout", true)
	require.NoError(t, err)

	status, err := h.service.GetOrderStatus(ctx, "order-1", "brand-A")
	require.NoError(t, err)
	assert.Equal(t, p.ID, status.PipelineID)
	assert.Equal(t, models.PipelineStatusInProgress, status.Status)
	assert.Equal(t, models.StageOrderReceived, status.CurrentStage)
	assert.Equal(t, "commerce timeout", status.LastError)
	assert.Len(t, status.UnresolvedErrors, 1)

	_, err = h.service.GetOrderStatus(ctx, "order-1", "brand-B")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.service.GetOrderStatus(ctx, "order-missing", "brand-A")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetOrderStatus_LastErrorIgnoresResolved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.service.ProcessOrder(ctx, order("order-1", "brand-A"))
	require.NoError(t, err)
	_, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "commerce timeout", true)
	require.NoError(t, err)
	_, err = h.orchestrator.RetryStage(ctx, p.ID)
	require.NoError(t, err)

	status, err := h.service.GetOrderStatus(ctx, "order-1", "brand-A")
	require.NoError(t, err)
	assert.Empty(t, status.LastError)
	assert.Empty(t, status.UnresolvedErrors)

	_, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "commerce rate limited", true)
	require.NoError(t, err)

	status, err = h.service.GetOrderStatus(ctx, "order-1", "brand-A")
	require.NoError(t, err)
	assert.Equal(t, "commerce rate limited", status.LastError)
}

func TestDashboardStatsAndAlerts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	done, err := h.service.ProcessOrder(ctx, order("order-1", "brand-A"))
	require.NoError(t, err)
	completed := models.StageCompleted
	_, err = h.orchestrator.AdvanceStage(ctx, done.ID, &completed, models.TriggerManual)
	require.NoError(t, err)

	broken, err := h.service.ProcessOrder(ctx, order("order-2", "brand-A"))
	require.NoError(t, err)
	_, err = h.orchestrator.HandleStageFailed(ctx, broken.ID, models.StageOrderReceived, "invalid address", false)
	require.NoError(t, err)

	active, err := h.service.ProcessOrder(ctx, order("order-3", "brand-A"))
	require.NoError(t, err)
	_, err = h.orchestrator.AdvanceStage(ctx, active.ID, nil, models.TriggerAutomatic)
	require.NoError(t, err)

	_, err = h.service.ProcessOrder(ctx, order("order-4", "brand-B"))
	require.NoError(t, err)

	stats, err := h.service.GetDashboardStats(ctx, "brand-A")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.PipelineStatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[models.PipelineStatusFailed])
	assert.Equal(t, 1, stats.ByStatus[models.PipelineStatusInProgress])
	assert.Equal(t, 1, stats.ByStage[models.StageRender])
	assert.Equal(t, 1, stats.OpenAlerts)
	assert.InDelta(t, 0.5, stats.CompletionRate, 0.001)
	require.NotNil(t, stats.Usage)
	assert.Equal(t, "starter", stats.Usage.Plan)
	assert.Equal(t, 3, stats.Usage.Used[models.QuotaOrders])

	alerts, err := h.service.ListAlerts(ctx, "brand-A")
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	_, err = h.service.ResolveAlert(ctx, "brand-B", alerts[0].ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	resolved, err := h.service.ResolveAlert(ctx, "brand-A", alerts[0].ID)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved())

	alerts, err = h.service.ListAlerts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// Resolving an alert does not revive the pipeline
	p, err := h.orchestrator.GetPipeline(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusFailed, p.Status)
}
