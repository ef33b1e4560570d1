package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// Guard performs quota admission checks. Counts are read without a lock, so
// concurrent admissions may overshoot a limit by a few units.
type Guard struct {
	plans     interfaces.PlanResolver
	pipelines interfaces.PipelineStorage
	usage     interfaces.UsageStorage
	logger    arbor.ILogger
	now       func() time.Time
}

var _ interfaces.QuotaChecker = (*Guard)(nil)

// NewGuard creates a new quota guard
func NewGuard(plans interfaces.PlanResolver, pipelines interfaces.PipelineStorage, usage interfaces.UsageStorage, logger arbor.ILogger) *Guard {
	return &Guard{
		plans:     plans,
		pipelines: pipelines,
		usage:     usage,
		logger:    logger,
		now:       time.Now,
	}
}

func allDimensions() []models.QuotaDimension {
	return []models.QuotaDimension{
		models.QuotaOrders,
		models.QuotaRenders,
		models.QuotaConcurrentPipelines,
	}
}

// Check returns a *models.QuotaExceededError for the first dimension at or
// over its limit. With no dimensions every dimension is checked.
func (g *Guard) Check(ctx context.Context, brandID string, dimensions ...models.QuotaDimension) error {
	if len(dimensions) == 0 {
		dimensions = allDimensions()
	}

	plan, limits, err := g.plans.ResolvePlan(ctx, brandID)
	if err != nil {
		return err
	}

	for _, dimension := range dimensions {
		limit := limits.Limit(dimension)
		if limit == models.Unlimited {
			continue
		}

		used, err := g.used(ctx, brandID, dimension)
		if err != nil {
			return err
		}
		if used >= limit {
			g.logger.Warn().
				Str("brand_id", brandID).
				Str("plan", plan).
				Str("dimension", string(dimension)).
				Int("used", used).
				Int("limit", limit).
				Msg("Quota exceeded")
			return &models.QuotaExceededError{BrandID: brandID, Dimension: dimension, Limit: limit, Used: used}
		}
	}
	return nil
}

// Usage returns the tenant's plan and current counts for every dimension
func (g *Guard) Usage(ctx context.Context, brandID string) (*models.QuotaUsage, error) {
	plan, limits, err := g.plans.ResolvePlan(ctx, brandID)
	if err != nil {
		return nil, err
	}

	usage := &models.QuotaUsage{
		BrandID: brandID,
		Plan:    plan,
		Limits:  limits,
		Used:    make(map[models.QuotaDimension]int, 3),
	}
	for _, dimension := range allDimensions() {
		used, err := g.used(ctx, brandID, dimension)
		if err != nil {
			return nil, err
		}
		usage.Used[dimension] = used
	}
	return usage, nil
}

func (g *Guard) used(ctx context.Context, brandID string, dimension models.QuotaDimension) (int, error) {
	since := models.MonthStart(g.now())

	switch dimension {
	case models.QuotaOrders:
		return g.pipelines.CountPipelinesCreatedSince(ctx, brandID, since)
	case models.QuotaRenders:
		return g.usage.SumUsage(ctx, brandID, models.UsageRenders, since)
	case models.QuotaConcurrentPipelines:
		return g.pipelines.CountPipelines(ctx, brandID, models.PipelineStatusInProgress)
	}
	return 0, fmt.Errorf("%w: unknown quota dimension %q", models.ErrInvalidRequest, dimension)
}
