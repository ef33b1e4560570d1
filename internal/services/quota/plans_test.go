package quota

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/models"
)

func writePlans(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultPlans(t *testing.T) {
	plans := DefaultPlans()

	require.Contains(t, plans, "starter")
	assert.Equal(t, 100, plans["starter"].MaxOrdersPerMonth)
	assert.Equal(t, 5, plans["starter"].MaxConcurrentPipelines)
	assert.Equal(t, models.Unlimited, plans["enterprise"].MaxRendersPerMonth)

	for name, limits := range plans {
		assert.NoError(t, limits.Validate(), name)
	}
}

func TestLoadPlans_MergesOverDefaults(t *testing.T) {
	path := writePlans(t, `
plans:
  starter:
    max_orders_per_month: 150
    max_renders_per_month: 120
    max_concurrent_pipelines: 8
  pilot:
    max_orders_per_month: 10
    max_renders_per_month: -1
    max_concurrent_pipelines: 1
`)

	plans, err := LoadPlans(path)
	require.NoError(t, err)
	assert.Equal(t, 150, plans["starter"].MaxOrdersPerMonth)
	assert.Equal(t, models.Unlimited, plans["pilot"].MaxRendersPerMonth)
	assert.Contains(t, plans, "business")
}

func TestLoadPlans_Errors(t *testing.T) {
	_, err := LoadPlans(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadPlans(writePlans(t, "plans: [not, a, map]"))
	assert.Error(t, err)

	_, err = LoadPlans(writePlans(t, `
plans:
  broken:
    max_orders_per_month: 0
    max_renders_per_month: 10
    max_concurrent_pipelines: 1
`))
	assert.Error(t, err)
}

func TestConfigResolver(t *testing.T) {
	config := &common.QuotaConfig{
		DefaultPlan: "starter",
		Tenants:     map[string]string{"brand-big": "enterprise"},
	}
	resolver, err := NewConfigResolver(config, arbor.NewNoOpLogger())
	require.NoError(t, err)
	ctx := context.Background()

	plan, limits, err := resolver.ResolvePlan(ctx, "brand-small")
	require.NoError(t, err)
	assert.Equal(t, "starter", plan)
	assert.Equal(t, 100, limits.MaxOrdersPerMonth)

	plan, _, err = resolver.ResolvePlan(ctx, "brand-big")
	require.NoError(t, err)
	assert.Equal(t, "enterprise", plan)

	require.NoError(t, resolver.AssignPlan("brand-small", "business"))
	plan, _, err = resolver.ResolvePlan(ctx, "brand-small")
	require.NoError(t, err)
	assert.Equal(t, "business", plan)

	assert.ErrorIs(t, resolver.AssignPlan("brand-small", "platinum"), models.ErrUnknownPlan)
}

func TestConfigResolver_RejectsUnknownPlans(t *testing.T) {
	_, err := NewConfigResolver(&common.QuotaConfig{DefaultPlan: "free"}, arbor.NewNoOpLogger())
	assert.ErrorIs(t, err, models.ErrUnknownPlan)

	_, err = NewConfigResolver(&common.QuotaConfig{
		DefaultPlan: "starter",
		Tenants:     map[string]string{"brand-A": "gold"},
	}, arbor.NewNoOpLogger())
	assert.ErrorIs(t, err, models.ErrUnknownPlan)
}
