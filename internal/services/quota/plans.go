package quota

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/models"
)

// DefaultPlans is the built-in plan catalog
func DefaultPlans() map[string]models.QuotaLimits {
	return map[string]models.QuotaLimits{
		"starter": {
			MaxOrdersPerMonth:      100,
			MaxRendersPerMonth:     100,
			MaxConcurrentPipelines: 5,
		},
		"professional": {
			MaxOrdersPerMonth:      500,
			MaxRendersPerMonth:     500,
			MaxConcurrentPipelines: 20,
		},
		"business": {
			MaxOrdersPerMonth:      2000,
			MaxRendersPerMonth:     2000,
			MaxConcurrentPipelines: 50,
		},
		"enterprise": {
			MaxOrdersPerMonth:      models.Unlimited,
			MaxRendersPerMonth:     models.Unlimited,
			MaxConcurrentPipelines: models.Unlimited,
		},
	}
}

// planFile is the YAML layout of a plan catalog override:
//
//	plans:
//	  starter:
//	    max_orders_per_month: 150
type planFile struct {
	Plans map[string]models.QuotaLimits `yaml:"plans"`
}

// LoadPlans reads a YAML plan catalog and merges it over DefaultPlans
func LoadPlans(path string) (map[string]models.QuotaLimits, error) {
	plans := DefaultPlans()
	if path == "" {
		return plans, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file %s: %w", path, err)
	}

	var file planFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans file %s: %w", path, err)
	}

	for name, limits := range file.Plans {
		if err := limits.Validate(); err != nil {
			return nil, fmt.Errorf("invalid limits for plan %s: %w", name, err)
		}
		plans[name] = limits
	}
	return plans, nil
}

// ConfigResolver resolves tenants to plans from configuration. Tenants
// without an explicit assignment get the default plan.
type ConfigResolver struct {
	mu          sync.RWMutex
	plans       map[string]models.QuotaLimits
	tenants     map[string]string
	defaultPlan string
	logger      arbor.ILogger
}

// NewConfigResolver builds a resolver from the quota config section
func NewConfigResolver(config *common.QuotaConfig, logger arbor.ILogger) (*ConfigResolver, error) {
	plans, err := LoadPlans(config.PlansFile)
	if err != nil {
		return nil, err
	}

	r := &ConfigResolver{
		plans:       plans,
		tenants:     make(map[string]string, len(config.Tenants)),
		defaultPlan: config.DefaultPlan,
		logger:      logger,
	}

	if _, ok := plans[r.defaultPlan]; !ok {
		return nil, fmt.Errorf("%w: default plan %q", models.ErrUnknownPlan, r.defaultPlan)
	}
	for brandID, plan := range config.Tenants {
		if _, ok := plans[plan]; !ok {
			return nil, fmt.Errorf("%w: %q assigned to %s", models.ErrUnknownPlan, plan, brandID)
		}
		r.tenants[brandID] = plan
	}

	logger.Info().
		Strs("plans", r.PlanNames()).
		Str("default_plan", r.defaultPlan).
		Int("tenants", len(r.tenants)).
		Msg("Quota plans loaded")

	return r, nil
}

func (r *ConfigResolver) ResolvePlan(ctx context.Context, brandID string) (string, models.QuotaLimits, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plan, ok := r.tenants[brandID]
	if !ok {
		plan = r.defaultPlan
	}
	limits, ok := r.plans[plan]
	if !ok {
		return "", models.QuotaLimits{}, fmt.Errorf("%w: %q", models.ErrUnknownPlan, plan)
	}
	return plan, limits, nil
}

// AssignPlan moves a tenant to another plan
func (r *ConfigResolver) AssignPlan(brandID, plan string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plans[plan]; !ok {
		return fmt.Errorf("%w: %q", models.ErrUnknownPlan, plan)
	}
	r.tenants[brandID] = plan
	r.logger.Info().Str("brand_id", brandID).Str("plan", plan).Msg("Tenant plan assigned")
	return nil
}

// PlanNames returns the catalog's plan names, sorted
func (r *ConfigResolver) PlanNames() []string {
	names := make([]string, 0, len(r.plans))
	for name := range r.plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
