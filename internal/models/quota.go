package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Unlimited disables a quota dimension.
const Unlimited = -1

// QuotaDimension names a limit checked by the quota guard.
type QuotaDimension string

const (
	QuotaOrders              QuotaDimension = "orders"
	QuotaRenders             QuotaDimension = "renders"
	QuotaConcurrentPipelines QuotaDimension = "concurrent_pipelines"
)

// QuotaLimits are the per-plan limits. Each value is positive or Unlimited.
type QuotaLimits struct {
	MaxOrdersPerMonth      int `json:"max_orders_per_month" yaml:"max_orders_per_month" validate:"min=-1,ne=0"`
	MaxRendersPerMonth     int `json:"max_renders_per_month" yaml:"max_renders_per_month" validate:"min=-1,ne=0"`
	MaxConcurrentPipelines int `json:"max_concurrent_pipelines" yaml:"max_concurrent_pipelines" validate:"min=-1,ne=0"`
}

// Validate rejects zero and values below Unlimited.
func (l QuotaLimits) Validate() error {
	return validator.New().Struct(l)
}

// Limit returns the configured limit for a dimension.
func (l QuotaLimits) Limit(dimension QuotaDimension) int {
	switch dimension {
	case QuotaOrders:
		return l.MaxOrdersPerMonth
	case QuotaRenders:
		return l.MaxRendersPerMonth
	case QuotaConcurrentPipelines:
		return l.MaxConcurrentPipelines
	}
	return Unlimited
}

// QuotaUsage is a point-in-time usage snapshot for one tenant.
type QuotaUsage struct {
	BrandID string                 `json:"brand_id"`
	Plan    string                 `json:"plan"`
	Limits  QuotaLimits            `json:"limits"`
	Used    map[QuotaDimension]int `json:"used"`
}

// UsageMetric names a metered event.
type UsageMetric string

const (
	UsageOrders      UsageMetric = "orders"
	UsageRenders     UsageMetric = "renders"
	UsageProductions UsageMetric = "productions"
	UsageShipments   UsageMetric = "shipments"

	// UsageCompletedOrders is billing only; the orders quota counts admitted pipelines.
	UsageCompletedOrders UsageMetric = "completed_orders"
)

// UsageRecord is one metered unit written by the usage listener.
type UsageRecord struct {
	ID         string      `json:"id"`
	BrandID    string      `json:"brand_id" badgerhold:"index"`
	Metric     UsageMetric `json:"metric"`
	Quantity   int         `json:"quantity"`
	PipelineID string      `json:"pipeline_id,omitempty"`
	OrderID    string      `json:"order_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// usageNamespace seeds the deterministic ids of pipeline usage records.
var usageNamespace = uuid.MustParse("6f1c2b1e-3d4a-4c59-9a0e-7be2f0d3a811")

// NewUsageRecord creates a usage record stamped now. A record tied to a
// pipeline gets an id derived from the pipeline and metric, so each pipeline
// is metered at most once per metric.
func NewUsageRecord(brandID string, metric UsageMetric, quantity int, pipelineID, orderID string) *UsageRecord {
	id := uuid.New()
	if pipelineID != "" {
		id = uuid.NewSHA1(usageNamespace, []byte(pipelineID+"/"+string(metric)))
	}
	return &UsageRecord{
		ID:         id.String(),
		BrandID:    brandID,
		Metric:     metric,
		Quantity:   quantity,
		PipelineID: pipelineID,
		OrderID:    orderID,
		CreatedAt:  time.Now().UTC(),
	}
}

// MonthStart returns the first instant of the calendar month containing t, in UTC.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
