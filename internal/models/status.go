package models

// OrderStatus is the tenant-scoped read projection returned by the PCE orchestrator.
type OrderStatus struct {
	PipelineID       string           `json:"pipeline_id"`
	OrderID          string           `json:"order_id"`
	BrandID          string           `json:"brand_id"`
	Status           PipelineStatus   `json:"status"`
	CurrentStage     Stage            `json:"current_stage"`
	Progress         int              `json:"progress"`
	Stalled          bool             `json:"stalled"`
	LastError        string           `json:"last_error,omitempty"`
	UnresolvedErrors []*PipelineError `json:"unresolved_errors"`
	Pipeline         *Pipeline        `json:"-"`
}

// DashboardStats aggregates a tenant's pipelines.
type DashboardStats struct {
	BrandID        string                 `json:"brand_id"`
	Total          int                    `json:"total"`
	ByStatus       map[PipelineStatus]int `json:"by_status"`
	ByStage        map[Stage]int          `json:"by_stage"`
	Stalled        int                    `json:"stalled"`
	OpenAlerts     int                    `json:"open_alerts"`
	CompletionRate float64                `json:"completion_rate"`
	Usage          *QuotaUsage            `json:"usage,omitempty"`
}

// PipelineFilter narrows pipeline listings.
type PipelineFilter struct {
	BrandID string
	Status  PipelineStatus
	Limit   int
	Offset  int
}
