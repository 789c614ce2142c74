package domain

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// SyncMetrics is returned by GET /v1/metrics/sync.
type SyncMetrics struct {
	TotalSyncs      int64   `json:"totalSyncs"`
	Succeeded       int64   `json:"succeeded"`
	Failed          int64   `json:"failed"`
	Skipped         int64   `json:"skipped"`
	PartialWarnings int64   `json:"partialWarnings"`
	SuccessRate     float64 `json:"successRate"`
	Period          string  `json:"period"`
}
