package hub

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status  string       `json:"status"`
	Uptime  string       `json:"uptime"`
	Version string       `json:"version"`
	Go      string       `json:"go"`
	Stats   *ServerStats `json:"stats,omitempty"`
}

// ServerStats reports process runtime metrics.
type ServerStats struct {
	GoRoutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	HeapSysMB   float64 `json:"heap_sys_mb"`
	GCPauseMs   float64 `json:"gc_pause_ms"`
	GCCycles    uint32  `json:"gc_cycles"`
	CPUCores    int     `json:"cpu_cores"`

	HostCPUPercent    float64 `json:"host_cpu_percent,omitempty"`
	HostMemoryPercent float64 `json:"host_memory_percent,omitempty"`
	HostDiskPercent   float64 `json:"host_disk_percent,omitempty"`
	HostLoadAverage   float64 `json:"host_load_average,omitempty"`
}

// UserStatus is the per-user switcher/broadcaster snapshot returned by
// GET /api/v1/users and /api/v1/users/{name}.
type UserStatus struct {
	User             string  `json:"user"`
	CurrentScene     string  `json:"current_scene"`
	PrevScene        string  `json:"prev_scene"`
	IsStreaming      bool    `json:"is_streaming"`
	IsConnected      bool    `json:"is_connected"`
	LowRetryCount    int     `json:"low_retry_count"`
	LastScene        string  `json:"last_scene,omitempty"`
	LastSwitchReason *string `json:"last_switch_reason,omitempty"`
}

// UserConfigEffective is the sanitized per-user config dump returned by
// GET /api/v1/config/effective: no password hashes, no OAuth tokens.
type UserConfigEffective struct {
	User                   string   `json:"user"`
	SoftwareKind           string   `json:"software_kind"`
	BitrateSwitcherEnabled bool     `json:"bitrate_switcher_enabled"`
	SwitchingScenes        Scenes   `json:"switching_scenes"`
	StreamServers          []string `json:"stream_server_names"`
	ChatPlatform           string   `json:"chat_platform,omitempty"`
}

// Scenes is the normal/low/offline scene triple.
type Scenes struct {
	Normal  string `json:"normal"`
	Low     string `json:"low"`
	Offline string `json:"offline"`
}
