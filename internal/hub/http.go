package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/noalbs/noalbs/internal/eventlog"
	"github.com/noalbs/noalbs/internal/sessionhistory"
	"github.com/noalbs/noalbs/internal/state"
)

var startTime = time.Now()

// Version is overridden via ldflags at build time (-X ...Version=x.y.z).
var Version = "dev"

// NewRouter builds the admin HTTP API, wrapped in acl's Middleware.
func NewRouter(h *Hub, acl *ACL) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.handleHealth)
	mux.HandleFunc("GET /api/v1/metrics", h.handleMetrics)
	mux.HandleFunc("GET /api/v1/users", h.handleUsers)
	mux.HandleFunc("GET /api/v1/users/{name}", h.handleUser)
	mux.HandleFunc("GET /api/v1/users/{name}/events", h.handleUserEvents)
	mux.HandleFunc("GET /api/v1/users/{name}/sessions", h.handleUserSessions)
	mux.HandleFunc("GET /api/v1/config/effective", h.handleConfigEffective)

	return acl.Middleware(mux)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(startTime)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var lastPauseMs float64
	if mem.NumGC > 0 {
		lastPauseMs = float64(mem.PauseNs[(mem.NumGC+255)%256]) / 1e6
	}

	host := h.HostStats()
	resp := HealthResponse{
		Status:  "ok",
		Uptime:  uptime.String(),
		Version: Version,
		Go:      runtime.Version(),
		Stats: &ServerStats{
			GoRoutines:        runtime.NumGoroutine(),
			HeapAllocMB:       float64(mem.HeapAlloc) / (1024 * 1024),
			HeapSysMB:         float64(mem.HeapSys) / (1024 * 1024),
			GCPauseMs:         lastPauseMs,
			GCCycles:          mem.NumGC,
			CPUCores:          runtime.NumCPU(),
			HostCPUPercent:    host.CPUPercent,
			HostMemoryPercent: host.MemoryPercent,
			HostDiskPercent:   host.DiskUsagePercent,
			HostLoadAverage:   host.LoadAverage,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func userStatus(name string, sw state.SwitcherState, bsw state.BroadcastingSoftwareState) UserStatus {
	u := UserStatus{
		User:          name,
		CurrentScene:  bsw.CurrentScene,
		PrevScene:     bsw.PrevScene,
		IsStreaming:   bsw.IsStreaming,
		IsConnected:   bsw.IsConnected,
		LowRetryCount: sw.LowRetryCount,
	}
	if sw.HasLastScene {
		u.LastScene = sw.LastScene
	}
	if sw.HasSwitchReason {
		reason := string(sw.LastSwitchReason)
		u.LastSwitchReason = &reason
	}
	return u
}

func (h *Hub) handleUsers(w http.ResponseWriter, r *http.Request) {
	names := h.UserNames()
	out := make([]UserStatus, 0, len(names))
	for _, name := range names {
		sup, ok := h.Get(name)
		if !ok {
			continue
		}
		status := sup.Status()
		out = append(out, userStatus(name, status.Switcher, status.Broadcaster))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Hub) handleUser(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sup, ok := h.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	status := sup.Status()
	writeJSON(w, http.StatusOK, userStatus(name, status.Switcher, status.Broadcaster))
}

func (h *Hub) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	store, ok := h.events(name)
	if !ok {
		writeJSON(w, http.StatusOK, []eventlog.Entry{})
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	writeJSON(w, http.StatusOK, store.Recent(limit))
}

func (h *Hub) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	store, ok := h.history(name)
	if !ok {
		writeJSON(w, http.StatusOK, []sessionhistory.Entry{})
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	writeJSON(w, http.StatusOK, store.Recent(limit))
}

func (h *Hub) handleConfigEffective(w http.ResponseWriter, r *http.Request) {
	names := h.UserNames()
	out := make([]UserConfigEffective, 0, len(names))
	for _, name := range names {
		sup, ok := h.Get(name)
		if !ok {
			continue
		}
		cfg := sup.Config()

		serverNames := make([]string, 0, len(cfg.Switcher.StreamServers))
		for _, e := range cfg.Switcher.StreamServers {
			serverNames = append(serverNames, e.Name)
		}

		platform := ""
		if cfg.Chat != nil {
			platform = cfg.Chat.Platform.Kind
		}

		out = append(out, UserConfigEffective{
			User:                   cfg.User.Name,
			SoftwareKind:           cfg.Software.Kind,
			BitrateSwitcherEnabled: cfg.Switcher.BitrateSwitcherEnabled,
			SwitchingScenes: Scenes{
				Normal:  cfg.Switcher.SwitchingScenes.Normal,
				Low:     cfg.Switcher.SwitchingScenes.Low,
				Offline: cfg.Switcher.SwitchingScenes.Offline,
			},
			StreamServers: serverNames,
			ChatPlatform:  platform,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMetrics exposes Prometheus text format without client_golang,
// matching the teacher's makePrometheusHandler.
func (h *Hub) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "# HELP noalbs_runtime_goroutines Number of live goroutines.\n")
	fmt.Fprintf(w, "# TYPE noalbs_runtime_goroutines gauge\n")
	fmt.Fprintf(w, "noalbs_runtime_goroutines %d\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP noalbs_runtime_heap_alloc_bytes Bytes of allocated heap objects.\n")
	fmt.Fprintf(w, "# TYPE noalbs_runtime_heap_alloc_bytes gauge\n")
	fmt.Fprintf(w, "noalbs_runtime_heap_alloc_bytes %d\n", mem.HeapAlloc)

	host := h.HostStats()
	fmt.Fprintf(w, "# HELP noalbs_host_cpu_percent Host CPU utilization percentage.\n")
	fmt.Fprintf(w, "# TYPE noalbs_host_cpu_percent gauge\n")
	fmt.Fprintf(w, "noalbs_host_cpu_percent %f\n", host.CPUPercent)
	fmt.Fprintf(w, "# HELP noalbs_host_memory_percent Host memory utilization percentage.\n")
	fmt.Fprintf(w, "# TYPE noalbs_host_memory_percent gauge\n")
	fmt.Fprintf(w, "noalbs_host_memory_percent %f\n", host.MemoryPercent)

	fmt.Fprintf(w, "# HELP noalbs_low_retry_count Consecutive degraded-sample count per user.\n")
	fmt.Fprintf(w, "# TYPE noalbs_low_retry_count gauge\n")
	fmt.Fprintf(w, "# HELP noalbs_current_scene_info Current scene per user (value is always 1; scene is a label).\n")
	fmt.Fprintf(w, "# TYPE noalbs_current_scene_info gauge\n")
	fmt.Fprintf(w, "# HELP noalbs_is_streaming Whether the user's broadcaster is currently streaming.\n")
	fmt.Fprintf(w, "# TYPE noalbs_is_streaming gauge\n")
	fmt.Fprintf(w, "# HELP noalbs_is_connected Whether the user's broadcaster connection is up.\n")
	fmt.Fprintf(w, "# TYPE noalbs_is_connected gauge\n")

	for _, name := range h.UserNames() {
		sup, ok := h.Get(name)
		if !ok {
			continue
		}
		status := sup.Status()

		fmt.Fprintf(w, "noalbs_low_retry_count{user=%q} %d\n", name, status.Switcher.LowRetryCount)
		fmt.Fprintf(w, "noalbs_current_scene_info{user=%q,scene=%q} 1\n", name, status.Broadcaster.CurrentScene)
		fmt.Fprintf(w, "noalbs_is_streaming{user=%q} %d\n", name, boolToInt(status.Broadcaster.IsStreaming))
		fmt.Fprintf(w, "noalbs_is_connected{user=%q} %d\n", name, boolToInt(status.Broadcaster.IsConnected))
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return defaultVal
	}
	return v
}
