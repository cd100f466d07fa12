package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/mem"
	"gorm.io/gorm"
)

// Version is stamped by the build (ldflags); "dev" otherwise.
var Version = "dev"

type report struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Version   string         `json:"version"`
	Checks    map[string]any `json:"checks"`
}

func baseChecks() map[string]any {
	checks := map[string]any{
		"goroutines": runtime.NumGoroutine(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		checks["memory_used_percent"] = vm.UsedPercent
	}
	return checks
}

func writeReport(w http.ResponseWriter, status string, code int, checks map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		Checks:    checks,
	})
}

// RegisterRoutes — liveness only (no DB configured).
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w, "ok", http.StatusOK, baseChecks())
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		checks := baseChecks()
		checks["database"] = "not configured"
		writeReport(w, "ok", http.StatusOK, checks)
	}).Methods(http.MethodGet)
}

// RegisterRoutesWithDB — readiness includes a DB ping.
func RegisterRoutesWithDB(r *mux.Router, db *gorm.DB) {
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w, "ok", http.StatusOK, baseChecks())
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		checks := baseChecks()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			checks["database"] = "unreachable: " + err.Error()
			writeReport(w, "degraded", http.StatusServiceUnavailable, checks)
			return
		}
		checks["database"] = "ok"
		writeReport(w, "ok", http.StatusOK, checks)
	}).Methods(http.MethodGet)
}
