package handlers

import (
	"context"
	"log/slog"
	"net/http"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseHealth is satisfied by *database.DB.
type DatabaseHealth interface {
	HealthCheck(ctx context.Context) error
	Stats() *pgxpool.Stat
}

type HealthHandler struct {
	db     DatabaseHealth
	logger *slog.Logger
}

func NewHealthHandler(db DatabaseHealth, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

type PoolStats struct {
	TotalConns    int32 `json:"totalConns"`
	IdleConns     int32 `json:"idleConns"`
	AcquiredConns int32 `json:"acquiredConns"`
	MaxConns      int32 `json:"maxConns"`
}

type HealthResponse struct {
	Status   string     `json:"status"`
	Database string     `json:"database"`
	Pool     *PoolStats `json:"pool,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Database: "down"})
		return
	}

	resp := HealthResponse{Status: "healthy", Database: "up"}
	if stat := h.db.Stats(); stat != nil {
		resp.Pool = &PoolStats{
			TotalConns:    stat.TotalConns(),
			IdleConns:     stat.IdleConns(),
			AcquiredConns: stat.AcquiredConns(),
			MaxConns:      stat.MaxConns(),
		}
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
