package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/contact-tracker/internal/service"
)

// ExportHandler triggers a mirror reconciliation for the caller's account.
type ExportHandler struct {
	exports *service.ExportService
	auth    *service.AuthService
	logger  *slog.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(exports *service.ExportService, auth *service.AuthService, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{exports: exports, auth: auth, logger: logger}
}

// HandleExport appends missing contacts to the spreadsheet.
//
// HTTP: POST /export
// RESPONSE: {"appended": 2, "total": 10, "url": "https://docs.google.com/..."}
//
// With no spreadsheet configured the response is 400 not_configured.
func (h *ExportHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := h.auth.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.exports.Sync(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Pinger reports store liveness.
type Pinger interface {
	Ping() error
}

// HealthHandler answers load-balancer health checks.
type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// HandleHealth returns 200 when the store answers and 503 otherwise.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
