package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/contact-tracker/internal/service"
)

// ContactHandler serves the account-scoped contact CRUD routes and stats.
//
// Every call passes the authenticated account ID down to the service, which
// passes it to the store. Another account's contact is indistinguishable
// from a missing one (404).
type ContactHandler struct {
	contacts *service.ContactService
	logger   *slog.Logger
}

// NewContactHandler creates a ContactHandler.
func NewContactHandler(contacts *service.ContactService, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{contacts: contacts, logger: logger}
}

type contactRequest struct {
	ExternalID int64    `json:"external_id"`
	Name       string   `json:"name"`
	Username   string   `json:"username"`
	Phone      string   `json:"phone"`
	Company    string   `json:"company"`
	Role       string   `json:"role"`
	Notes      string   `json:"notes"`
	Topics     []string `json:"topics"`
	EventTag   string   `json:"event_tag"`
}

type contactPatchRequest struct {
	Name     *string  `json:"name"`
	Username *string  `json:"username"`
	Phone    *string  `json:"phone"`
	Company  *string  `json:"company"`
	Role     *string  `json:"role"`
	Notes    *string  `json:"notes"`
	EventTag *string  `json:"event_tag"`
	Topics   []string `json:"topics"`
}

// HandleList returns one page of contacts, newest first.
//
// HTTP: GET /contacts?limit=20&offset=0
func (h *ContactHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", service.DefaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	contacts, err := h.contacts.List(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("failed to list contacts", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// HandleGetByID returns one contact.
//
// HTTP: GET /contacts/{id}
func (h *ContactHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := h.contacts.Get(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleCreate records a contact by hand.
//
// HTTP: POST /contacts
// REQUEST BODY: {"external_id": 123, "name": "Ann Lee", "company": "Acme"}
func (h *ContactHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	c, err := h.contacts.Create(r.Context(), id, service.ContactInput{
		ExternalID: req.ExternalID,
		Name:       req.Name,
		Username:   req.Username,
		Phone:      req.Phone,
		Company:    req.Company,
		Role:       req.Role,
		Notes:      req.Notes,
		Topics:     req.Topics,
		EventTag:   req.EventTag,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleUpdate applies a partial update.
//
// HTTP: PATCH /contacts/{id}
func (h *ContactHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req contactPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	c, err := h.contacts.Update(r.Context(), id, chi.URLParam(r, "id"), service.ContactPatch{
		Name:     req.Name,
		Username: req.Username,
		Phone:    req.Phone,
		Company:  req.Company,
		Role:     req.Role,
		Notes:    req.Notes,
		EventTag: req.EventTag,
		Topics:   req.Topics,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleDelete removes a contact from the store. Its spreadsheet row stays.
//
// HTTP: DELETE /contacts/{id}
func (h *ContactHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.contacts.Delete(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStats returns totals and the per-event breakdown.
//
// HTTP: GET /stats
func (h *ContactHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := h.contacts.Stats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
