package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/service"
)

// AuthHandler serves Telegram login and the account's own settings.
//
// HANDLER RESPONSIBILITIES:
//   - HandleTelegramLogin → verify WebApp init data, issue a bearer token
//   - HandleMe            → return the logged-in account
//   - HandleUpdateMe      → change spreadsheet, history size, auto-export, bot token
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type telegramLoginRequest struct {
	InitData string `json:"init_data"`
}

// TokenResponse follows the OAuth2 token response field names so generic
// clients can read it.
type TokenResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int64          `json:"expires_in"`
	Account     *model.Account `json:"account"`
}

// HandleTelegramLogin exchanges Telegram WebApp init data for a token.
//
// HTTP: POST /auth/telegram
// REQUEST BODY: {"init_data": "<window.Telegram.WebApp.initData>"}
func (h *AuthHandler) HandleTelegramLogin(w http.ResponseWriter, r *http.Request) {
	var req telegramLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.LoginTelegram(r.Context(), req.InitData)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: result.Token,
		TokenType:   "bearer",
		ExpiresIn:   int64(result.ExpiresIn.Seconds()),
		Account:     result.Account,
	})
}

// HandleMe returns the authenticated account.
//
// HTTP: GET /me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := h.auth.GetAccount(r.Context(), id)
	if err != nil {
		h.logger.Error("HandleMe: account lookup failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type settingsRequest struct {
	SpreadsheetID   *string `json:"spreadsheet_id"`
	InitialMessages *int    `json:"initial_messages"`
	AutoExport      *bool   `json:"auto_export"`
	BotToken        *string `json:"bot_token"`
}

// HandleUpdateMe applies a partial settings update. Absent fields are left
// alone; "bot_token": "" removes the account's bot.
//
// HTTP: PATCH /me
func (h *AuthHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.auth.UpdateSettings(r.Context(), id, service.SettingsPatch{
		SpreadsheetID:   req.SpreadsheetID,
		InitialMessages: req.InitialMessages,
		AutoExport:      req.AutoExport,
		BotToken:        req.BotToken,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
