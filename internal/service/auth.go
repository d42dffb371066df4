package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/auth"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
)

const (
	MinInitialMessages = 1
	MaxInitialMessages = 50
)

// Trackers starts and stops the per-account bot listeners. It is satisfied
// by *tracker.Manager; the service only needs these two calls.
type Trackers interface {
	Start(account *model.Account, botToken string) error
	Stop(accountID string)
}

// AuthService turns Telegram WebApp init data into an account and a JWT,
// and manages account settings.
//
//	AuthHandler (HTTP) → AuthService → AccountRepository (DB)
//	                   ↘ InitDataVerifier, TokenService, Sealer
type AuthService struct {
	accounts repository.AccountRepository
	verifier *auth.InitDataVerifier
	tokens   *auth.TokenService
	sealer   *auth.Sealer
	trackers Trackers
	logger   *slog.Logger
}

// NewAuthService wires the service. sealer and trackers may be nil; setting
// a bot token then fails with apperror.ErrUnavailable.
func NewAuthService(
	accounts repository.AccountRepository,
	verifier *auth.InitDataVerifier,
	tokens *auth.TokenService,
	sealer *auth.Sealer,
	trackers Trackers,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		verifier: verifier,
		tokens:   tokens,
		sealer:   sealer,
		trackers: trackers,
		logger:   logger,
	}
}

// AuthResult bundles the account and its access token.
type AuthResult struct {
	Account   *model.Account
	Token     string
	ExpiresIn time.Duration
}

// LoginTelegram verifies init data, upserts the account (first login
// creates it, later logins refresh the profile) and issues a token.
func (s *AuthService) LoginTelegram(ctx context.Context, initData string) (*AuthResult, error) {
	if strings.TrimSpace(initData) == "" {
		return nil, apperror.ValidationFailed("init_data", "init_data is required")
	}

	user, err := s.verifier.Verify(initData)
	if err != nil {
		s.logger.Warn("telegram login rejected", slog.String("error", err.Error()))
		return nil, err
	}
	if user.IsBot {
		return nil, apperror.Unauthorized("bots cannot log in")
	}

	account := &model.Account{
		TelegramID: user.ID,
		Username:   user.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
	}
	if err := s.accounts.UpsertAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("service/auth: upserting account (telegramID=%d): %w", user.ID, err)
	}

	s.logger.Info("account authenticated via Telegram",
		slog.String("account_id", account.ID),
		slog.String("username", account.Username),
	)

	token, err := s.tokens.Generate(account.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for account %s: %w", account.ID, err)
	}

	return &AuthResult{
		Account:   account,
		Token:     token,
		ExpiresIn: s.tokens.Expiry(),
	}, nil
}

// GetAccount returns the account behind a validated token.
func (s *AuthService) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if id == "" {
		return nil, apperror.Unauthorized("no account in token")
	}
	return s.accounts.GetAccount(ctx, id)
}

// SettingsPatch is a partial settings update; nil fields are unchanged.
// An empty BotToken removes the account's bot.
type SettingsPatch struct {
	SpreadsheetID   *string
	InitialMessages *int
	AutoExport      *bool
	BotToken        *string
}

// UpdateSettings validates and saves settings. A new bot token is sealed
// before it is stored; the plaintext is never persisted. The token's
// tracker is started first and the settings are saved only once Telegram
// has accepted it, so a rejected token leaves the stored account and its
// running bot as they were.
func (s *AuthService) UpdateSettings(ctx context.Context, id string, p SettingsPatch) (*model.Account, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.SpreadsheetID != nil {
		sid := strings.TrimSpace(*p.SpreadsheetID)
		if len(sid) > MaxFieldLength {
			return nil, apperror.ValidationFailed("spreadsheet_id", "spreadsheet_id is too long")
		}
		account.SpreadsheetID = sid
	}
	if p.InitialMessages != nil {
		n := *p.InitialMessages
		if n < MinInitialMessages || n > MaxInitialMessages {
			return nil, apperror.ValidationFailed("initial_messages",
				fmt.Sprintf("initial_messages must be between %d and %d", MinInitialMessages, MaxInitialMessages))
		}
		account.InitialMessages = n
	}
	if p.AutoExport != nil {
		account.AutoExport = *p.AutoExport
	}

	var newToken string
	if p.BotToken != nil {
		newToken = strings.TrimSpace(*p.BotToken)
		if newToken == "" {
			account.BotTokenSealed = ""
		} else {
			if s.sealer == nil || s.trackers == nil {
				return nil, apperror.Unavailable("per-account bots are not enabled on this server")
			}
			if !looksLikeBotToken(newToken) {
				return nil, apperror.ValidationFailed("bot_token", "bot_token must look like <id>:<secret>")
			}
			sealed, err := s.sealer.Seal(newToken)
			if err != nil {
				return nil, fmt.Errorf("service/auth: sealing bot token: %w", err)
			}
			account.BotTokenSealed = sealed
		}
	}

	started := false
	if newToken != "" {
		// Start replaces a running tracker only after the new token connects.
		if err := s.trackers.Start(account, newToken); err != nil {
			s.logger.Error("starting tracker failed",
				slog.String("account_id", account.ID),
				slog.String("error", err.Error()),
			)
			return nil, apperror.ValidationFailed("bot_token", "bot token was rejected by Telegram")
		}
		started = true
	}

	if err := s.accounts.UpdateAccountSettings(ctx, account); err != nil {
		if started {
			s.trackers.Stop(account.ID)
		}
		return nil, err
	}

	if p.BotToken != nil && newToken == "" && s.trackers != nil {
		s.trackers.Stop(account.ID)
	}

	s.logger.Info("account settings updated", slog.String("account_id", account.ID))
	return account, nil
}

func looksLikeBotToken(t string) bool {
	id, secret, ok := strings.Cut(t, ":")
	if !ok || id == "" || len(secret) < 10 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
