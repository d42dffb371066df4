// Package tracker runs one ingestion Runner per tracked account.
//
// Each account with a bot (the owner's configured bot, or a token stored
// sealed via PATCH /me) gets its own long-poll listener and Runner
// goroutine. Accounts share nothing but the store and the spreadsheet
// opener.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/contact-tracker/internal/auth"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/pipeline"
	"github.com/sakif/contact-tracker/internal/repository"
)

// Source is a connected bot: the transport plus its update stream.
// *telegram.Bot satisfies it.
type Source interface {
	pipeline.Transport
	Listen(ctx context.Context) <-chan pipeline.Event
	Username() string
}

// Dialer connects a bot for an account.
type Dialer func(accountID, token string) (Source, error)

// Options configures a Manager.
type Options struct {
	Dial     Dialer
	Deps     pipeline.Deps // Transport is filled in per account
	Commands pipeline.CommandHandler
	Accounts repository.AccountRepository
	Sealer   *auth.Sealer // nil disables per-account bots in StartAll
	Logger   *slog.Logger
}

type running struct {
	token  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the per-account runners. It satisfies service.Trackers.
type Manager struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*running
	closed  bool
}

// NewManager creates a manager whose runners live until parent is done or
// Close is called. Runners started later from HTTP requests also hang off
// parent, not off the request context.
func NewManager(parent context.Context, opts Options) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		logger:  opts.Logger.With(slog.String("component", "tracker")),
		running: make(map[string]*running),
	}
}

var errClosed = errors.New("tracker: manager is closed")

// Start runs a tracker for account with botToken. Calling it again with the
// same token is a no-op; a different token replaces the running tracker once
// the new bot has connected. A failed dial leaves the current tracker alone.
//
// The dial runs without holding the manager lock, so a slow Telegram call
// for one account never blocks Start, Stop or Running for another.
func (m *Manager) Start(account *model.Account, botToken string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed
	}
	if cur, ok := m.running[account.ID]; ok && cur.token == botToken {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	src, err := m.opts.Dial(account.ID, botToken)
	if err != nil {
		return fmt.Errorf("tracker: connecting bot for account %s: %w", account.ID, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed
	}
	prev, ok := m.running[account.ID]
	if ok && prev.token == botToken {
		// A concurrent Start with the same token won the race.
		m.mu.Unlock()
		return nil
	}
	m.launch(account, botToken, src)
	m.mu.Unlock()

	if ok {
		prev.stop()
	}
	m.logger.Info("tracker started",
		slog.String("account_id", account.ID),
		slog.String("bot", src.Username()),
	)
	return nil
}

// launch registers and starts a runner for src. m.mu must be held.
func (m *Manager) launch(account *model.Account, botToken string, src Source) {
	deps := m.opts.Deps
	deps.Transport = src
	log := m.opts.Logger
	p := pipeline.New(account.ID, deps, log)
	runner := pipeline.NewRunner(account.ID, account.TelegramID, p, m.opts.Commands, src, log)

	ctx, cancel := context.WithCancel(m.ctx)
	r := &running{token: botToken, cancel: cancel, done: make(chan struct{})}
	m.running[account.ID] = r

	m.group.Go(func() error {
		defer close(r.done)
		events := src.Listen(ctx)
		err := runner.Run(ctx, events)
		cancel()
		// Let the listener observe the cancel and close its channel.
		for range events {
		}
		return err
	})
}

func (r *running) stop() {
	r.cancel()
	<-r.done
}

// Stop ends the account's tracker, if any, and waits for it to exit.
func (m *Manager) Stop(accountID string) {
	m.mu.Lock()
	r, ok := m.running[accountID]
	delete(m.running, accountID)
	m.mu.Unlock()

	if ok {
		r.stop()
		m.logger.Info("tracker stopped", slog.String("account_id", accountID))
	}
}

// Running reports whether accountID has a live tracker.
func (m *Manager) Running(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[accountID]
	return ok
}

// StartAll starts the owner's tracker (when owner and ownerToken are set)
// and one for every stored account with a sealed bot token. A failing
// account is logged and skipped; the count of started trackers is returned.
func (m *Manager) StartAll(ctx context.Context, owner *model.Account, ownerToken string) (int, error) {
	started := 0
	if owner != nil && ownerToken != "" {
		if err := m.Start(owner, ownerToken); err != nil {
			return 0, fmt.Errorf("tracker: starting owner bot: %w", err)
		}
		started++
	}

	if m.opts.Sealer == nil || m.opts.Accounts == nil {
		return started, nil
	}
	accounts, err := m.opts.Accounts.ListTrackedAccounts(ctx)
	if err != nil {
		return started, fmt.Errorf("tracker: listing tracked accounts: %w", err)
	}

	for i := range accounts {
		a := &accounts[i]
		if m.Running(a.ID) {
			continue
		}
		token, err := m.opts.Sealer.Open(a.BotTokenSealed)
		if err != nil {
			m.logger.Error("cannot unseal bot token",
				slog.String("account_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := m.Start(a, token); err != nil {
			m.logger.Error("tracker start failed",
				slog.String("account_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		started++
	}
	return started, nil
}

// Wait blocks until every runner has exited.
func (m *Manager) Wait() error {
	return m.group.Wait()
}

// Close stops all runners and waits for them.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.running = make(map[string]*running)
	m.mu.Unlock()

	m.cancel()
	return m.group.Wait()
}
