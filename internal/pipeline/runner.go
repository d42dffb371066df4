package pipeline

import (
	"context"
	"log/slog"
	"strings"
)

// CommandHandler answers owner commands. handled is false for anything that
// is not a known command; such messages get no reply.
type CommandHandler interface {
	Handle(ctx context.Context, accountID, text string) (reply string, handled bool)
}

// Runner is the single consumer of one account's event stream.
//
// WHY ONE GOROUTINE PER ACCOUNT:
// Events are handled strictly one after another, including every network
// call. Within an account the "touch, then insert" sequence can therefore
// never interleave with itself; across accounts the store's unique key is
// the only shared guard.
type Runner struct {
	accountID string
	ownerID   int64
	pipeline  *Pipeline
	commands  CommandHandler
	transport Transport
	logger    *slog.Logger
}

// NewRunner wires a runner. commands may be nil to disable owner commands.
func NewRunner(accountID string, ownerID int64, p *Pipeline, commands CommandHandler, transport Transport, logger *slog.Logger) *Runner {
	return &Runner{
		accountID: accountID,
		ownerID:   ownerID,
		pipeline:  p,
		commands:  commands,
		transport: transport,
		logger:    logger.With(slog.String("component", "runner"), slog.String("account_id", accountID)),
	}
}

// Run consumes events until ctx is done or the channel is closed. It always
// returns nil; per-event failures are logged by the pipeline.
func (r *Runner) Run(ctx context.Context, events <-chan Event) error {
	r.logger.Info("runner started")
	defer r.logger.Info("runner stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, ev Event) {
	if ev.Sender.ID == r.ownerID {
		r.command(ctx, ev)
		return
	}

	outcome := r.pipeline.Process(ctx, ev)
	r.logger.Debug("event processed",
		slog.Int64("user_id", ev.Sender.ID),
		slog.String("outcome", outcome.String()),
	)
}

// command runs an owner message through the router. Plain owner text is not
// a contact event and is dropped.
func (r *Runner) command(ctx context.Context, ev Event) {
	text := strings.TrimSpace(ev.Text)
	if r.commands == nil || !strings.HasPrefix(text, "/") {
		return
	}

	reply, handled := r.commands.Handle(ctx, r.accountID, text)
	if !handled || reply == "" {
		return
	}
	if err := r.transport.Send(ctx, ev.ChatID, reply); err != nil {
		r.logger.Warn("command reply failed", slog.String("error", err.Error()))
	}
}
