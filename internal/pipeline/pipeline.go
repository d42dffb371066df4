// Package pipeline turns inbound private messages into Contacts.
//
// FLOW FOR ONE EVENT:
//
//	event → log message → touch (known?) ─ yes → done
//	                                     └ no  → profile → history → extract
//	                                              → insert → mirror row → confirm
//
// The store's UNIQUE(account_id, external_id) is the only dedup guard. A
// losing concurrent insert comes back as apperror.ErrConflict and is treated
// as "already known". Every external failure is logged and either degrades
// the input (profile, history, extraction) or drops the event (store); the
// pipeline never retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
	"github.com/sakif/contact-tracker/internal/sheets"
)

// Sender is the author of an inbound message.
type Sender struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
}

// Event is one inbound message as seen by the transport.
type Event struct {
	ChatID    int64
	MessageID int
	Sender    Sender
	Text      string
	SentAt    time.Time
	Private   bool
}

// Profile is what the transport knows about a user.
type Profile struct {
	Name     string
	Username string
	Bio      string
}

// Transport is the messaging platform as the pipeline needs it.
type Transport interface {
	Profile(ctx context.Context, userID int64) (Profile, error)
	// RecentMessages returns up to limit of the newest messages in a chat,
	// oldest first.
	RecentMessages(ctx context.Context, chatID int64, limit int) ([]model.Message, error)
	Send(ctx context.Context, chatID int64, text string) error
}

// Extractor derives company, role and topics. It never fails; how the
// value was obtained is recorded in Extraction.Source.
type Extractor interface {
	Extract(ctx context.Context, bio string, messages []string) model.Extraction
	ExtractCompany(ctx context.Context, messages []model.Message) (string, bool)
}

// Outcome is what Process did with an event.
type Outcome int

const (
	OutcomeIgnored Outcome = iota // not a private message from a person
	OutcomeKnown                  // sender already a contact; timestamp refreshed
	OutcomeCreated                // new contact stored
	OutcomeDropped                // failed; logged and discarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeKnown:
		return "known"
	case OutcomeCreated:
		return "created"
	case OutcomeDropped:
		return "dropped"
	}
	return "invalid"
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Accounts  repository.AccountRepository
	Contacts  repository.ContactRepository
	Messages  repository.MessageRepository
	SyncLog   repository.SyncLogRepository
	Transport Transport
	Extractor Extractor
	// Mirrors may be nil when no spreadsheet backend is configured.
	Mirrors *sheets.Opener
}

// Pipeline processes the events of one account. Runner feeds it one event
// at a time.
type Pipeline struct {
	accountID string
	deps      Deps
	logger    *slog.Logger
	now       func() time.Time
}

func New(accountID string, deps Deps, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		accountID: accountID,
		deps:      deps,
		logger:    logger.With(slog.String("component", "pipeline"), slog.String("account_id", accountID)),
		now:       time.Now,
	}
}

// Process handles one inbound event. A panic anywhere below is recovered,
// logged and reported as OutcomeDropped.
func (p *Pipeline) Process(ctx context.Context, ev Event) (out Outcome) {
	if !ev.Private || ev.Sender.IsBot || ev.Sender.ID <= 0 {
		return OutcomeIgnored
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic",
				slog.Int64("user_id", ev.Sender.ID),
				slog.String("error", fmt.Sprint(r)),
			)
			out = OutcomeDropped
		}
	}()

	if ev.SentAt.IsZero() {
		ev.SentAt = p.now()
	}
	ev.SentAt = ev.SentAt.UTC()

	account, err := p.deps.Accounts.GetAccount(ctx, p.accountID)
	if err != nil {
		p.logger.Error("loading account failed", slog.String("error", err.Error()))
		return OutcomeDropped
	}

	p.logMessage(ctx, ev)

	found, err := p.deps.Contacts.TouchContact(ctx, account.ID, ev.Sender.ID, ev.SentAt)
	if err != nil {
		p.logger.Error("touching contact failed",
			slog.Int64("user_id", ev.Sender.ID),
			slog.String("error", err.Error()),
		)
		return OutcomeDropped
	}
	if found {
		return OutcomeKnown
	}

	return p.create(ctx, account, ev)
}

func (p *Pipeline) logMessage(ctx context.Context, ev Event) {
	if ev.Text == "" {
		return
	}
	err := p.deps.Messages.AppendMessage(ctx, &model.Message{
		AccountID: p.accountID,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		SenderID:  ev.Sender.ID,
		Text:      ev.Text,
		SentAt:    ev.SentAt,
		Direction: model.DirectionIncoming,
	})
	if err != nil {
		p.logger.Warn("message log append failed",
			slog.Int("message_id", ev.MessageID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) create(ctx context.Context, account *model.Account, ev Event) Outcome {
	log := p.logger.With(slog.Int64("user_id", ev.Sender.ID))

	profile, err := p.deps.Transport.Profile(ctx, ev.Sender.ID)
	if err != nil {
		log.Warn("profile fetch failed, using message sender", slog.String("error", err.Error()))
		profile = Profile{}
	}
	if profile.Name == "" {
		profile.Name = model.DisplayName(ev.Sender.FirstName, ev.Sender.LastName)
	}
	if profile.Username == "" {
		profile.Username = ev.Sender.Username
	}

	msgs := p.history(ctx, log, account, ev)

	ex := p.deps.Extractor.Extract(ctx, profile.Bio, texts(msgs))
	if ex.Err != nil {
		log.Warn("extraction degraded to defaults", slog.String("error", ex.Err.Error()))
	}
	if ex.Company == model.Unknown {
		if company, ok := p.deps.Extractor.ExtractCompany(ctx, msgs); ok {
			log.Debug("company filled from conversation", slog.String("company", company))
			ex.Company = company
		}
	}

	c := &model.Contact{
		AccountID:       account.ID,
		ExternalID:      ev.Sender.ID,
		Name:            profile.Name,
		Username:        profile.Username,
		Bio:             profile.Bio,
		Company:         ex.Company,
		Role:            ex.Role,
		Topics:          ex.Topics,
		FirstSeen:       ev.SentAt,
		LastInteraction: ev.SentAt,
	}

	if err := p.deps.Contacts.CreateContact(ctx, c); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			log.Info("contact created concurrently, treating as known")
			return OutcomeKnown
		}
		log.Error("storing contact failed", slog.String("error", err.Error()))
		return OutcomeDropped
	}

	log.Info("new contact",
		slog.String("name", c.Name),
		slog.String("company", c.Company),
		slog.String("source", string(ex.Source)),
	)

	details := fmt.Sprintf("%s (%d): %s / %s", c.Name, c.ExternalID, c.Company, c.Role)
	if err := p.deps.SyncLog.LogSync(ctx, account.ID, model.ActionNewContact, details); err != nil {
		log.Warn("sync log write failed", slog.String("error", err.Error()))
	}

	p.mirror(ctx, log, account, c)

	if err := p.deps.Transport.Send(ctx, account.TelegramID, Confirmation(c)); err != nil {
		log.Warn("confirmation send failed", slog.String("error", err.Error()))
	}
	return OutcomeCreated
}

// history returns the newest messages in the chat. When the log cannot be
// read the triggering message alone is used.
func (p *Pipeline) history(ctx context.Context, log *slog.Logger, account *model.Account, ev Event) []model.Message {
	msgs, err := p.deps.Transport.RecentMessages(ctx, ev.ChatID, account.MessageCount())
	if err == nil {
		return msgs
	}
	log.Warn("history fetch failed", slog.String("error", err.Error()))
	if ev.Text == "" {
		return nil
	}
	return []model.Message{{
		AccountID: account.ID,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		SenderID:  ev.Sender.ID,
		Text:      ev.Text,
		SentAt:    ev.SentAt,
		Direction: model.DirectionIncoming,
	}}
}

func texts(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Text != "" {
			out = append(out, m.Text)
		}
	}
	return out
}

// mirror makes sure the spreadsheet has a row for c and flags the contact
// exported. A row left over from an earlier, deleted contact with the same
// key counts as present. A failure here leaves the contact in the store
// only; export repairs it.
func (p *Pipeline) mirror(ctx context.Context, log *slog.Logger, account *model.Account, c *model.Contact) {
	if p.deps.Mirrors == nil {
		return
	}
	m, err := p.deps.Mirrors.Open(ctx, account.SpreadsheetID)
	if err != nil {
		if errors.Is(err, apperror.ErrUnavailable) {
			log.Debug("no spreadsheet for account, skipping mirror")
			return
		}
		log.Error("opening mirror failed", slog.String("error", err.Error()))
		return
	}
	appended, err := m.EnsureContact(ctx, c)
	if err != nil {
		log.Error("mirror append failed", slog.String("error", err.Error()))
		return
	}
	if !appended {
		log.Info("mirror row already present, not appending")
	}
	if err := p.deps.Contacts.MarkExported(ctx, account.ID, []int64{c.ExternalID}); err != nil {
		log.Warn("marking exported failed", slog.String("error", err.Error()))
		return
	}
	c.Exported = true
}

// Confirmation is the notice sent to the owner for a new contact.
func Confirmation(c *model.Contact) string {
	var b strings.Builder
	b.WriteString("New contact: ")
	b.WriteString(c.Name)
	if c.Username != "" {
		b.WriteString(" (@" + c.Username + ")")
	}
	b.WriteString("\nCompany: " + orUnknown(c.Company))
	b.WriteString("\nRole: " + orUnknown(c.Role))
	if len(c.Topics) > 0 {
		b.WriteString("\nTopics: " + strings.Join(c.Topics, ", "))
	} else {
		b.WriteString("\nTopics: none")
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return model.Unknown
	}
	return s
}
