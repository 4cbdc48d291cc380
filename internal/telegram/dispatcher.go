package telegram

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/Rrens/postbot/internal/service"
	"github.com/Rrens/postbot/internal/session"
	"github.com/Rrens/postbot/internal/textnorm"
	"github.com/rs/zerolog/log"
)

// Handler processes decoded events; *service.Bot implements it
type Handler interface {
	Handle(ctx context.Context, ev service.Event) ([]service.Reply, error)
}

// rejection is an update refused before it reaches the bot. Its text is shown to the user.
type rejection string

func (r rejection) Error() string { return string(r) }

const (
	rejectNotMarkdown = "Only markdown (.md) files are supported."
	rejectTooLarge    = "That file is too large, the limit is %d KB."
	rejectNotText     = "That file is not valid UTF-8 text."
	rejectEmpty       = "That file is empty."
)

const rejectRateLimited = "You are sending messages too fast. Please wait a minute."

var errIgnored = errors.New("update ignored")

// RateLimiter caps how many updates a user may send
type RateLimiter interface {
	Allow(ctx context.Context, userID int64) (bool, int, time.Time, error)
}

// Dispatcher turns updates into bot events and sends the replies back
type Dispatcher struct {
	client       *Client
	handler      Handler
	limiter      RateLimiter
	maxFileBytes int64
}

// NewDispatcher creates a dispatcher
func NewDispatcher(client *Client, handler Handler, maxFileBytes int64) *Dispatcher {
	return &Dispatcher{client: client, handler: handler, maxFileBytes: maxFileBytes}
}

// WithRateLimit enables per-user rate limiting
func (d *Dispatcher) WithRateLimit(limiter RateLimiter) *Dispatcher {
	d.limiter = limiter
	return d
}

// Dispatch handles one update end to end
func (d *Dispatcher) Dispatch(ctx context.Context, upd Update) error {
	if cq := upd.CallbackQuery; cq != nil {
		if err := d.client.AnswerCallbackQuery(ctx, cq.ID); err != nil {
			log.Warn().Err(err).Str("callback_query_id", cq.ID).Msg("Failed to answer callback query")
		}
	}

	if !d.allow(ctx, upd) {
		return d.client.SendMessage(ctx, chatOf(upd), textnorm.Escape(rejectRateLimited), nil)
	}

	ev, err := d.toEvent(ctx, upd)
	var rej rejection
	switch {
	case err == nil:
	case errors.Is(err, errIgnored):
		return nil
	case errors.As(err, &rej):
		return d.client.SendMessage(ctx, chatOf(upd), textnorm.Escape(rej.Error()), nil)
	default:
		return fmt.Errorf("failed to decode update %d: %w", upd.UpdateID, err)
	}

	replies, err := d.handler.Handle(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to handle update %d: %w", upd.UpdateID, err)
	}

	for _, r := range replies {
		if err := d.client.SendMessage(ctx, r.ChatID, r.Text, Keyboard(r.Options)); err != nil {
			return fmt.Errorf("failed to send reply: %w", err)
		}
	}
	return nil
}

// allow fails open when the limiter is unavailable
func (d *Dispatcher) allow(ctx context.Context, upd Update) bool {
	userID := userOf(upd)
	if d.limiter == nil || userID == 0 {
		return true
	}
	ok, remaining, _, err := d.limiter.Allow(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Rate limiter unavailable")
		return true
	}
	if !ok {
		log.Info().Int64("user_id", userID).Int("remaining", remaining).Msg("Rate limited")
	}
	return ok
}

func (d *Dispatcher) toEvent(ctx context.Context, upd Update) (service.Event, error) {
	if cq := upd.CallbackQuery; cq != nil {
		if cq.From.IsBot || cq.Data == "" {
			return service.Event{}, errIgnored
		}
		action, value := ParseCallbackData(cq.Data)
		ev := service.Event{
			UserID: cq.From.ID,
			ChatID: cq.From.ID,
			Kind:   session.EventButton,
			Action: action,
			Value:  value,
		}
		if cq.Message != nil {
			ev.ChatID = cq.Message.Chat.ID
		}
		return ev, nil
	}

	msg := upd.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return service.Event{}, errIgnored
	}
	ev := service.Event{UserID: msg.From.ID, ChatID: msg.Chat.ID}

	switch {
	case msg.Document != nil:
		doc, err := d.download(ctx, msg.Document)
		if err != nil {
			return service.Event{}, err
		}
		ev.Kind = session.EventFileUploaded
		ev.Document = doc
	case strings.HasPrefix(msg.Text, "/"):
		ev.Command, ev.Text = ParseCommand(msg.Text)
	case msg.Text != "":
		ev.Kind = session.EventFreeText
		ev.Text = msg.Text
	default:
		return service.Event{}, errIgnored
	}
	return ev, nil
}

func (d *Dispatcher) download(ctx context.Context, doc *Document) (*domain.SourceDocument, error) {
	if !strings.EqualFold(path.Ext(doc.FileName), ".md") {
		return nil, rejection(rejectNotMarkdown)
	}
	tooLarge := rejection(fmt.Sprintf(rejectTooLarge, d.maxFileBytes/1024))
	if doc.FileSize > d.maxFileBytes {
		return nil, tooLarge
	}

	f, err := d.client.GetFile(ctx, doc.FileID)
	if err != nil {
		return nil, err
	}
	data, err := d.client.DownloadFile(ctx, f.FilePath, d.maxFileBytes)
	if errors.Is(err, ErrFileTooLarge) {
		return nil, tooLarge
	}
	if err != nil {
		return nil, err
	}

	if !utf8.Valid(data) {
		return nil, rejection(rejectNotText)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, rejection(rejectEmpty)
	}
	return &domain.SourceDocument{Markdown: string(data), Filename: doc.FileName}, nil
}

// ParseCallbackData splits "action:value" button data
func ParseCallbackData(data string) (session.Action, string) {
	action, value, _ := strings.Cut(data, ":")
	return session.Action(action), value
}

// ParseCommand splits "/cmd@bot args" into the command name and its arguments
func ParseCommand(text string) (string, string) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "/")
	cmd, args, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

// Keyboard lays the options out one button per row
func Keyboard(opts []service.Option) *InlineKeyboardMarkup {
	if len(opts) == 0 {
		return nil
	}
	kb := &InlineKeyboardMarkup{InlineKeyboard: make([][]InlineKeyboardButton, 0, len(opts))}
	for _, o := range opts {
		kb.InlineKeyboard = append(kb.InlineKeyboard, []InlineKeyboardButton{{Text: o.Label, CallbackData: o.Data()}})
	}
	return kb
}

func chatOf(upd Update) int64 {
	switch {
	case upd.Message != nil:
		return upd.Message.Chat.ID
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		return upd.CallbackQuery.Message.Chat.ID
	case upd.CallbackQuery != nil:
		return upd.CallbackQuery.From.ID
	}
	return 0
}

func userOf(upd Update) int64 {
	switch {
	case upd.CallbackQuery != nil:
		return upd.CallbackQuery.From.ID
	case upd.Message != nil && upd.Message.From != nil:
		return upd.Message.From.ID
	}
	return 0
}
