package service

import (
	"github.com/Rrens/postbot/internal/domain"
	"github.com/Rrens/postbot/internal/session"
	"github.com/Rrens/postbot/internal/textnorm"
)

// Event is one inbound user action, already decoded from the transport
type Event struct {
	UserID int64
	ChatID int64
	Kind   session.EventKind
	// Command is set for slash commands, without the slash. Kind is ignored then.
	Command  string
	Text     string
	Action   session.Action
	Value    string
	Document *domain.SourceDocument
}

func (e Event) machineEvent() session.Event {
	return session.Event{Kind: e.Kind, Action: e.Action, Value: e.Value, Text: e.Text}
}

// Option is one inline button
type Option struct {
	Label  string
	Action session.Action
	Value  string
}

// Data encodes the option as callback data, "action" or "action:value"
func (o Option) Data() string {
	if o.Value == "" {
		return string(o.Action)
	}
	return string(o.Action) + ":" + o.Value
}

// Reply is one outbound message
type Reply struct {
	ChatID  int64
	Text    textnorm.DisplaySafeText
	Options []Option
}

func reply(chatID int64, text string, opts ...Option) Reply {
	return Reply{ChatID: chatID, Text: textnorm.Escape(text), Options: opts}
}
