// Package session holds the conversation state machine: which events are
// legal in which state, the inactivity timeout and free-text validation.
package session

import (
	"fmt"

	"github.com/Rrens/postbot/internal/domain"
)

// EventKind is the type of inbound user event
type EventKind string

const (
	EventFileUploaded EventKind = "file_uploaded"
	EventFreeText     EventKind = "free_text"
	EventButton       EventKind = "button"
)

// Action is the tag carried by a button
type Action string

const (
	ActionSkipContext  Action = "skip_context"
	ActionApprove      Action = "approve"
	ActionRegenerate   Action = "regenerate"
	ActionEditStory    Action = "edit_story"
	ActionNewPost      Action = "new_post"
	ActionRelationship Action = "relationship"
	ActionParent       Action = "parent"
	ActionConfirm      Action = "confirm"
	ActionCancel       Action = "cancel"
	ActionShowSeries   Action = "show_series"
	ActionRate         Action = "rate"
)

// Effect is the work the coordinator performs after a transition
type Effect string

const (
	EffectNone                Effect = ""
	EffectAskContext          Effect = "ask_context"
	EffectGenerate            Effect = "generate"
	EffectRegenerate          Effect = "regenerate"
	EffectAskStoryEdits       Effect = "ask_story_edits"
	EffectRegenerateWithEdits Effect = "regenerate_with_edits"
	EffectApprove             Effect = "approve"
	EffectAskRelationship     Effect = "ask_relationship"
	EffectAskParent           Effect = "ask_parent"
	EffectAskFollowupContext  Effect = "ask_followup_context"
	EffectPreview             Effect = "preview"
	EffectGenerateFollowup    Effect = "generate_followup"
	EffectCancel              Effect = "cancel"
	EffectShowSeries          Effect = "show_series"
	EffectRate                Effect = "rate"
)

// Event is one inbound user action
type Event struct {
	Kind   EventKind
	Action Action
	// Value is the button payload, e.g. a relationship type or post id.
	Value string
	Text  string
}

// Trigger identifies the event side of a transition
type Trigger struct {
	Kind   EventKind
	Action Action
}

func (e Event) trigger() Trigger {
	if e.Kind == EventButton {
		return Trigger{Kind: EventButton, Action: e.Action}
	}
	return Trigger{Kind: e.Kind}
}

func (t Trigger) String() string {
	if t.Action != "" {
		return fmt.Sprintf("%s:%s", t.Kind, t.Action)
	}
	return string(t.Kind)
}

// Transition is the target of a legal (state, trigger) pair
type Transition struct {
	To     domain.State
	Effect Effect
}

type key struct {
	from    domain.State
	trigger Trigger
}

// anyState matches every state, including idle
const anyState domain.State = "*"

func button(a Action) Trigger { return Trigger{Kind: EventButton, Action: a} }

var (
	fileUploaded = Trigger{Kind: EventFileUploaded}
	freeText     = Trigger{Kind: EventFreeText}
)

var transitions = map[key]Transition{
	{anyState, fileUploaded}:         {domain.StateAwaitingFileContext, EffectAskContext},
	{anyState, button(ActionCancel)}: {domain.StateIdle, EffectCancel},

	{domain.StateAwaitingFileContext, freeText}:                  {domain.StateIdle, EffectGenerate},
	{domain.StateAwaitingFileContext, button(ActionSkipContext)}: {domain.StateIdle, EffectGenerate},

	{domain.StateIdle, button(ActionApprove)}:    {domain.StateIdle, EffectApprove},
	{domain.StateIdle, button(ActionRegenerate)}: {domain.StateIdle, EffectRegenerate},
	{domain.StateIdle, button(ActionShowSeries)}: {domain.StateIdle, EffectShowSeries},
	{domain.StateIdle, button(ActionRate)}:       {domain.StateIdle, EffectRate},
	{domain.StateIdle, button(ActionEditStory)}:  {domain.StateAwaitingStoryEdits, EffectAskStoryEdits},
	{domain.StateAwaitingStoryEdits, freeText}:   {domain.StateIdle, EffectRegenerateWithEdits},

	{domain.StateIdle, button(ActionNewPost)}:                                 {domain.StateAwaitingRelationshipSelection, EffectAskRelationship},
	{domain.StateAwaitingRelationshipSelection, button(ActionRelationship)}:   {domain.StateAwaitingPreviousPostSelection, EffectAskParent},
	{domain.StateAwaitingPreviousPostSelection, button(ActionParent)}:         {domain.StateAwaitingFollowupContext, EffectAskFollowupContext},
	{domain.StateAwaitingFollowupContext, freeText}:                           {domain.StateAwaitingGenerationConfirmation, EffectPreview},
	{domain.StateAwaitingFollowupContext, button(ActionSkipContext)}:          {domain.StateAwaitingGenerationConfirmation, EffectPreview},
	{domain.StateAwaitingGenerationConfirmation, button(ActionConfirm)}:       {domain.StateIdle, EffectGenerateFollowup},
}

// Lookup finds the transition for an event in a state. The bools report
// whether the pair exists and whether it matched a wildcard entry.
func Lookup(from domain.State, ev Event) (Transition, bool, bool) {
	trig := ev.trigger()
	if t, ok := transitions[key{from, trig}]; ok {
		return t, true, false
	}
	if t, ok := transitions[key{anyState, trig}]; ok {
		return t, true, true
	}
	return Transition{}, false, false
}

// Allowed lists the triggers accepted in a state
func Allowed(from domain.State) []Trigger {
	var out []Trigger
	for k := range transitions {
		if k.from == from || k.from == anyState {
			out = append(out, k.trigger)
		}
	}
	return out
}
