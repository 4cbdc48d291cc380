package domain

import (
	"time"
)

// MessageType tags a chat history entry
type MessageType string

const (
	MessageFileUpload       MessageType = "file_upload"
	MessagePostGeneration   MessageType = "post_generation"
	MessagePostRegeneration MessageType = "post_regeneration"
	MessagePostApproval     MessageType = "post_approval"
	MessageFeedback         MessageType = "feedback"
	MessageButtonClick      MessageType = "button_click"
	MessageStoryEdit        MessageType = "story_edit"
	MessageFollowupRequest  MessageType = "followup_request"
	MessageContextInput     MessageType = "context_input"
	MessageFreeChat         MessageType = "free_chat"
)

// Interaction is one exchange between the user and the bot
type Interaction struct {
	Timestamp   time.Time         `json:"timestamp"`
	UserMessage string            `json:"user_message"`
	BotResponse string            `json:"bot_response"`
	MessageType MessageType       `json:"message_type"`
	Context     map[string]string `json:"context,omitempty"`
	// Satisfaction is in [0,1] when the user rated the exchange.
	Satisfaction *float64 `json:"satisfaction_score,omitempty"`
}

func (in Interaction) clone() Interaction {
	c := in
	if in.Context != nil {
		c.Context = make(map[string]string, len(in.Context))
		for k, v := range in.Context {
			c.Context[k] = v
		}
	}
	if in.Satisfaction != nil {
		v := *in.Satisfaction
		c.Satisfaction = &v
	}
	return c
}
