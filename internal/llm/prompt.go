package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rrens/postbot/internal/domain"
)

// FallbackTone is reported when the model does not name the tone it used
const FallbackTone = "auto"

// SystemPrompt frames every generation call
const SystemPrompt = `You write engaging Facebook posts for engineers who share what they built.
Respond with a single JSON object and nothing else:
{"post": "...", "tone_used": "...", "audience": "...", "rationale": "..."}`

// BuildPrompt creates the user prompt for one post
func BuildPrompt(req Request) string {
	var b strings.Builder

	switch {
	case req.EditInstructions != "":
		b.WriteString("Rewrite the previous post following the user's edit instructions.\n")
	case req.ParentContent != "":
		fmt.Fprintf(&b, "Write post #%d of a series, following up on an earlier post.\n", req.SeriesPosition)
	default:
		b.WriteString("Write the first post of a series about the write-up below.\n")
	}

	b.WriteString(`
Rules:
1. Keep it under 300 words and readable on a phone
2. Open with a hook, end with a question or call to action
3. Do not invent facts that are not in the write-up
4. Use at most three hashtags
`)

	if req.ToneHint != "" {
		fmt.Fprintf(&b, "\nPreferred tone: %s\n", req.ToneHint)
	}

	if req.RelationshipType != "" {
		fmt.Fprintf(&b, "\nRelationship to the earlier post: %s (%s link)\n",
			req.RelationshipType, domain.RelationshipStrength(req.RelationshipType))
	}
	if req.ParentContent != "" {
		fmt.Fprintf(&b, "\nEarlier post:\n%s\n", req.ParentContent)
	}

	if req.PreviousContent != "" {
		fmt.Fprintf(&b, "\nPrevious version:\n%s\n", req.PreviousContent)
	}
	if req.EditInstructions != "" {
		fmt.Fprintf(&b, "\nEdit instructions:\n%s\n", req.EditInstructions)
	}

	if req.ExtraContext != "" {
		fmt.Fprintf(&b, "\nAdditional context from the author:\n%s\n", req.ExtraContext)
	}
	if req.History != "" {
		fmt.Fprintf(&b, "\n%s\n", req.History)
	}

	fmt.Fprintf(&b, "\nWrite-up (%s):\n%s\n", req.Filename, req.Markdown)
	return b.String()
}

type generation struct {
	Post      string `json:"post"`
	ToneUsed  string `json:"tone_used"`
	Audience  string `json:"audience"`
	Rationale string `json:"rationale"`
}

// ParseGeneration extracts the post from a model reply. Replies that are not
// the expected JSON object are used verbatim with the fallback tone.
func ParseGeneration(content string) Response {
	body := content
	if block := extractFromCodeBlock(content, "```json", "```"); block != "" {
		body = block
	} else if block := extractFromCodeBlock(content, "```", "```"); block != "" {
		body = block
	}

	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		var g generation
		if err := json.Unmarshal([]byte(body[start:end+1]), &g); err == nil && strings.TrimSpace(g.Post) != "" {
			tone := strings.TrimSpace(g.ToneUsed)
			if tone == "" {
				tone = FallbackTone
			}
			return Response{
				Post:      strings.TrimSpace(g.Post),
				ToneUsed:  tone,
				Audience:  strings.TrimSpace(g.Audience),
				Rationale: strings.TrimSpace(g.Rationale),
			}
		}
	}

	return Response{Post: strings.TrimSpace(body), ToneUsed: FallbackTone}
}

func extractFromCodeBlock(content, startMarker, endMarker string) string {
	startIdx := strings.Index(content, startMarker)
	if startIdx == -1 {
		return ""
	}

	contentStart := startIdx + len(startMarker)
	// Skip newline after marker
	if contentStart < len(content) && content[contentStart] == '\n' {
		contentStart++
	}

	endIdx := strings.Index(content[contentStart:], endMarker)
	if endIdx == -1 {
		return ""
	}

	return strings.TrimSpace(content[contentStart : contentStart+endIdx])
}
