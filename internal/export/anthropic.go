package export

import (
	"fmt"
	"strings"
	"time"
)

// anthropicConversation is one element of a Claude conversations.json export.
type anthropicConversation struct {
	UUID         string             `json:"uuid"`
	Name         string             `json:"name"`
	CreatedAt    string             `json:"created_at"`
	ChatMessages []anthropicMessage `json:"chat_messages"`
}

type anthropicMessage struct {
	UUID      string                  `json:"uuid"`
	Sender    string                  `json:"sender"`
	Text      string                  `json:"text"`
	Content   []anthropicContentBlock `json:"content"`
	CreatedAt string                  `json:"created_at"`
	UpdatedAt string                  `json:"updated_at"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ParseAnthropic parses a Claude export: either the conversations.json array or
// a single conversation object.
func ParseAnthropic(data []byte) ([]Conversation, error) {
	var raw []anthropicConversation
	if err := unmarshalOneOrMany(data, &raw); err != nil {
		return nil, fmt.Errorf("parse anthropic export: %w", err)
	}

	convs := make([]Conversation, 0, len(raw))
	for _, rc := range raw {
		if rc.UUID == "" {
			continue
		}
		conv := Conversation{
			ID:        rc.UUID,
			Title:     rc.Name,
			Source:    SourceAnthropic,
			CreatedAt: parseTime(rc.CreatedAt),
		}

		var lastTS time.Time
		for i, m := range rc.ChatMessages {
			ts := parseTime(m.CreatedAt)
			if ts.IsZero() {
				ts = parseTime(m.UpdatedAt)
			}
			id := m.UUID
			if id == "" {
				id = fmt.Sprintf("%s:%d", rc.UUID, i)
			}
			if conv.LastMessageID == "" || !ts.Before(lastTS) {
				conv.LastMessageID = id
				lastTS = ts
			}

			role, ok := anthropicRole(m.Sender)
			if !ok {
				continue
			}
			conv.Turns = append(conv.Turns, Turn{
				ID:        id,
				Role:      role,
				Text:      anthropicText(m),
				Timestamp: ts,
			})
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func anthropicRole(sender string) (Role, bool) {
	switch sender {
	case "human", "user":
		return RoleHuman, true
	case "assistant":
		return RoleAssistant, true
	}
	return "", false
}

// anthropicText prefers the text content blocks and falls back to the flat
// text field older exports carry.
func anthropicText(m anthropicMessage) string {
	var texts []string
	for _, b := range m.Content {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			texts = append(texts, b.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}
	return m.Text
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
