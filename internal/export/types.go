package export

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrUnknownSource is returned for an export source outside the supported set.
var ErrUnknownSource = errors.New("unknown export source")

// Source identifies which vendor produced an export file.
type Source int

const (
	SourceOpenAI Source = iota + 1
	SourceAnthropic
)

func (s Source) String() string {
	switch s {
	case SourceOpenAI:
		return "openai"
	case SourceAnthropic:
		return "anthropic"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// ParseSource maps the wire name ("openai", "chatgpt", "anthropic", "claude") to a Source.
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai", "chatgpt":
		return SourceOpenAI, nil
	case "anthropic", "claude":
		return SourceAnthropic, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

func (s Source) MarshalText() ([]byte, error) {
	switch s {
	case SourceOpenAI, SourceAnthropic:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownSource, int(s))
}

func (s *Source) UnmarshalText(b []byte) error {
	parsed, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Role is the speaker of a turn, normalized across vendors.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in an exported conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is one exported chat thread, normalized across vendors.
type Conversation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Source        Source    `json:"source"`
	LastMessageID string    `json:"last_message_id"`
	CreatedAt     time.Time `json:"created_at"`
	Turns         []Turn    `json:"turns"`
}

// ValidTurns returns the human and assistant turns that carry text, ordered by
// timestamp. Exports are not guaranteed to be ordered; ties keep export order.
func (c Conversation) ValidTurns() []Turn {
	turns := make([]Turn, 0, len(c.Turns))
	for _, t := range c.Turns {
		if t.Role != RoleHuman && t.Role != RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		turns = append(turns, t)
	}
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
	return turns
}
