package importer

import (
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/export"
)

// Pair is one human message and the assistant reply to it.
type Pair struct {
	Human       string
	Assistant   string
	HumanID     string
	AssistantID string
	Timestamp   time.Time
}

// Transcript renders the pair for the rolling memory.
func (p Pair) Transcript() string {
	return "Human: " + p.Human + "\nAssistant: " + p.Assistant
}

// PairTurns pairs ordered turns. Human turns buffer until the next assistant
// turn; consecutive human turns are joined. An assistant turn with nothing
// buffered is dropped, as is a trailing human turn with no reply.
func PairTurns(turns []export.Turn) []Pair {
	var (
		pairs   []Pair
		pending []export.Turn
	)
	for _, t := range turns {
		switch t.Role {
		case export.RoleHuman:
			pending = append(pending, t)
		case export.RoleAssistant:
			if len(pending) == 0 {
				continue
			}
			texts := make([]string, len(pending))
			for i, h := range pending {
				texts[i] = h.Text
			}
			pairs = append(pairs, Pair{
				Human:       strings.Join(texts, "\n\n"),
				Assistant:   t.Text,
				HumanID:     pending[len(pending)-1].ID,
				AssistantID: t.ID,
				Timestamp:   t.Timestamp,
			})
			pending = nil
		}
	}
	return pairs
}
