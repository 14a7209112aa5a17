package importer

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/MikeSquared-Agency/scribe/internal/export"
)

// DedupKey identifies one version of a conversation. A new last message
// yields a new key, so a continued conversation is imported again.
func DedupKey(conversationID, lastMessageID string) string {
	sum := sha256.Sum256([]byte(conversationID + "_" + lastMessageID))
	return hex.EncodeToString(sum[:])
}

type Candidate struct {
	Conversation export.Conversation
	Hash         string
}

type DedupResult struct {
	Importable []Candidate
	// Existing counts conversations whose key was already imported,
	// including repeats within the same export.
	Existing int
	// Empty counts conversations without a single valid turn.
	Empty int
}

// Dedup filters conversations down to those not yet imported. existing is
// not modified.
func Dedup(convs []export.Conversation, existing map[string]struct{}) DedupResult {
	var res DedupResult
	seen := make(map[string]struct{}, len(convs))

	for _, c := range convs {
		turns := c.ValidTurns()
		if len(turns) == 0 {
			res.Empty++
			continue
		}

		key := DedupKey(c.ID, c.LastMessageID)
		if _, ok := existing[key]; ok {
			res.Existing++
			continue
		}
		if _, ok := seen[key]; ok {
			res.Existing++
			continue
		}
		seen[key] = struct{}{}

		c.Turns = turns
		res.Importable = append(res.Importable, Candidate{Conversation: c, Hash: key})
	}
	return res
}
