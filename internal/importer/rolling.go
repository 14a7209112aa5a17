package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Checkpoint hashes the text a rolling-summary version derives from.
func Checkpoint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RollingState is the bounded memory of one conversation. Until the first
// compression the checkpoint is the hash of the chat id; afterwards it is the
// hash of the latest summary.
type RollingState struct {
	limit      int
	tokens     int
	buffer     []string
	summary    string
	checkpoint string
}

func NewRollingState(chatID string, limit int) *RollingState {
	if limit <= 0 {
		limit = DefaultSumMemoryLimit
	}
	return &RollingState{limit: limit, checkpoint: Checkpoint(chatID)}
}

// Append buffers an entry and reports whether the token budget is reached.
func (r *RollingState) Append(entry string, tokens int) bool {
	r.buffer = append(r.buffer, entry)
	r.tokens += tokens
	return r.tokens >= r.limit
}

// Memory is the buffered text to compress.
func (r *RollingState) Memory() string {
	return strings.Join(r.buffer, "\n\n")
}

// Compress replaces the buffer with summary.
func (r *RollingState) Compress(summary string, summaryTokens int) {
	r.buffer = []string{summary}
	r.tokens = summaryTokens
	r.summary = summary
	r.checkpoint = Checkpoint(summary)
}

func (r *RollingState) Checkpoint() string { return r.checkpoint }

func (r *RollingState) Summary() string { return r.summary }

func (r *RollingState) RunningTokens() int { return r.tokens }
