package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/notify"
	"github.com/MikeSquared-Agency/scribe/internal/pricing"
	"github.com/MikeSquared-Agency/scribe/internal/summarizer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wordTokenizer counts one token per whitespace separated word.
type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) []int {
	return make([]int, len(strings.Fields(text)))
}

type prefixCipher struct{}

func (prefixCipher) Encrypt(s string) (string, error) { return "enc:" + s, nil }

type failingCipher struct{}

func (failingCipher) Encrypt(string) (string, error) { return "", errors.New("no key") }

// fakeSummarizer numbers its summaries and fails on memory containing failOn.
type fakeSummarizer struct {
	mu     sync.Mutex
	calls  int
	keys   []string
	failOn string
	usage  bool
}

func (f *fakeSummarizer) Summarize(_ context.Context, apiKey, memory string) (summarizer.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.keys = append(f.keys, apiKey)
	if f.failOn != "" && strings.Contains(memory, f.failOn) {
		return summarizer.Summary{}, errors.New("provider unavailable")
	}
	s := summarizer.Summary{Text: fmt.Sprintf("summary number %d", f.calls)}
	if f.usage {
		s.PromptTokens, s.CompletionTokens = 100, 10
	}
	return s, nil
}

func (f *fakeSummarizer) Model() string { return "summary-model" }

func (f *fakeSummarizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	emails []notify.Email
	pushes []notify.Push
}

func (n *recordingNotifier) SendEmail(_ context.Context, e notify.Email) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, e)
	return nil
}

func (n *recordingNotifier) SendPush(_ context.Context, p notify.Push) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, p)
	return nil
}

func (n *recordingNotifier) Emails() []notify.Email {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Email(nil), n.emails...)
}

func (n *recordingNotifier) Pushes() []notify.Push {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Push(nil), n.pushes...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, data)
	return nil
}

func (p *recordingPublisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testRates() *pricing.Table {
	return &pricing.Table{
		Fallback: pricing.Rate{In: 0.003, Out: 0.015},
		Models: map[string]pricing.Rate{
			"chat-model":    {In: 0.005, Out: 0.015},
			"summary-model": {In: 0.00015, Out: 0.0006},
		},
	}
}

// testMessage and testConversation build an Anthropic export.
type testMessage struct {
	UUID      string `json:"uuid"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

type testConversation struct {
	UUID         string        `json:"uuid"`
	Name         string        `json:"name"`
	CreatedAt    string        `json:"created_at"`
	ChatMessages []testMessage `json:"chat_messages"`
}

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// conversation alternates human and assistant turns, one minute apart.
func conversation(id string, texts ...string) testConversation {
	c := testConversation{UUID: id, Name: "chat " + id, CreatedAt: epoch.Format(time.RFC3339)}
	for i, text := range texts {
		sender := "human"
		if i%2 == 1 {
			sender = "assistant"
		}
		c.ChatMessages = append(c.ChatMessages, testMessage{
			UUID:      fmt.Sprintf("%s-m%d", id, i),
			Sender:    sender,
			Text:      text,
			CreatedAt: epoch.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		})
	}
	return c
}

func exportJSON(t *testing.T, convs ...testConversation) []byte {
	t.Helper()
	data, err := json.Marshal(convs)
	if err != nil {
		t.Fatalf("marshal export: %v", err)
	}
	return data
}
