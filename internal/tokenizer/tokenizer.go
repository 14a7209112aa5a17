package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE used when none is configured.
const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// Tiktoken counts tokens with an OpenAI BPE. The ranks ship inside the binary
// so workers never fetch encodings at runtime.
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

func New(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{encoding: encoding, enc: enc}, nil
}

// Encode returns the token ids of text. Special tokens are treated as text.
func (t *Tiktoken) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return t.enc.EncodeOrdinary(text)
}

// Count is len(Encode(text)).
func (t *Tiktoken) Count(text string) int {
	return len(t.Encode(text))
}

func (t *Tiktoken) Encoding() string {
	return t.encoding
}
