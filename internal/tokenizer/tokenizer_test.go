package tokenizer

import (
	"testing"
)

func TestNew_DefaultEncoding(t *testing.T) {
	tok, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Encoding() != DefaultEncoding {
		t.Errorf("expected %s, got %s", DefaultEncoding, tok.Encoding())
	}
}

func TestNew_UnknownEncoding(t *testing.T) {
	if _, err := New("no_such_encoding"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestEncode(t *testing.T) {
	tok, err := New(DefaultEncoding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := tok.Encode(""); len(got) != 0 {
		t.Errorf("empty text should have no tokens, got %v", got)
	}

	// "hello world" is two tokens in cl100k_base.
	if got := tok.Count("hello world"); got != 2 {
		t.Errorf("expected 2 tokens, got %d", got)
	}

	short := tok.Count("The quick brown fox")
	long := tok.Count("The quick brown fox jumps over the lazy dog, again and again.")
	if long <= short {
		t.Errorf("longer text should have more tokens: %d <= %d", long, short)
	}

	// Special token markers are encoded as plain text rather than panicking.
	if got := tok.Count("<|endoftext|>"); got == 0 {
		t.Error("expected special marker to encode as text")
	}
}
