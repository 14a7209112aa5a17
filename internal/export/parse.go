package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Parse decodes a raw export produced by the given source.
func Parse(source Source, data []byte) ([]Conversation, error) {
	switch source {
	case SourceOpenAI:
		return ParseOpenAI(data)
	case SourceAnthropic:
		return ParseAnthropic(data)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownSource, int(source))
}

// unmarshalOneOrMany decodes either a JSON array into out, or a single object
// as a one-element slice.
func unmarshalOneOrMany[T any](data []byte, out *[]T) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty export")
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var single T
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	*out = []T{single}
	return nil
}
