package sentence

import (
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/rosctl/internal/protocol"
	"golang.org/x/text/encoding/charmap"
)

// DecodeText returns raw as text: UTF-8 when valid, otherwise Windows-1252 as
// older firmware emits it.
func DecodeText(raw string) (string, error) {
	if utf8.ValidString(raw) {
		return raw, nil
	}
	s, err := charmap.Windows1252.NewDecoder().String(raw)
	if err != nil {
		return "", &protocol.FatalError{Reason: "undecodable text", Err: err}
	}
	return s, nil
}

// Text returns the decoded value for key. A missing key yields "" and no error.
// A decode failure only affects this attribute.
func (a Attrs) Text(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", nil
	}
	s, err := DecodeText(v)
	if err != nil {
		return "", fmt.Errorf("sentence: attribute %q: %w", key, err)
	}
	return s, nil
}
