// Package sentence parses reply sentences into tagged attribute maps and
// builds attribute words for requests.
package sentence

import (
	"bytes"
	"errors"
	"sort"
)

// Reply tags.
const (
	TagDone  = "!done"
	TagRe    = "!re"
	TagTrap  = "!trap"
	TagFatal = "!fatal"
)

var ErrEmptySentence = errors.New("sentence: empty sentence")

// Attrs maps attribute keys to raw values. Strings hold the wire bytes
// unmodified; use Text for a decoded value.
type Attrs map[string]string

func (a Attrs) Get(key string) (string, bool) {
	v, ok := a[key]
	return v, ok
}

// Keys returns the attribute keys in sorted order.
func (a Attrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reply is one parsed reply sentence.
type Reply struct {
	Tag   string
	Attrs Attrs
}

// ParseReply splits a reply sentence into its tag and attributes. For every
// word after the tag the key runs from position 1 to the next '=' and the
// value is the remainder; a word with no such '=' is a key with an empty
// value. A !fatal reply may carry its reason as a bare word, which is kept
// under "message".
func ParseReply(words [][]byte) (Reply, error) {
	if len(words) == 0 {
		return Reply{}, ErrEmptySentence
	}
	r := Reply{
		Tag:   string(words[0]),
		Attrs: make(Attrs, len(words)-1),
	}
	for _, w := range words[1:] {
		if r.Tag == TagFatal && (len(w) == 0 || w[0] != '=') {
			r.Attrs["message"] = string(w)
			continue
		}
		if len(w) == 0 {
			continue
		}
		i := bytes.IndexByte(w[1:], '=')
		if i < 0 {
			r.Attrs[string(w[1:])] = ""
			continue
		}
		i++
		r.Attrs[string(w[1:i])] = string(w[i+1:])
	}
	return r, nil
}

// Replies is the ordered result of one exchange, ending with !done.
type Replies []Reply

// Data returns the attributes of every !re reply, in order.
func (rs Replies) Data() []Attrs {
	out := make([]Attrs, 0, len(rs))
	for _, r := range rs {
		if r.Tag == TagRe {
			out = append(out, r.Attrs)
		}
	}
	return out
}

// Done returns the terminating !done reply.
func (rs Replies) Done() (Reply, bool) {
	if len(rs) == 0 || rs[len(rs)-1].Tag != TagDone {
		return Reply{}, false
	}
	return rs[len(rs)-1], true
}

// AttrWord builds an "=key=value" word.
func AttrWord(key, value string) []byte {
	w := make([]byte, 0, len(key)+len(value)+2)
	w = append(w, '=')
	w = append(w, key...)
	w = append(w, '=')
	return append(w, value...)
}

// Words converts string words to raw wire words.
func Words(words ...string) [][]byte {
	out := make([][]byte, len(words))
	for i, w := range words {
		out[i] = []byte(w)
	}
	return out
}
