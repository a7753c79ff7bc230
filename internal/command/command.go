// Package command builds API request sentences from a menu path and a
// parameter map.
package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Verbs appended to a menu path.
const (
	VerbPrint  = "print"
	VerbAdd    = "add"
	VerbSet    = "set"
	VerbRemove = "remove"
)

// IDKey is the attribute naming the target object of set and remove.
const IDKey = ".id"

// Params maps attribute names to values. Values are formatted with
// FormatValue; words are emitted in key order.
type Params map[string]any

// Query narrows a print command.
type Query struct {
	// Where holds "?key=value" conditions, all of which must match.
	Where map[string]string
	// Proplist limits the returned attributes.
	Proplist []string
}

func Print(path string, params Params) []string {
	return build(join(path, VerbPrint), params)
}

// PrintWhere builds a print command with query words.
func PrintWhere(path string, q Query) []string {
	words := []string{join(path, VerbPrint)}
	if len(q.Proplist) > 0 {
		words = append(words, Attr(".proplist", strings.Join(q.Proplist, ",")))
	}
	for _, k := range sortedKeys(q.Where) {
		words = append(words, "?"+k+"="+q.Where[k])
	}
	return words
}

func Add(path string, params Params) []string {
	return build(join(path, VerbAdd), params)
}

func Set(path string, params Params) []string {
	return build(join(path, VerbSet), params)
}

// SetID builds a set command targeting the object with the given .id.
func SetID(path, id string, params Params) []string {
	words := build(join(path, VerbSet), params)
	return append(words[:1], append([]string{Attr(IDKey, id)}, words[1:]...)...)
}

func Remove(path, id string) []string {
	return []string{join(path, VerbRemove), Attr(IDKey, id)}
}

// Call builds a bare command invocation such as /system/reboot.
func Call(path string, params Params) []string {
	return build(normalize(path), params)
}

// Attr builds an "=key=value" word.
func Attr(key, value string) string {
	return "=" + key + "=" + value
}

// FormatValue renders v the way the API expects. The protocol has no boolean
// type, so bools become "yes"/"no"; string slices become comma lists.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "yes"
		}
		return "no"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []string:
		return strings.Join(x, ",")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func build(first string, params Params) []string {
	words := make([]string, 0, len(params)+1)
	words = append(words, first)
	for _, k := range sortedKeys(params) {
		words = append(words, Attr(k, FormatValue(params[k])))
	}
	return words
}

func join(path, verb string) string {
	return strings.TrimRight(normalize(path), "/") + "/" + verb
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
