package sentence

import (
	"errors"
	"testing"

	"github.com/danmuck/rosctl/internal/testutil/testlog"
)

func TestParseReplyAttributes(t *testing.T) {
	testlog.Start(t)
	r, err := ParseReply(Words("!re", "=.id=*1", "=name=ether1", "=comment=a=b", "=disabled", "=mtu=1500", "=name=ether2"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Tag != TagRe {
		t.Fatalf("unexpected tag: %q", r.Tag)
	}
	want := map[string]string{
		".id":      "*1",
		"name":     "ether2",
		"comment":  "a=b",
		"disabled": "",
		"mtu":      "1500",
	}
	if len(r.Attrs) != len(want) {
		t.Fatalf("attrs got=%v want=%v", r.Attrs, want)
	}
	for k, v := range want {
		if got, ok := r.Attrs.Get(k); !ok || got != v {
			t.Fatalf("attr %q got=%q ok=%v want=%q", k, got, ok, v)
		}
	}
}

func TestParseReplyFatalBareMessage(t *testing.T) {
	testlog.Start(t)
	r, err := ParseReply(Words("!fatal", "session terminated on request"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Attrs["message"] != "session terminated on request" {
		t.Fatalf("unexpected attrs: %v", r.Attrs)
	}
}

func TestParseReplyEmpty(t *testing.T) {
	testlog.Start(t)
	if _, err := ParseReply(nil); !errors.Is(err, ErrEmptySentence) {
		t.Fatalf("expected ErrEmptySentence, got %v", err)
	}
}

func TestRepliesDataAndDone(t *testing.T) {
	testlog.Start(t)
	rs := Replies{
		{Tag: TagRe, Attrs: Attrs{"name": "ether1"}},
		{Tag: TagRe, Attrs: Attrs{"name": "ether2"}},
		{Tag: TagDone, Attrs: Attrs{}},
	}
	data := rs.Data()
	if len(data) != 2 || data[0]["name"] != "ether1" || data[1]["name"] != "ether2" {
		t.Fatalf("unexpected data: %v", data)
	}
	if _, ok := rs.Done(); !ok {
		t.Fatalf("expected done reply")
	}
	if _, ok := rs[:2].Done(); ok {
		t.Fatalf("unterminated replies reported done")
	}
}

func TestAttrWordAndKeys(t *testing.T) {
	testlog.Start(t)
	if got := string(AttrWord(".id", "*A")); got != "=.id=*A" {
		t.Fatalf("unexpected word: %q", got)
	}
	keys := Attrs{"b": "", "a": "", "c": ""}.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestTextFallsBackToWindows1252(t *testing.T) {
	testlog.Start(t)
	a := Attrs{
		"utf8":   "café",
		"legacy": "caf\xe9",
	}
	got, err := a.Text("utf8")
	if err != nil || got != "café" {
		t.Fatalf("utf8 got=%q err=%v", got, err)
	}
	got, err = a.Text("legacy")
	if err != nil || got != "café" {
		t.Fatalf("legacy got=%q err=%v", got, err)
	}
	got, err = a.Text("missing")
	if err != nil || got != "" {
		t.Fatalf("missing got=%q err=%v", got, err)
	}
}
