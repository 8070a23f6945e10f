package generation

import (
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestHistoryTrim(t *testing.T) {
	t.Parallel()
	h := &history{}
	for i := range 6 {
		h.appendPair(string(rune('a'+i)), string(rune('A'+i)), 4)
	}
	got := h.snapshot()
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	if got[0].Content != "c" || got[1].Content != "C" {
		t.Errorf("oldest kept pair = %q/%q, want c/C", got[0].Content, got[1].Content)
	}

	h.trim(1)
	got = h.snapshot()
	if len(got) != 2 || got[0].Content != "f" {
		t.Errorf("after trim(1) = %v", got)
	}
}

func TestPairsFromLog(t *testing.T) {
	t.Parallel()
	entries := []memory.Entry{
		{Role: "assistant", Text: "a0"},
		{Role: "user", Text: "u1"},
		{Role: "assistant", Text: "a1"},
		{Role: "user", Text: "u2"},
		{Role: "user", Text: "u3"},
		{Role: "assistant", Text: "a3"},
		{Role: "user", Text: "dangling"},
	}
	got := pairsFromLog(entries)
	var parts []string
	for _, m := range got {
		parts = append(parts, string(m.Role)+":"+m.Content)
	}
	want := "user:u1 assistant:a1 user:u3 assistant:a3"
	if strings.Join(parts, " ") != want {
		t.Errorf("pairs = %q, want %q", strings.Join(parts, " "), want)
	}
}

func TestPersonaPreamble(t *testing.T) {
	t.Parallel()
	if (Persona{}).Preamble() != "" {
		t.Error("zero persona produced a preamble")
	}
	if _, ok := (Persona{}).message(); ok {
		t.Error("zero persona produced a system message")
	}

	p := Persona{Name: "Mara", Role: "A ship's cook.", Background: "Sailed for thirty years.", SpeechStyle: "Gruff."}
	msg, ok := p.message()
	if !ok || msg.Role != llm.RoleSystem {
		t.Fatalf("message = %+v, %v", msg, ok)
	}
	for _, want := range []string{"You are Mara. A ship's cook.", "Background: Sailed for thirty years.", "Speech style: Gruff."} {
		if !strings.Contains(msg.Content, want) {
			t.Errorf("preamble %q missing %q", msg.Content, want)
		}
	}
}
