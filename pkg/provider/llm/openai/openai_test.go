package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// fakeAPI is a minimal /chat/completions endpoint. Requests whose bearer
// token is in limited get a 429.
type fakeAPI struct {
	mu       sync.Mutex
	limited  map[string]bool
	status   int
	reply    string
	auths    []string
	lastBody map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.auths = append(f.auths, key)
	f.lastBody = body
	limited, status, reply := f.limited[key], f.status, f.reply
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if limited {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": reply},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func (f *fakeAPI) keysSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.auths...)
}

func newBackend(t *testing.T, api *fakeAPI, keys ...string) *Backend {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	b := New(WithName("test"))
	err := b.Initialize(context.Background(), llm.Config{Model: "gpt-4o-mini", APIKeys: keys, BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return b
}

func TestInitialize_RequiresModel(t *testing.T) {
	t.Parallel()
	if err := New().Initialize(context.Background(), llm.Config{APIKeys: []string{"k"}}); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestInitialize_NoKeysUnavailable(t *testing.T) {
	t.Parallel()
	b := New()
	if err := b.Initialize(context.Background(), llm.Config{Model: "gpt-4o", APIKeys: []string{" ", ""}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if b.Available() {
		t.Error("Available() = true with zero credentials")
	}
	_, err := b.Generate(context.Background(), "hi", nil)
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{reply: "Well met."}
	b := newBackend(t, api, "k1")

	history := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are Bram."},
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: "Hi"},
	}
	got, err := b.Generate(context.Background(), "Who are you?", history)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Text != "Well met." || got.Tokens != 15 {
		t.Errorf("Completion = %+v", got)
	}

	api.mu.Lock()
	msgs, _ := api.lastBody["messages"].([]any)
	api.mu.Unlock()
	if len(msgs) != 4 {
		t.Fatalf("sent %d messages, want 4", len(msgs))
	}
	last, _ := msgs[3].(map[string]any)
	if last["role"] != "user" || last["content"] != "Who are you?" {
		t.Errorf("last message = %v", last)
	}

	u := b.Usage()
	if u.Requests != 1 || u.Tokens != 15 || u.Rotations != 0 {
		t.Errorf("Usage = %+v", u)
	}
}

func TestGenerate_QuotaRotatesAndRetriesOnce(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{reply: "ok", limited: map[string]bool{"k1": true}}
	b := newBackend(t, api, "k1", "k2")

	got, err := b.Generate(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Text != "ok" {
		t.Errorf("Text = %q", got.Text)
	}
	if keys := api.keysSeen(); len(keys) != 2 || keys[0] != "k1" || keys[1] != "k2" {
		t.Errorf("keys seen = %v, want [k1 k2]", keys)
	}
	if u := b.Usage(); u.Rotations != 1 || u.Requests != 2 {
		t.Errorf("Usage = %+v", u)
	}

	// The cursor stays on the working key.
	if _, err := b.Generate(context.Background(), "again", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if keys := api.keysSeen(); keys[len(keys)-1] != "k2" {
		t.Errorf("third request used %q, want k2", keys[len(keys)-1])
	}
}

func TestGenerate_QuotaOnEveryKeyGivesUpAfterOneRetry(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{limited: map[string]bool{"k1": true, "k2": true, "k3": true}}
	b := newBackend(t, api, "k1", "k2", "k3")

	_, err := b.Generate(context.Background(), "hi", nil)
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if n := len(api.keysSeen()); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
}

func TestGenerate_OtherErrorsNotRetried(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{status: http.StatusInternalServerError}
	b := newBackend(t, api, "k1", "k2")

	_, err := b.Generate(context.Background(), "hi", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.IsQuotaError(err) {
		t.Errorf("err = %v classified as quota error", err)
	}
	if n := len(api.keysSeen()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestGenerate_EmptyReply(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{reply: "  "}
	b := newBackend(t, api, "k1")
	if _, err := b.Generate(context.Background(), "hi", nil); !errors.Is(err, llm.ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
