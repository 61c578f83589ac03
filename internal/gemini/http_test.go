package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/trpg-tools/lorekeeper/internal/history"
)

func configuredState(t *testing.T) *State {
	t.Helper()
	state := NewState()
	if ok, msg := state.Configure("test-key"); !ok {
		t.Fatalf("configure failed: %s", msg)
	}
	return state
}

func liveForURL(t *testing.T, url string, cfg Config) *LiveAdapter {
	t.Helper()
	cfg.BaseURL = url
	if cfg.State == nil {
		cfg.State = configuredState(t)
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return NewLiveAdapter(cfg)
}

func candidateBody(text string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"role": "model", "parts": []map[string]string{{"text": text}}}},
		},
	})
	return string(body)
}

func TestStateConfigure(t *testing.T) {
	state := NewState()
	if state.Configured() {
		t.Fatalf("fresh state should not be configured")
	}
	if ok, _ := state.Configure("   "); ok {
		t.Fatalf("blank key should be rejected")
	}
	if state.Configured() {
		t.Fatalf("rejected key should not configure the state")
	}
	if ok, _ := state.Configure("abc"); !ok {
		t.Fatalf("valid key should configure")
	}
	if !state.Configured() {
		t.Fatalf("state should be configured after accepting a key")
	}
}

func TestNewAdapterModes(t *testing.T) {
	state := NewState()

	adapter, err := NewAdapter(Config{Mode: "auto", State: state})
	if err != nil {
		t.Fatalf("auto mode: %v", err)
	}
	if _, ok := adapter.(*LiveAdapter); !ok {
		t.Fatalf("auto mode should build a live adapter, got %T", adapter)
	}

	adapter, err = NewAdapter(Config{Mode: "mock", State: state})
	if err != nil {
		t.Fatalf("mock mode: %v", err)
	}
	if _, ok := adapter.(*MockAdapter); !ok {
		t.Fatalf("mock mode should build a mock adapter, got %T", adapter)
	}

	if _, err := NewAdapter(Config{Mode: "carrier-pigeon", State: state}); err == nil {
		t.Fatalf("unknown mode should be rejected")
	}
	if _, err := NewAdapter(Config{Mode: "mock"}); err == nil {
		t.Fatalf("missing state should be rejected")
	}
}

func TestNewModelRequiresConfiguration(t *testing.T) {
	adapter := NewLiveAdapter(Config{State: NewState()})
	if _, err := adapter.NewModel("gemini-1.5-pro-latest", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	adapter = NewLiveAdapter(Config{State: configuredState(t)})
	if _, err := adapter.NewModel("   ", ""); err == nil {
		t.Fatalf("blank model name should be rejected")
	}
}

func TestLiveChatSendReplaysTranscript(t *testing.T) {
	var requests []generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests = append(requests, req)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(candidateBody("The innkeeper nods.")))
	}))
	defer server.Close()

	adapter := liveForURL(t, server.URL, Config{SafetyThreshold: "BLOCK_ONLY_HIGH"})
	model, err := adapter.NewModel("gemini-1.5-pro-latest", "You are the lore keeper.")
	if err != nil {
		t.Fatalf("new model: %v", err)
	}

	seed := []history.Turn{
		{Role: history.RoleUser, Text: "Who runs the inn?"},
		{Role: history.RoleModel, Text: "Marla runs the Gilded Tankard."},
	}
	chat, err := model.StartChat(seed)
	if err != nil {
		t.Fatalf("start chat: %v", err)
	}

	reply, err := chat.Send(context.Background(), "Does she trust the party?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "The innkeeper nods." {
		t.Fatalf("reply = %q", reply)
	}

	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	first := requests[0]
	if first.SystemInstruction == nil || first.SystemInstruction.Parts[0].Text != "You are the lore keeper." {
		t.Fatalf("system instruction missing from request")
	}
	if len(first.SafetySettings) != len(safetyCategories) {
		t.Fatalf("expected %d safety settings, got %d", len(safetyCategories), len(first.SafetySettings))
	}
	if len(first.Contents) != 3 {
		t.Fatalf("expected seed + new turn in contents, got %d entries", len(first.Contents))
	}
	if first.Contents[2].Role != "user" || first.Contents[2].Parts[0].Text != "Does she trust the party?" {
		t.Fatalf("last content = %+v", first.Contents[2])
	}

	// A second send must replay the model reply from the first.
	if _, err := chat.Send(context.Background(), "And the cellar?"); err != nil {
		t.Fatalf("second send: %v", err)
	}
	second := requests[1]
	if len(second.Contents) != 5 {
		t.Fatalf("expected 5 contents on second send, got %d", len(second.Contents))
	}
	if second.Contents[3].Role != "model" || second.Contents[3].Parts[0].Text != "The innkeeper nods." {
		t.Fatalf("model turn not replayed: %+v", second.Contents[3])
	}
}

func TestLiveChatSendFailureLeavesTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	adapter := liveForURL(t, server.URL, Config{})
	model, err := adapter.NewModel("gemini-1.5-pro-latest", "")
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	chat, err := model.StartChat(nil)
	if err != nil {
		t.Fatalf("start chat: %v", err)
	}

	if _, err := chat.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error from 400")
	}
	if got := len(chat.(*liveChat).contents); got != 0 {
		t.Fatalf("failed send should not grow the transcript, got %d entries", got)
	}
}

func TestLiveGenerateBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer server.Close()

	adapter := liveForURL(t, server.URL, Config{})
	_, err := adapter.GenerateOnce(context.Background(), "gemini-1.5-pro-latest", "something spicy")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.Reason != "SAFETY" {
		t.Fatalf("reason = %q", blocked.Reason)
	}
}

func TestLiveGenerateRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(candidateBody("recovered")))
	}))
	defer server.Close()

	adapter := liveForURL(t, server.URL, Config{MaxRetries: 2})
	reply, err := adapter.GenerateOnce(context.Background(), "gemini-1.5-pro-latest", "hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "recovered" {
		t.Fatalf("reply = %q", reply)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestLiveGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer server.Close()

	adapter := liveForURL(t, server.URL, Config{MaxRetries: 3})
	if _, err := adapter.GenerateOnce(context.Background(), "gemini-0.0-bogus", "hi"); err == nil {
		t.Fatalf("expected error from 404")
	}
	if calls != 1 {
		t.Fatalf("404 should not be retried, got %d calls", calls)
	}
}

func TestMockAdapterDeterministic(t *testing.T) {
	adapter := NewMockAdapter(configuredState(t))
	model, err := adapter.NewModel("gemini-1.5-pro-latest", "sys")
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	chat, err := model.StartChat(nil)
	if err != nil {
		t.Fatalf("start chat: %v", err)
	}
	a, err := chat.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	b, err := chat.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if a != b {
		t.Fatalf("mock replies should be deterministic: %q vs %q", a, b)
	}
}

func TestMockReplyTruncatesOnRuneBoundary(t *testing.T) {
	prompt := strings.Repeat("竜", 100)
	reply := mockReply("gemini-1.5-pro-latest", prompt)
	if !utf8.ValidString(reply) {
		t.Fatalf("reply is not valid UTF-8: %q", reply)
	}
	if !strings.Contains(reply, strings.Repeat("竜", 80)+"...") {
		t.Fatalf("expected an 80-rune cut, got %q", reply)
	}
	if strings.Contains(reply, strings.Repeat("竜", 81)) {
		t.Fatalf("truncation did not apply: %q", reply)
	}
}
