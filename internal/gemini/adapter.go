package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/trpg-tools/lorekeeper/internal/history"
)

// State tracks whether the Gemini API has been configured with a key.
// Configuration is process-wide: every adapter built from the same State
// observes the same key.
type State struct {
	mu     sync.RWMutex
	apiKey string
}

func NewState() *State { return &State{} }

// Configure installs the API key. It returns ok=false with a human-readable
// message when the key is unusable; a previously installed key stays active
// in that case.
func (s *State) Configure(apiKey string) (bool, string) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return false, "API key is empty"
	}

	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
	return true, "Gemini API configured"
}

// Configured reports whether a key has been installed.
func (s *State) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey != ""
}

func (s *State) key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey
}

// ErrNotConfigured is returned when a call requires an API key and none has
// been installed yet.
var ErrNotConfigured = fmt.Errorf("gemini API is not configured")

// BlockedError reports that the provider refused to answer for safety
// reasons rather than failing at the transport level.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("response blocked by provider: %s", e.Reason)
}

// ChatSession is a stateful multi-turn conversation with one model.
type ChatSession interface {
	Send(ctx context.Context, text string) (string, error)
}

// ModelHandle is a model bound to a system instruction, ready to open chats.
type ModelHandle interface {
	StartChat(seed []history.Turn) (ChatSession, error)
}

// Adapter bridges the campaign runtime with the Gemini generation API.
type Adapter interface {
	NewModel(model, systemInstruction string) (ModelHandle, error)
	GenerateOnce(ctx context.Context, model, prompt string) (string, error)
}

// Config controls adapter construction.
type Config struct {
	Mode            string
	BaseURL         string
	RequestTimeout  time.Duration
	MaxRetries      int
	SafetyThreshold string
	State           *State
}

func NewAdapter(cfg Config) (Adapter, error) {
	if cfg.State == nil {
		return nil, fmt.Errorf("gemini adapter requires a State")
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto", "live":
		return NewLiveAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(cfg.State), nil
	default:
		return nil, fmt.Errorf("unsupported gemini adapter mode %q", cfg.Mode)
	}
}
