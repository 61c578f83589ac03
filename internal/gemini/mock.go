package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/trpg-tools/lorekeeper/internal/history"
)

// MockAdapter provides deterministic local replies when no live endpoint is
// wanted, e.g. in tests or offline demos.
type MockAdapter struct {
	state *State
}

func NewMockAdapter(state *State) *MockAdapter { return &MockAdapter{state: state} }

func (a *MockAdapter) NewModel(model, systemInstruction string) (ModelHandle, error) {
	if !a.state.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("model name is empty")
	}
	return &mockModel{model: model}, nil
}

func (a *MockAdapter) GenerateOnce(ctx context.Context, model, prompt string) (string, error) {
	if !a.state.Configured() {
		return "", ErrNotConfigured
	}
	return mockReply(model, prompt), nil
}

type mockModel struct {
	model string
}

func (m *mockModel) StartChat(seed []history.Turn) (ChatSession, error) {
	return &mockChat{model: m.model, turns: len(seed)}, nil
}

type mockChat struct {
	model string
	turns int
}

func (c *mockChat) Send(ctx context.Context, text string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	c.turns += 2
	return mockReply(c.model, text), nil
}

func mockReply(model, text string) string {
	text = strings.TrimSpace(text)
	// Truncate on rune boundaries, prompts are often not ASCII.
	if runes := []rune(text); len(runes) > 80 {
		text = string(runes[:80]) + "..."
	}
	return fmt.Sprintf("[%s mock] I heard you: %q", model, text)
}
