package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trpg-tools/lorekeeper/internal/history"
	"github.com/trpg-tools/lorekeeper/internal/reliability"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// LiveAdapter talks to the Gemini generateContent REST endpoint.
type LiveAdapter struct {
	state           *State
	baseURL         string
	client          *http.Client
	maxRetries      int
	safetyThreshold string
}

func NewLiveAdapter(cfg Config) *LiveAdapter {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &LiveAdapter{
		state:           cfg.State,
		baseURL:         base,
		client:          &http.Client{Timeout: timeout},
		maxRetries:      retries,
		safetyThreshold: strings.TrimSpace(cfg.SafetyThreshold),
	}
}

func (a *LiveAdapter) NewModel(model, systemInstruction string) (ModelHandle, error) {
	if !a.state.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("model name is empty")
	}

	return &liveModel{
		adapter:           a,
		model:             strings.TrimSpace(model),
		systemInstruction: strings.TrimSpace(systemInstruction),
	}, nil
}

func (a *LiveAdapter) GenerateOnce(ctx context.Context, model, prompt string) (string, error) {
	if !a.state.Configured() {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(model) == "" {
		return "", fmt.Errorf("model name is empty")
	}

	contents := []content{{Role: "user", Parts: []part{{Text: prompt}}}}
	return a.generate(ctx, model, "", contents)
}

type liveModel struct {
	adapter           *LiveAdapter
	model             string
	systemInstruction string
}

func (m *liveModel) StartChat(seed []history.Turn) (ChatSession, error) {
	contents := make([]content, 0, len(seed))
	for _, turn := range seed {
		contents = append(contents, content{
			Role:  string(turn.Role),
			Parts: []part{{Text: turn.Text}},
		})
	}
	return &liveChat{model: m, contents: contents}, nil
}

// liveChat replays the full transcript on every call, the way the
// generateContent API expects. Turns sent through a chat accumulate here
// independently of whatever the caller persists.
type liveChat struct {
	model    *liveModel
	contents []content
}

func (c *liveChat) Send(ctx context.Context, text string) (string, error) {
	attempt := append(append([]content{}, c.contents...), content{
		Role:  "user",
		Parts: []part{{Text: text}},
	})

	reply, err := c.model.adapter.generate(ctx, c.model.model, c.model.systemInstruction, attempt)
	if err != nil {
		return "", err
	}

	c.contents = append(attempt, content{Role: "model", Parts: []part{{Text: reply}}})
	return reply, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateRequest struct {
	Contents          []content       `json:"contents"`
	SystemInstruction *content        `json:"systemInstruction,omitempty"`
	SafetySettings    []safetySetting `json:"safetySettings,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *LiveAdapter) generate(ctx context.Context, model, systemInstruction string, contents []content) (string, error) {
	req := generateRequest{Contents: contents}
	if systemInstruction != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemInstruction}}}
	}
	if a.safetyThreshold != "" {
		for _, category := range safetyCategories {
			req.SafetySettings = append(req.SafetySettings, safetySetting{
				Category:  category,
				Threshold: a.safetyThreshold,
			})
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, model)

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt, 500*time.Millisecond, 8*time.Second)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		reply, retryable, err := a.doGenerate(ctx, url, payload)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", lastErr
}

func (a *LiveAdapter) doGenerate(ctx context.Context, url string, payload []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.state.key())

	res, err := a.client.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		retryable := reliability.IsRetryableHTTPStatus(res.StatusCode)
		return "", retryable, fmt.Errorf("gemini http status %d: %s", res.StatusCode, truncate(string(body), 512))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}

	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return "", false, &BlockedError{Reason: parsed.PromptFeedback.BlockReason}
	}
	if len(parsed.Candidates) == 0 {
		return "", false, fmt.Errorf("gemini returned no candidates")
	}

	candidate := parsed.Candidates[0]
	if candidate.FinishReason == "SAFETY" {
		return "", false, &BlockedError{Reason: "SAFETY"}
	}

	var sb strings.Builder
	for _, p := range candidate.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", false, fmt.Errorf("gemini returned an empty candidate")
	}
	return text, false, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
