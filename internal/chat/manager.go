package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/trpg-tools/lorekeeper/internal/gemini"
	"github.com/trpg-tools/lorekeeper/internal/history"
	"github.com/trpg-tools/lorekeeper/internal/observability"
)

// SessionConfig is the configuration a remote chat session is bound to.
// Changing any field invalidates the remote session but never the local
// transcript.
type SessionConfig struct {
	Model             string
	SystemInstruction string
	ProjectID         string
}

// Manager owns the mapping between the locally persisted transcript and the
// provider's ephemeral chat session. The local transcript is the source of
// truth: the remote context is always rebuilt by replaying it, never the
// other way around.
//
// A Manager is not safe for concurrent use. Callers serialize access and
// keep at most one send in flight per instance.
type Manager struct {
	state   *gemini.State
	adapter gemini.Adapter
	store   history.Store
	metrics *observability.Metrics

	cfg     SessionConfig
	turns   []history.Turn
	model   gemini.ModelHandle
	session gemini.ChatSession
}

// StartOptions controls how a session (re)start treats the transcript.
type StartOptions struct {
	// KeepHistory seeds the new session with the in-memory transcript.
	// When false the transcript is cleared first.
	KeepHistory bool
	// ReloadIfEmpty reloads the transcript from the store when it is empty
	// after the KeepHistory step and a project is bound.
	ReloadIfEmpty bool
	// SystemInstruction, when non-nil, replaces the current instruction and
	// forces a model handle rebuild. The provider binds instructions at
	// model construction time, not per message.
	SystemInstruction *string
}

func NewManager(state *gemini.State, adapter gemini.Adapter, store history.Store, metrics *observability.Metrics) *Manager {
	return &Manager{
		state:   state,
		adapter: adapter,
		store:   store,
		metrics: metrics,
		turns:   []history.Turn{},
	}
}

// Initialize binds the manager to a model and optional project, loads the
// project transcript, and opens a session when the adapter is configured.
// Store and model failures degrade: the manager comes up with an empty
// transcript or no session, and the first send reports the real problem.
func (m *Manager) Initialize(ctx context.Context, model, projectID string) {
	m.cfg = SessionConfig{Model: strings.TrimSpace(model), ProjectID: strings.TrimSpace(projectID)}
	m.turns = []history.Turn{}
	m.model = nil
	m.session = nil

	if m.cfg.ProjectID != "" {
		m.loadHistory(ctx)
	}

	if !m.state.Configured() {
		log.Printf("chat: adapter not configured, session deferred")
		return
	}
	if !m.rebuildModel() {
		return
	}
	m.openSession()
}

// StartSession opens a fresh remote session per opts. A failure to open
// leaves the session nil and surfaces through the next send; the return
// value reports whether a session is active afterwards.
func (m *Manager) StartSession(ctx context.Context, opts StartOptions) bool {
	rebuild := m.model == nil
	if opts.SystemInstruction != nil && *opts.SystemInstruction != m.cfg.SystemInstruction {
		m.cfg.SystemInstruction = *opts.SystemInstruction
		rebuild = true
	}

	if !opts.KeepHistory {
		m.turns = []history.Turn{}
	}
	if opts.ReloadIfEmpty && len(m.turns) == 0 && m.cfg.ProjectID != "" {
		m.loadHistory(ctx)
	}

	m.session = nil
	if !m.state.Configured() {
		return false
	}
	if rebuild && !m.rebuildModel() {
		return false
	}
	return m.openSession()
}

// SendMessage composes one outbound payload from the transient context and
// the user input, sends it, and on success appends exactly two turns (user,
// model) to the transcript and persists it. The transient context shapes
// the single response but is never recorded. On any failure the transcript
// is unmodified.
func (m *Manager) SendMessage(ctx context.Context, transientContext, userInput string) (string, error) {
	input := strings.TrimSpace(userInput)
	if input == "" {
		m.countSend("validation")
		return "", validationErrorf("user input is empty")
	}
	if !m.state.Configured() {
		m.countSend("configuration")
		return "", configErrorf("gemini API is not configured")
	}

	if m.session == nil {
		if !m.StartSession(ctx, StartOptions{KeepHistory: true, ReloadIfEmpty: true}) {
			m.countSend("configuration")
			return "", configErrorf("chat session could not be started for model %q", m.cfg.Model)
		}
	}

	payload := input
	if trimmedCtx := strings.TrimSpace(transientContext); trimmedCtx != "" {
		payload = trimmedCtx + "\n\n## User input:\n" + input
	}

	started := time.Now()
	reply, err := m.session.Send(ctx, payload)
	if err != nil {
		terr := transportError(err)
		if terr.Blocked {
			m.countSend("blocked")
		} else {
			m.countSend("transport")
		}
		return "", terr
	}
	m.metrics.ObserveSendLatency(time.Since(started))

	reply = strings.TrimSpace(reply)
	m.turns = append(m.turns,
		history.Turn{Role: history.RoleUser, Text: input},
		history.Turn{Role: history.RoleModel, Text: reply},
	)
	m.persistHistory(ctx)
	m.countSend("success")
	return reply, nil
}

// UpdateSettings applies any subset of model, system instruction, and
// project, then rebuilds the remote session when something changed. A nil
// field leaves the current value alone. A failed model rebuild nulls the
// session so later sends fail with a configuration error instead of using
// a stale handle.
func (m *Manager) UpdateSettings(ctx context.Context, model, systemInstruction, projectID *string) error {
	changedModel := false
	changedProject := false

	if model != nil && strings.TrimSpace(*model) != m.cfg.Model {
		next := strings.TrimSpace(*model)
		if next == "" {
			return validationErrorf("model identifier is empty")
		}
		m.cfg.Model = next
		changedModel = true
	}
	if systemInstruction != nil && *systemInstruction != m.cfg.SystemInstruction {
		m.cfg.SystemInstruction = *systemInstruction
		changedModel = true
	}
	if projectID != nil && strings.TrimSpace(*projectID) != m.cfg.ProjectID {
		m.cfg.ProjectID = strings.TrimSpace(*projectID)
		changedProject = true
	}

	if !changedModel && !changedProject {
		return nil
	}
	m.metrics.SessionEvents.WithLabelValues("settings_change").Inc()

	if changedProject {
		m.turns = []history.Turn{}
		if m.cfg.ProjectID != "" {
			m.loadHistory(ctx)
		}
	}

	m.session = nil
	if !m.state.Configured() {
		return configErrorf("gemini API is not configured")
	}
	if changedModel || m.model == nil {
		if !m.rebuildModel() {
			return configErrorf("model handle could not be built for %q", m.cfg.Model)
		}
	}
	m.openSession()
	return nil
}

// ClearHistory wipes the transcript in memory and on disk, then restarts
// the session empty. Clearing is permanent for the bound project's saved
// record; it does not reload from disk.
func (m *Manager) ClearHistory(ctx context.Context) {
	m.turns = []history.Turn{}
	m.persistHistory(ctx)
	m.metrics.SessionEvents.WithLabelValues("clear").Inc()
	if m.state.Configured() {
		m.StartSession(ctx, StartOptions{KeepHistory: false, ReloadIfEmpty: false})
	}
}

// GenerateSingle is the stateless single-turn variant: no transcript read
// or write, no session reuse.
func (m *Manager) GenerateSingle(ctx context.Context, model, prompt string) (string, error) {
	model = strings.TrimSpace(model)
	prompt = strings.TrimSpace(prompt)
	if model == "" {
		return "", validationErrorf("model identifier is empty")
	}
	if prompt == "" {
		return "", validationErrorf("prompt is empty")
	}
	if !m.state.Configured() {
		return "", configErrorf("gemini API is not configured")
	}

	text, err := m.adapter.GenerateOnce(ctx, model, prompt)
	if err != nil {
		if errors.Is(err, gemini.ErrNotConfigured) {
			return "", configErrorf("gemini API is not configured")
		}
		return "", transportError(err)
	}
	return strings.TrimSpace(text), nil
}

// SaveHistory persists the current transcript. Exposed for explicit saves,
// e.g. on shutdown.
func (m *Manager) SaveHistory(ctx context.Context) error {
	if m.cfg.ProjectID == "" {
		return nil
	}
	if err := m.store.Save(ctx, m.cfg.ProjectID, m.turns); err != nil {
		m.metrics.PersistenceFailures.Inc()
		return err
	}
	return nil
}

// History returns a copy of the in-memory transcript.
func (m *Manager) History() []history.Turn {
	out := make([]history.Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// SessionActive reports whether a remote session is currently open.
func (m *Manager) SessionActive() bool { return m.session != nil }

// Config returns the current session configuration.
func (m *Manager) Config() SessionConfig { return m.cfg }

func (m *Manager) loadHistory(ctx context.Context) {
	turns, err := m.store.Load(ctx, m.cfg.ProjectID)
	switch {
	case err == nil:
		m.turns = turns
		m.metrics.SessionEvents.WithLabelValues("history_load").Inc()
	case errors.Is(err, history.ErrNotFound):
		m.turns = []history.Turn{}
	default:
		log.Printf("chat: history load for project %q failed, starting empty: %v", m.cfg.ProjectID, err)
		m.metrics.PersistenceFailures.Inc()
		m.turns = []history.Turn{}
	}
}

func (m *Manager) persistHistory(ctx context.Context) {
	if m.cfg.ProjectID == "" {
		return
	}
	if err := m.store.Save(ctx, m.cfg.ProjectID, m.turns); err != nil {
		log.Printf("chat: history save for project %q failed: %v", m.cfg.ProjectID, err)
		m.metrics.PersistenceFailures.Inc()
	}
}

func (m *Manager) rebuildModel() bool {
	handle, err := m.adapter.NewModel(m.cfg.Model, m.cfg.SystemInstruction)
	if err != nil {
		log.Printf("chat: model handle for %q could not be built: %v", m.cfg.Model, err)
		m.model = nil
		m.session = nil
		return false
	}
	m.model = handle
	m.metrics.SessionEvents.WithLabelValues("model_rebuild").Inc()
	return true
}

func (m *Manager) openSession() bool {
	session, err := m.model.StartChat(m.turns)
	if err != nil {
		log.Printf("chat: session open failed for model %q: %v", m.cfg.Model, err)
		m.session = nil
		return false
	}
	m.session = session
	m.metrics.SessionEvents.WithLabelValues("session_start").Inc()
	return true
}

func (m *Manager) countSend(outcome string) {
	m.metrics.Sends.WithLabelValues(outcome).Inc()
}
