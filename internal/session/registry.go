package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/michaelbeckers79/attendee/internal/metrics"
	"github.com/michaelbeckers79/attendee/internal/transcribe"
	"github.com/michaelbeckers79/attendee/internal/webhook"
)

// Defaults are the per-session settings applied when a create request
// leaves them unset
type Defaults struct {
	BotName        string
	Language       string
	Model          string
	SampleRate     int
	SilenceTimeout time.Duration
}

// CreateRequest carries the caller-supplied session parameters
type CreateRequest struct {
	MeetingURL string
	WebhookURL string
	BotName    string
	Language   string
	Metadata   map[string]any
}

// RegistryStats summarizes the registry for the stats endpoint
type RegistryStats struct {
	Total   int           `json:"total"`
	ByState map[State]int `json:"by_state"`
}

// Registry is the process directory of live sessions. It is explicitly
// constructed and passed by reference; there is no package-level
// singleton. Map mutations hold the lock briefly and never perform I/O.
type Registry struct {
	defaults   Defaults
	dispatcher *webhook.Dispatcher
	recognizer transcribe.Recognizer
	logger     *slog.Logger
	metrics    *metrics.Metrics // optional, nil disables instrumentation

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewRegistry creates an empty session registry
func NewRegistry(defaults Defaults, dispatcher *webhook.Dispatcher, recognizer transcribe.Recognizer, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		defaults:   defaults,
		dispatcher: dispatcher,
		recognizer: recognizer,
		logger:     logger,
		metrics:    m,
		sessions:   make(map[string]*Session),
	}
}

// newSessionID generates a collision-resistant id of the form
// bot_<16 hex chars>
func newSessionID() string {
	return "bot_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Create constructs a session in the pending state and inserts it. The
// session is fully built before it becomes visible to lookups.
func (r *Registry) Create(req CreateRequest) *Session {
	config := SessionConfig{
		MeetingURL:     req.MeetingURL,
		WebhookURL:     req.WebhookURL,
		BotName:        req.BotName,
		Language:       req.Language,
		Model:          r.defaults.Model,
		SampleRate:     r.defaults.SampleRate,
		SilenceTimeout: r.defaults.SilenceTimeout,
		Metadata:       req.Metadata,
	}

	if config.BotName == "" {
		config.BotName = r.defaults.BotName
	}

	if config.Language == "" {
		config.Language = r.defaults.Language
	}

	s := newSession(newSessionID(), config, r.dispatcher, r.recognizer, r.logger, r.metrics)

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Info("Session created",
		slog.String("bot_id", s.ID),
		slog.String("meeting_url", config.MeetingURL),
		slog.String("bot_name", config.BotName),
	)

	if r.metrics != nil {
		r.metrics.RecordSessionCreated()
	}

	return s
}

// Get looks up a session by id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes a session from the directory. Ending a session does not
// remove it; removal is an explicit administrative action.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		r.logger.Info("Session removed", slog.String("bot_id", id))
	}

	return ok
}

// List returns all sessions in no particular order
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count returns the total number of tracked sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CountInState returns the number of sessions currently in the state
func (r *Registry) CountInState(state State) int {
	count := 0
	for _, s := range r.List() {
		if s.State() == state {
			count++
		}
	}
	return count
}

// ActiveCount returns the number of sessions currently in a meeting
func (r *Registry) ActiveCount() int {
	return r.CountInState(StateInMeeting)
}

// ActiveStreamCount sums open recognition streams across all sessions
func (r *Registry) ActiveStreamCount() int {
	count := 0
	for _, s := range r.List() {
		count += s.ActiveStreamCount()
	}
	return count
}

// Stats returns a summary for the stats endpoint
func (r *Registry) Stats() RegistryStats {
	stats := RegistryStats{ByState: make(map[State]int)}
	for _, s := range r.List() {
		stats.Total++
		stats.ByState[s.State()]++
	}
	return stats
}

// EndSession cleans a session up and drives it to a terminal state. A
// session that is already terminal is returned unchanged. Sessions that
// never reached the meeting cannot legally pass through leaving/ended,
// so they terminate as failed with the same message.
func (r *Registry) EndSession(id, message string) (*Session, bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}

	s.Cleanup()

	if s.State().IsTerminal() {
		return s, true
	}

	if err := s.SetState(StateLeaving, ""); err == nil {
		s.SetState(StateEnded, message)
	} else {
		s.SetState(StateFailed, message)
	}

	return s, true
}

// Shutdown ends every live session. Used at process teardown.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, s := range r.List() {
		select {
		case <-ctx.Done():
			r.logger.Warn("Shutdown deadline reached with sessions remaining")
			return
		default:
		}

		if !s.State().IsTerminal() {
			r.EndSession(s.ID, "Server shutting down")
		}
	}

	r.logger.Info("All sessions ended", slog.Int("count", r.Count()))
}
