package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/michaelbeckers79/attendee/internal/metrics"
	"github.com/michaelbeckers79/attendee/internal/transcribe"
	"github.com/michaelbeckers79/attendee/internal/webhook"
)

// eventBufferSize bounds the bridge between producer goroutines and the
// session run loop
const eventBufferSize = 256

// SessionConfig contains the resolved per-session settings
type SessionConfig struct {
	MeetingURL     string
	WebhookURL     string
	BotName        string
	Language       string
	Model          string
	SampleRate     int
	SilenceTimeout time.Duration
	Metadata       map[string]any
}

// Snapshot is the API view of a session
type Snapshot struct {
	ID           string     `json:"id"`
	State        State      `json:"state"`
	MeetingURL   string     `json:"meeting_url"`
	WebhookURL   string     `json:"webhook_url"`
	BotName      string     `json:"bot_name"`
	Language     string     `json:"language"`
	CreatedAt    time.Time  `json:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Participants int        `json:"participants"`
}

type eventKind int

const (
	statusEvent eventKind = iota
	transcriptEvent
)

// eventRecord is one queued webhook delivery
type eventRecord struct {
	kind       eventKind
	status     State
	message    string
	transcript webhook.TranscriptionEvent
}

// Session is one tracked meeting attendance from join to end
type Session struct {
	ID        string
	Config    SessionConfig
	CreatedAt time.Time

	dispatcher *webhook.Dispatcher
	recognizer transcribe.Recognizer
	logger     *slog.Logger
	metrics    *metrics.Metrics // optional, nil disables instrumentation

	// events bridges producer goroutines (platform, provider) into the
	// run loop, which performs the webhook I/O
	events     chan eventRecord
	loopActive atomic.Bool

	mu            sync.Mutex
	state         State
	endedAt       *time.Time
	errorMessage  string
	participants  map[string]map[string]any
	mux           *transcribe.Multiplexer
	stopRequested bool
	cleanedUp     bool
}

func newSession(id string, config SessionConfig, dispatcher *webhook.Dispatcher, recognizer transcribe.Recognizer, logger *slog.Logger, m *metrics.Metrics) *Session {
	return &Session{
		ID:           id,
		Config:       config,
		CreatedAt:    time.Now().UTC(),
		dispatcher:   dispatcher,
		recognizer:   recognizer,
		logger:       logger.With(slog.String("bot_id", id)),
		metrics:      m,
		events:       make(chan eventRecord, eventBufferSize),
		state:        StatePending,
		participants: make(map[string]map[string]any),
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndedAt returns the terminal timestamp, nil while the session is live
func (s *Session) EndedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// ErrorMessage returns the recorded failure message, if any
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}

// StopRequested reports whether the driving loop should exit
func (s *Session) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// SetState applies a lifecycle transition. Illegal transitions return an
// error and have no side effects. Entering a terminal state sets EndedAt
// exactly once; re-entering a terminal state is a no-op for the stored
// fields but still emits a status webhook, so a racing caller's event is
// never suppressed. Webhook delivery happens outside the lock and its
// failure never rolls the state back.
func (s *Session) SetState(next State, message string) error {
	s.mu.Lock()
	current := s.state
	if !current.CanTransition(next) {
		s.mu.Unlock()
		return fmt.Errorf("illegal state transition from %s to %s", current, next)
	}

	firstTerminal := false
	if !current.IsTerminal() {
		s.state = next
		if next.IsTerminal() && s.endedAt == nil {
			now := time.Now().UTC()
			s.endedAt = &now
			firstTerminal = true
		}
		if next == StateFailed && message != "" {
			s.errorMessage = message
		}
	}
	s.mu.Unlock()

	s.logger.Info("Session state changed",
		slog.String("from", string(current)),
		slog.String("to", string(next)),
		slog.String("message", message),
	)

	if firstTerminal && s.metrics != nil {
		s.metrics.RecordSessionEnded(time.Since(s.CreatedAt).Seconds())
		if next == StateFailed {
			s.metrics.RecordSessionFailed()
		}
	}

	s.dispatchEvent(eventRecord{kind: statusEvent, status: next, message: message})
	return nil
}

// AddAudioChunk routes a speaker's audio into the multiplexer, creating
// it on first audio. A stream open failure is logged and the session
// continues degraded without that speaker.
func (s *Session) AddAudioChunk(speakerID string, data []byte, speakerName string) {
	mux := s.multiplexer()
	if mux == nil {
		return
	}

	if err := mux.AddAudio(speakerID, speakerName, data); err != nil {
		s.logger.Warn("Continuing without a stream for speaker",
			slog.String("speaker_id", speakerID),
			slog.String("error", err.Error()),
		)
	}
}

// multiplexer returns the session's multiplexer, creating it lazily.
// Returns nil after cleanup.
func (s *Session) multiplexer() *transcribe.Multiplexer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleanedUp {
		return nil
	}

	if s.mux == nil {
		s.mux = transcribe.NewMultiplexer(transcribe.MultiplexerConfig{
			BotID:          s.ID,
			Language:       s.Config.Language,
			Model:          s.Config.Model,
			SampleRate:     s.Config.SampleRate,
			SilenceTimeout: s.Config.SilenceTimeout,
		}, s.recognizer, s.onTranscript, s.logger, s.metrics)
	}

	return s.mux
}

// currentMultiplexer returns the multiplexer without creating one
func (s *Session) currentMultiplexer() *transcribe.Multiplexer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mux
}

// onTranscript receives provider results via the multiplexer fan-in
func (s *Session) onTranscript(event transcribe.Event) {
	s.dispatchEvent(eventRecord{
		kind: transcriptEvent,
		transcript: webhook.TranscriptionEvent{
			SpeakerID:   event.SpeakerID,
			SpeakerName: event.SpeakerName,
			Text:        event.Text,
			TimestampMS: event.TimestampMS,
			DurationMS:  event.DurationMS,
			IsFinal:     event.IsFinal,
			Metadata:    mergeMetadata(s.Config.Metadata, event.Metadata),
		},
	})
}

// mergeMetadata unions session and event metadata key-wise, with the
// event value winning on collision. Returns nil when both are empty.
func mergeMetadata(session, event map[string]any) map[string]any {
	if len(session) == 0 && len(event) == 0 {
		return nil
	}

	merged := make(map[string]any, len(session)+len(event))
	for key, value := range session {
		merged[key] = value
	}
	for key, value := range event {
		merged[key] = value
	}
	return merged
}

// dispatchEvent hands an event to the run loop without blocking the
// producer. When the loop is not running, or the buffer is full, the
// event is delivered synchronously instead of dropped.
func (s *Session) dispatchEvent(record eventRecord) {
	if s.loopActive.Load() {
		select {
		case s.events <- record:
			return
		default:
		}
	}

	s.deliverEvent(record)
}

// deliverEvent performs the webhook I/O for one event
func (s *Session) deliverEvent(record eventRecord) {
	ctx := context.Background()

	switch record.kind {
	case statusEvent:
		s.dispatcher.SendBotStatusEvent(ctx, s.Config.WebhookURL, s.ID, string(record.status), record.message, s.Config.Metadata)
	case transcriptEvent:
		s.dispatcher.SendTranscriptionEvent(ctx, s.Config.WebhookURL, s.ID, record.transcript)
	}
}

// drainEvents synchronously delivers everything left in the bridge
func (s *Session) drainEvents() {
	for {
		select {
		case record := <-s.events:
			s.deliverEvent(record)
		default:
			return
		}
	}
}

// UpdateParticipant merges fields into the participant entry, creating
// it if absent
func (s *Session) UpdateParticipant(id, name string, extra map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.participants[id]
	if !ok {
		entry = make(map[string]any)
		s.participants[id] = entry
	}

	if name != "" {
		entry["name"] = name
	}

	for key, value := range extra {
		entry[key] = value
	}
}

// RemoveParticipant drops a participant from the roster
func (s *Session) RemoveParticipant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, id)
}

// Participant returns a view of a participant merging the normalized
// participant_id and display_name pair with all stored fields
func (s *Session) Participant(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.participants[id]
	if !ok {
		return nil, false
	}

	name, _ := entry["name"].(string)
	view := map[string]any{
		"participant_id": id,
		"display_name":   name,
	}
	for key, value := range entry {
		view[key] = value
	}

	return view, true
}

// ParticipantCount returns the current roster size
func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// Cleanup finalizes and discards the multiplexer and marks the session
// stop-requested. Idempotent.
func (s *Session) Cleanup() {
	s.mu.Lock()
	if s.cleanedUp {
		s.mu.Unlock()
		return
	}
	s.cleanedUp = true
	s.stopRequested = true
	mux := s.mux
	s.mux = nil
	s.mu.Unlock()

	if mux != nil {
		mux.FinishAll()
	}

	s.logger.Debug("Session cleaned up")
}

// Snapshot returns the API view of the session
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:           s.ID,
		State:        s.state,
		MeetingURL:   s.Config.MeetingURL,
		WebhookURL:   s.Config.WebhookURL,
		BotName:      s.Config.BotName,
		Language:     s.Config.Language,
		CreatedAt:    s.CreatedAt,
		EndedAt:      s.endedAt,
		ErrorMessage: s.errorMessage,
		Participants: len(s.participants),
	}
}

// ActiveStreamCount returns the number of open recognition streams
func (s *Session) ActiveStreamCount() int {
	mux := s.currentMultiplexer()
	if mux == nil {
		return 0
	}
	return mux.HandleCount()
}
