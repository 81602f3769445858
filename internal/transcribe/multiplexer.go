package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/michaelbeckers79/attendee/internal/metrics"
)

// Event is a transcript attributed to a speaker within one bot session
type Event struct {
	BotID       string
	SpeakerID   string
	SpeakerName string
	Text        string
	TimestampMS int64
	DurationMS  int64
	IsFinal     bool
	Metadata    map[string]any
}

// MultiplexerConfig contains per-session multiplexer configuration
type MultiplexerConfig struct {
	BotID          string
	Language       string
	Model          string
	SampleRate     int
	SilenceTimeout time.Duration
	Metadata       map[string]any
}

// Handle is one speaker's recognition stream plus its activity bookkeeping
type Handle struct {
	SpeakerID string

	stream       Stream
	lastActivity time.Time
	createdAt    time.Time
}

// Connected reports whether the underlying recognition stream is live
func (h *Handle) Connected() bool {
	return h.stream.Connected()
}

// Multiplexer routes per-speaker audio into independent recognition
// streams and fans all transcript results into a single event callback.
// Streams are created lazily on first audio and evicted after silence.
type Multiplexer struct {
	config     MultiplexerConfig
	recognizer Recognizer
	onEvent    func(Event)
	logger     *slog.Logger
	metrics    *metrics.Metrics // optional, nil disables instrumentation

	handles      map[string]*Handle
	speakerNames map[string]string
	mu           sync.Mutex
}

// NewMultiplexer creates a new stream multiplexer
func NewMultiplexer(config MultiplexerConfig, recognizer Recognizer, onEvent func(Event), logger *slog.Logger, m *metrics.Metrics) *Multiplexer {
	if config.SilenceTimeout <= 0 {
		config.SilenceTimeout = 30 * time.Second
	}

	return &Multiplexer{
		config:       config,
		recognizer:   recognizer,
		onEvent:      onEvent,
		logger:       logger,
		metrics:      m,
		handles:      make(map[string]*Handle),
		speakerNames: make(map[string]string),
	}
}

// GetOrCreateHandle returns the live handle for a speaker, opening a new
// recognition stream when none exists. Stream opening happens outside the
// lock; when two callers race, the first inserted handle wins and the
// loser's stream is closed.
func (m *Multiplexer) GetOrCreateHandle(speakerID, speakerName string) (*Handle, error) {
	m.mu.Lock()
	if speakerName != "" {
		m.speakerNames[speakerID] = speakerName
	}

	if handle, ok := m.handles[speakerID]; ok {
		handle.lastActivity = time.Now()
		m.mu.Unlock()
		return handle, nil
	}
	m.mu.Unlock()

	streamConfig := StreamConfig{
		Language:   m.config.Language,
		Model:      m.config.Model,
		SampleRate: m.config.SampleRate,
	}

	stream, err := m.recognizer.OpenStream(context.Background(), streamConfig, func(result Result) {
		m.emit(speakerID, result)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open recognition stream for speaker %s: %w", speakerID, err)
	}

	m.mu.Lock()
	if existing, ok := m.handles[speakerID]; ok {
		m.mu.Unlock()
		if closeErr := stream.Close(); closeErr != nil {
			m.logger.Debug("Failed to close redundant stream", slog.String("error", closeErr.Error()))
		}
		return existing, nil
	}

	now := time.Now()
	handle := &Handle{
		SpeakerID:    speakerID,
		stream:       stream,
		lastActivity: now,
		createdAt:    now,
	}
	m.handles[speakerID] = handle
	m.mu.Unlock()

	m.logger.Info("Opened recognition stream",
		slog.String("bot_id", m.config.BotID),
		slog.String("speaker_id", speakerID),
		slog.String("speaker_name", speakerName),
	)

	if m.metrics != nil {
		m.metrics.RecordStreamOpened()
	}

	return handle, nil
}

// AddAudio forwards an audio chunk to the speaker's stream, creating one
// on first contact. Chunks for a disconnected stream are dropped with a
// warning; the handle stays until idle eviction replaces it.
func (m *Multiplexer) AddAudio(speakerID, speakerName string, data []byte) error {
	handle, err := m.GetOrCreateHandle(speakerID, speakerName)
	if err != nil {
		return err
	}

	if !handle.stream.Connected() {
		m.logger.Warn("Recognition stream disconnected, dropping audio chunk",
			slog.String("bot_id", m.config.BotID),
			slog.String("speaker_id", speakerID),
			slog.Int("bytes", len(data)),
		)
		if m.metrics != nil {
			m.metrics.RecordAudioChunkDropped()
		}
		return nil
	}

	if err := handle.stream.Send(data); err != nil {
		m.logger.Warn("Failed to forward audio chunk",
			slog.String("bot_id", m.config.BotID),
			slog.String("speaker_id", speakerID),
			slog.String("error", err.Error()),
		)
		if m.metrics != nil {
			m.metrics.RecordAudioChunkDropped()
		}
		return nil
	}

	m.touch(speakerID)

	if m.metrics != nil {
		m.metrics.RecordAudioReceived(len(data))
	}

	return nil
}

// touch refreshes a speaker's last activity time
func (m *Multiplexer) touch(speakerID string) {
	m.mu.Lock()
	if handle, ok := m.handles[speakerID]; ok {
		handle.lastActivity = time.Now()
	}
	m.mu.Unlock()
}

// emit builds and delivers a transcript event for a speaker's result
func (m *Multiplexer) emit(speakerID string, result Result) {
	m.mu.Lock()
	speakerName := m.speakerNames[speakerID]
	m.mu.Unlock()

	event := Event{
		BotID:       m.config.BotID,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Text:        result.Text,
		TimestampMS: time.Now().UnixMilli(),
		DurationMS:  result.Duration.Milliseconds(),
		IsFinal:     result.IsFinal,
		Metadata:    m.config.Metadata,
	}

	if m.onEvent != nil {
		m.onEvent(event)
	}
}

// CleanupIdleHandles closes and removes streams whose speakers have been
// silent longer than the silence timeout. Returns the number evicted.
func (m *Multiplexer) CleanupIdleHandles() int {
	now := time.Now()

	m.mu.Lock()
	var expired []*Handle
	for speakerID, handle := range m.handles {
		if now.Sub(handle.lastActivity) > m.config.SilenceTimeout {
			delete(m.handles, speakerID)
			expired = append(expired, handle)
		}
	}
	m.mu.Unlock()

	for _, handle := range expired {
		if err := handle.stream.Close(); err != nil {
			m.logger.Warn("Failed to close idle stream",
				slog.String("speaker_id", handle.SpeakerID),
				slog.String("error", err.Error()),
			)
		}

		m.logger.Info("Evicted idle recognition stream",
			slog.String("bot_id", m.config.BotID),
			slog.String("speaker_id", handle.SpeakerID),
		)

		if m.metrics != nil {
			m.metrics.RecordStreamEvicted()
		}
	}

	return len(expired)
}

// FinishAll closes every open stream. Idempotent; a speaker's next audio
// chunk after FinishAll would open a fresh stream.
func (m *Multiplexer) FinishAll() {
	m.mu.Lock()
	remaining := make([]*Handle, 0, len(m.handles))
	for speakerID, handle := range m.handles {
		delete(m.handles, speakerID)
		remaining = append(remaining, handle)
	}
	m.mu.Unlock()

	for _, handle := range remaining {
		if err := handle.stream.Close(); err != nil {
			m.logger.Warn("Failed to close stream",
				slog.String("speaker_id", handle.SpeakerID),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(remaining) > 0 {
		m.logger.Info("Closed all recognition streams",
			slog.String("bot_id", m.config.BotID),
			slog.Int("count", len(remaining)),
		)
	}
}

// HandleCount returns the number of currently open handles
func (m *Multiplexer) HandleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Speakers returns the IDs of speakers with open handles
func (m *Multiplexer) Speakers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	speakers := make([]string, 0, len(m.handles))
	for speakerID := range m.handles {
		speakers = append(speakers, speakerID)
	}
	return speakers
}
