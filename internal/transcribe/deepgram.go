package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultDeepgramEndpoint = "wss://api.deepgram.com/v1/listen"

// DeepgramConfig contains Deepgram connection configuration
type DeepgramConfig struct {
	Endpoint          string
	APIKey            string
	KeepAliveInterval time.Duration
}

// Deepgram opens live transcription streams against the Deepgram
// streaming API over websocket.
type Deepgram struct {
	config DeepgramConfig
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewDeepgram creates a new Deepgram recognizer
func NewDeepgram(config DeepgramConfig, logger *slog.Logger) (*Deepgram, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("deepgram API key is required")
	}

	if config.Endpoint == "" {
		config.Endpoint = defaultDeepgramEndpoint
	}

	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = 5 * time.Second
	}

	return &Deepgram{
		config: config,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// streamURL builds the websocket URL with recognition query parameters
func (d *Deepgram) streamURL(config StreamConfig) (string, error) {
	parsed, err := url.Parse(d.config.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %s: %w", d.config.Endpoint, err)
	}

	query := parsed.Query()
	query.Set("model", config.Model)
	query.Set("language", config.Language)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(config.SampleRate))
	query.Set("interim_results", "true")
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// OpenStream dials a live transcription websocket. There is no automatic
// reconnect: once the connection drops the stream stays disconnected and
// the caller opens a fresh one.
func (d *Deepgram) OpenStream(ctx context.Context, config StreamConfig, onResult func(Result)) (Stream, error) {
	streamURL, err := d.streamURL(config)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.config.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, streamURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to connect to deepgram (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to deepgram: %w", err)
	}

	s := &deepgramStream{
		conn:     conn,
		logger:   d.logger,
		onResult: onResult,
		done:     make(chan struct{}),
	}
	s.connected.Store(true)

	go s.readLoop()
	go s.keepAliveLoop(d.config.KeepAliveInterval)

	d.logger.Debug("Opened deepgram stream",
		slog.String("model", config.Model),
		slog.String("language", config.Language),
		slog.Int("sample_rate", config.SampleRate),
	)

	return s, nil
}

// deepgramStream is one live websocket connection to Deepgram
type deepgramStream struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	onResult func(Result)

	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	// Gorilla websocket allows a single concurrent writer
	writeMu sync.Mutex
}

// Send forwards raw PCM audio to the provider
func (s *deepgramStream) Send(data []byte) error {
	if !s.connected.Load() {
		return fmt.Errorf("stream is not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.connected.Store(false)
		return fmt.Errorf("failed to send audio: %w", err)
	}

	return nil
}

// Close signals end of audio and tears down the connection. Idempotent.
func (s *deepgramStream) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.connected.Store(false)
		close(s.done)

		s.writeMu.Lock()
		writeErr := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		s.writeMu.Unlock()

		closeErr = s.conn.Close()
		if writeErr != nil && closeErr == nil {
			closeErr = writeErr
		}
	})

	return closeErr
}

// Connected reports whether the websocket is still live
func (s *deepgramStream) Connected() bool {
	return s.connected.Load()
}

// readLoop consumes provider messages until the connection drops
func (s *deepgramStream) readLoop() {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.connected.Store(false)
			select {
			case <-s.done:
			default:
				s.logger.Debug("Deepgram read loop ended", slog.String("error", err.Error()))
			}
			return
		}

		result, ok := parseLiveMessage(message)
		if !ok {
			continue
		}

		if s.onResult != nil {
			s.onResult(result)
		}
	}
}

// keepAliveLoop sends periodic keepalive messages so the provider does
// not close the stream during speaker silence
func (s *deepgramStream) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
			if err != nil {
				s.connected.Store(false)
				return
			}
		}
	}
}

// liveMessage mirrors the subset of the Deepgram live response we consume
type liveMessage struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseLiveMessage extracts a transcript result from a provider message.
// Non-result messages and empty transcripts are skipped.
func parseLiveMessage(data []byte) (Result, bool) {
	var msg liveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Result{}, false
	}

	if msg.Type != "" && msg.Type != "Results" {
		return Result{}, false
	}

	if len(msg.Channel.Alternatives) == 0 {
		return Result{}, false
	}

	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
	if text == "" {
		return Result{}, false
	}

	return Result{
		Text:     text,
		IsFinal:  msg.IsFinal,
		Duration: time.Duration(msg.Duration * float64(time.Second)),
	}, true
}
