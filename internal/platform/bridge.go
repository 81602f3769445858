package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame types sent by the meeting automation driver
const (
	frameAudio        = 1
	frameParticipant  = 2
	frameMeetingEnded = 3
)

// BridgeConfig contains websocket bridge configuration
type BridgeConfig struct {
	Port        int
	JoinTimeout time.Duration
}

// participantEvent is the JSON payload of a participant frame
type participantEvent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Event string `json:"event"`
}

// WSBridge is the process-side half of the meeting platform integration.
// It serves a local websocket endpoint; the automation driver connects and
// streams binary frames carrying speaker audio, participant roster changes
// and the meeting-ended signal.
type WSBridge struct {
	config    BridgeConfig
	callbacks Callbacks
	logger    *slog.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	connected   chan struct{}
	connectOnce sync.Once

	mu           sync.Mutex
	conn         *websocket.Conn
	participants map[string]string
	closed       bool
}

// NewWSBridge creates a bridge bound to a local port
func NewWSBridge(config BridgeConfig, callbacks Callbacks, logger *slog.Logger) *WSBridge {
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 60 * time.Second
	}

	return &WSBridge{
		config:    config,
		callbacks: callbacks,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 4 * 1024,
		},
		connected:    make(chan struct{}),
		participants: make(map[string]string),
	}
}

// Join starts the local websocket server and waits for the automation
// driver to connect. A timeout is reported as an unsuccessful join, not
// an error.
func (b *WSBridge) Join(ctx context.Context) (bool, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", b.config.Port))
	if err != nil {
		return false, fmt.Errorf("failed to bind bridge port %d: %w", b.config.Port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	b.server = &http.Server{Handler: mux}

	go func() {
		if serveErr := b.server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			b.logger.Warn("Bridge server stopped", slog.String("error", serveErr.Error()))
		}
	}()

	b.logger.Info("Waiting for meeting driver connection",
		slog.Int("port", b.config.Port),
		slog.Duration("timeout", b.config.JoinTimeout),
	)

	select {
	case <-b.connected:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(b.config.JoinTimeout):
		return false, nil
	}
}

// handleWS upgrades the driver connection and consumes its frames
func (b *WSBridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Bridge upgrade failed", slog.String("error", err.Error()))
		return
	}

	b.mu.Lock()
	if b.conn != nil || b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.conn = conn
	b.mu.Unlock()

	b.connectOnce.Do(func() { close(b.connected) })
	b.logger.Info("Meeting driver connected", slog.String("remote", conn.RemoteAddr().String()))

	b.readLoop(conn)
}

// readLoop consumes frames until the driver disconnects. Malformed frames
// are logged and skipped; the loop never kills the session.
func (b *WSBridge) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			b.logger.Debug("Bridge read loop ended", slog.String("error", err.Error()))
			return
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		b.handleFrame(data)
	}
}

func (b *WSBridge) handleFrame(data []byte) {
	if len(data) == 0 {
		return
	}

	switch data[0] {
	case frameAudio:
		speakerID, pcm, err := parseAudioFrame(data)
		if err != nil {
			b.logger.Warn("Skipping malformed audio frame", slog.String("error", err.Error()))
			return
		}
		if b.callbacks.OnAudio != nil {
			b.callbacks.OnAudio(speakerID, pcm, b.participantName(speakerID))
		}

	case frameParticipant:
		event, err := parseParticipantFrame(data)
		if err != nil {
			b.logger.Warn("Skipping malformed participant frame", slog.String("error", err.Error()))
			return
		}

		b.mu.Lock()
		if event.Event == "join" {
			b.participants[event.ID] = event.Name
		} else {
			delete(b.participants, event.ID)
		}
		b.mu.Unlock()

		if event.Event == "join" && b.callbacks.OnParticipantJoined != nil {
			b.callbacks.OnParticipantJoined(event.ID, event.Name)
		}
		if event.Event == "leave" && b.callbacks.OnParticipantLeft != nil {
			b.callbacks.OnParticipantLeft(event.ID, event.Name)
		}

	case frameMeetingEnded:
		b.logger.Info("Meeting ended signal received")
		if b.callbacks.OnMeetingEnded != nil {
			b.callbacks.OnMeetingEnded()
		}

	default:
		b.logger.Warn("Skipping unknown frame type", slog.Int("type", int(data[0])))
	}
}

func (b *WSBridge) participantName(speakerID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.participants[speakerID]
}

// Leave closes the driver connection politely
func (b *WSBridge) Leave() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return
	}

	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving meeting")
	if err := conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second)); err != nil {
		b.logger.Debug("Failed to send close message", slog.String("error", err.Error()))
	}
}

// Cleanup tears the bridge down. Idempotent.
func (b *WSBridge) Cleanup() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conn := b.conn
	b.conn = nil
	server := b.server
	b.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}
}

// parseAudioFrame decodes [1][idLen][speakerID][pcm]
func parseAudioFrame(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("audio frame too short: %d bytes", len(data))
	}

	idLen := int(data[1])
	if idLen == 0 {
		return "", nil, fmt.Errorf("audio frame has empty speaker id")
	}

	if len(data) < 2+idLen {
		return "", nil, fmt.Errorf("audio frame truncated: id length %d, %d bytes total", idLen, len(data))
	}

	return string(data[2 : 2+idLen]), data[2+idLen:], nil
}

// parseParticipantFrame decodes [2][json{id,name,event}]
func parseParticipantFrame(data []byte) (participantEvent, error) {
	var event participantEvent
	if err := json.Unmarshal(data[1:], &event); err != nil {
		return event, fmt.Errorf("invalid participant payload: %w", err)
	}

	if event.ID == "" {
		return event, fmt.Errorf("participant payload missing id")
	}

	if event.Event != "join" && event.Event != "leave" {
		return event, fmt.Errorf("unknown participant event %q", event.Event)
	}

	return event, nil
}
