package transcribe

import (
	"context"
	"time"
)

// Result is a single transcript emitted by a recognition stream
type Result struct {
	Text     string
	IsFinal  bool
	Duration time.Duration
}

// StreamConfig contains per-stream recognition parameters
type StreamConfig struct {
	Language   string
	Model      string
	SampleRate int
}

// Stream is a live recognition connection for one speaker. Implementations
// deliver results asynchronously, in receive order, to the callback passed
// at open time.
type Stream interface {
	// Send forwards raw PCM audio bytes to the provider
	Send(data []byte) error

	// Close terminates the stream; safe to call more than once
	Close() error

	// Connected reports whether the provider connection is live
	Connected() bool
}

// Recognizer opens streaming recognition connections. Opening is
// synchronous and does not retry; a failure surfaces to the caller.
type Recognizer interface {
	OpenStream(ctx context.Context, config StreamConfig, onResult func(Result)) (Stream, error)
}
