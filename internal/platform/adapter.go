package platform

import "context"

// Callbacks are invoked by an adapter as meeting activity arrives. All
// callbacks run on goroutines owned by the adapter; receivers must not
// block them. Nil callbacks are skipped.
type Callbacks struct {
	OnAudio             func(speakerID string, data []byte, speakerName string)
	OnMeetingEnded      func()
	OnParticipantJoined func(id, name string)
	OnParticipantLeft   func(id, name string)
}

// Adapter is the narrow interface to the meeting platform. Join reports
// whether the meeting was entered; a false return without an error means
// the platform declined or timed out.
type Adapter interface {
	Join(ctx context.Context) (bool, error)
	Leave()
	Cleanup()
}
