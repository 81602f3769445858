package platform

import (
	"bytes"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParseAudioFrame(t *testing.T) {
	frame := []byte{frameAudio, 2, 's', '1', 0xAA, 0xBB, 0xCC}

	speakerID, pcm, err := parseAudioFrame(frame)
	if err != nil {
		t.Fatalf("parseAudioFrame failed: %v", err)
	}

	if speakerID != "s1" {
		t.Errorf("Expected speaker id 's1', got '%s'", speakerID)
	}

	if !bytes.Equal(pcm, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("Unexpected pcm payload: %v", pcm)
	}
}

func TestParseAudioFrameEmptyPayload(t *testing.T) {
	// A frame may carry an id and zero audio bytes
	speakerID, pcm, err := parseAudioFrame([]byte{frameAudio, 1, 'x'})
	if err != nil {
		t.Fatalf("parseAudioFrame failed: %v", err)
	}

	if speakerID != "x" || len(pcm) != 0 {
		t.Errorf("Expected speaker 'x' with empty pcm, got '%s' %v", speakerID, pcm)
	}
}

func TestParseAudioFrameMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "too short", frame: []byte{frameAudio}},
		{name: "empty speaker id", frame: []byte{frameAudio, 0, 0xAA}},
		{name: "truncated id", frame: []byte{frameAudio, 10, 's', '1'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := parseAudioFrame(tt.frame); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestParseParticipantFrame(t *testing.T) {
	frame := append([]byte{frameParticipant}, []byte(`{"id":"p1","name":"Alice","event":"join"}`)...)

	event, err := parseParticipantFrame(frame)
	if err != nil {
		t.Fatalf("parseParticipantFrame failed: %v", err)
	}

	if event.ID != "p1" || event.Name != "Alice" || event.Event != "join" {
		t.Errorf("Unexpected event: %+v", event)
	}
}

func TestParseParticipantFrameMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "invalid json", payload: `{broken`},
		{name: "missing id", payload: `{"name":"Alice","event":"join"}`},
		{name: "unknown event", payload: `{"id":"p1","event":"mute"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := append([]byte{frameParticipant}, []byte(tt.payload)...)
			if _, err := parseParticipantFrame(frame); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestHandleFrameDispatch(t *testing.T) {
	var audioSpeaker, audioName string
	var audioData []byte
	var joined, left []string
	ended := false

	bridge := NewWSBridge(BridgeConfig{Port: 0}, Callbacks{
		OnAudio: func(speakerID string, data []byte, speakerName string) {
			audioSpeaker = speakerID
			audioData = data
			audioName = speakerName
		},
		OnMeetingEnded:      func() { ended = true },
		OnParticipantJoined: func(id, name string) { joined = append(joined, id+"/"+name) },
		OnParticipantLeft:   func(id, name string) { left = append(left, id) },
	}, testLogger())

	bridge.handleFrame(append([]byte{frameParticipant}, []byte(`{"id":"s1","name":"Alice","event":"join"}`)...))

	if len(joined) != 1 || joined[0] != "s1/Alice" {
		t.Errorf("Expected join callback for s1/Alice, got %v", joined)
	}

	// Audio frames resolve the speaker name from the roster
	bridge.handleFrame([]byte{frameAudio, 2, 's', '1', 0x01, 0x02})

	if audioSpeaker != "s1" || audioName != "Alice" {
		t.Errorf("Expected audio for s1/Alice, got %s/%s", audioSpeaker, audioName)
	}

	if !bytes.Equal(audioData, []byte{0x01, 0x02}) {
		t.Errorf("Unexpected audio payload: %v", audioData)
	}

	bridge.handleFrame(append([]byte{frameParticipant}, []byte(`{"id":"s1","name":"Alice","event":"leave"}`)...))

	if len(left) != 1 || left[0] != "s1" {
		t.Errorf("Expected leave callback for s1, got %v", left)
	}

	// Malformed and unknown frames are skipped without callbacks
	bridge.handleFrame([]byte{frameAudio, 0})
	bridge.handleFrame([]byte{99, 1, 2})
	bridge.handleFrame(nil)

	bridge.handleFrame([]byte{frameMeetingEnded})
	if !ended {
		t.Error("Expected meeting ended callback")
	}
}
