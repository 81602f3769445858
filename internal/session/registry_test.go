package session

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func TestRegistryCreateAssignsUniqueIDs(t *testing.T) {
	registry := newTestRegistry(&recordingTransport{}, &fakeRecognizer{})

	const n = 100
	ids := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := registry.Create(CreateRequest{
				MeetingURL: "https://teams.microsoft.com/l/meetup-join/x",
				WebhookURL: "https://example.com/hook",
			})
			ids <- s.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if !strings.HasPrefix(id, "bot_") || len(id) != len("bot_")+16 {
			t.Errorf("Unexpected id format: %s", id)
		}
		if seen[id] {
			t.Errorf("Duplicate session id: %s", id)
		}
		seen[id] = true
	}

	if registry.Count() != n {
		t.Errorf("Expected %d sessions, got %d", n, registry.Count())
	}
}

func TestRegistryGetRemoveList(t *testing.T) {
	registry := newTestRegistry(&recordingTransport{}, &fakeRecognizer{})

	s := registry.Create(CreateRequest{
		MeetingURL: "https://teams.microsoft.com/l/meetup-join/x",
		WebhookURL: "https://example.com/hook",
	})

	got, ok := registry.Get(s.ID)
	if !ok || got != s {
		t.Fatal("Expected to get the created session back")
	}

	if _, ok := registry.Get("bot_missing"); ok {
		t.Error("Expected lookup miss for unknown id")
	}

	if len(registry.List()) != 1 {
		t.Errorf("Expected 1 session in list, got %d", len(registry.List()))
	}

	if !registry.Remove(s.ID) {
		t.Error("Expected remove to report success")
	}

	if registry.Remove(s.ID) {
		t.Error("Expected second remove to report miss")
	}

	if registry.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", registry.Count())
	}
}

func TestRegistryCounts(t *testing.T) {
	registry := newTestRegistry(&recordingTransport{}, &fakeRecognizer{})

	a := registry.Create(CreateRequest{MeetingURL: "https://teams.microsoft.com/a", WebhookURL: "https://example.com/hook"})
	b := registry.Create(CreateRequest{MeetingURL: "https://teams.microsoft.com/b", WebhookURL: "https://example.com/hook"})
	registry.Create(CreateRequest{MeetingURL: "https://teams.microsoft.com/c", WebhookURL: "https://example.com/hook"})

	a.SetState(StateJoining, "")
	a.SetState(StateInMeeting, "")
	b.SetState(StateJoining, "")
	b.SetState(StateInMeeting, "")

	if registry.ActiveCount() != 2 {
		t.Errorf("Expected 2 active sessions, got %d", registry.ActiveCount())
	}

	if registry.CountInState(StatePending) != 1 {
		t.Errorf("Expected 1 pending session, got %d", registry.CountInState(StatePending))
	}

	stats := registry.Stats()
	if stats.Total != 3 || stats.ByState[StateInMeeting] != 2 || stats.ByState[StatePending] != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestEndSession(t *testing.T) {
	registry := newTestRegistry(&recordingTransport{}, &fakeRecognizer{})

	s := registry.Create(CreateRequest{MeetingURL: "https://teams.microsoft.com/a", WebhookURL: "https://example.com/hook"})
	s.SetState(StateJoining, "")
	s.SetState(StateInMeeting, "")

	ended, ok := registry.EndSession(s.ID, "Session ended by request")
	if !ok {
		t.Fatal("Expected EndSession to find the session")
	}

	if ended.State() != StateEnded {
		t.Errorf("Expected ended, got %s", ended.State())
	}

	if ended.EndedAt() == nil {
		t.Error("Expected EndedAt to be set")
	}

	// Ending again is a no-op that returns the session as-is
	again, ok := registry.EndSession(s.ID, "twice")
	if !ok || again.State() != StateEnded {
		t.Errorf("Expected terminal session returned unchanged, got %s", again.State())
	}

	// Ending does not remove: late status queries still work
	if _, ok := registry.Get(s.ID); !ok {
		t.Error("Expected ended session to remain queryable")
	}

	if _, ok := registry.EndSession("bot_missing", "x"); ok {
		t.Error("Expected miss for unknown id")
	}
}

func TestEndSessionBeforeMeetingFails(t *testing.T) {
	registry := newTestRegistry(&recordingTransport{}, &fakeRecognizer{})

	s := registry.Create(CreateRequest{MeetingURL: "https://teams.microsoft.com/a", WebhookURL: "https://example.com/hook"})

	// A session that never reached the meeting cannot pass through
	// leaving/ended, so the end request terminates it as failed
	ended, ok := registry.EndSession(s.ID, "Session ended by request")
	if !ok {
		t.Fatal("Expected EndSession to find the session")
	}

	if ended.State() != StateFailed {
		t.Errorf("Expected failed, got %s", ended.State())
	}

	if ended.EndedAt() == nil {
		t.Error("Expected EndedAt to be set")
	}
}

func TestRegistryShutdown(t *testing.T) {
	registry := newTestRegistry(&recordingTransport{}, &fakeRecognizer{})

	a := registry.Create(CreateRequest{MeetingURL: "https://teams.microsoft.com/a", WebhookURL: "https://example.com/hook"})
	b := registry.Create(CreateRequest{MeetingURL: "https://teams.microsoft.com/b", WebhookURL: "https://example.com/hook"})
	a.SetState(StateJoining, "")
	a.SetState(StateInMeeting, "")

	registry.Shutdown(context.Background())

	for _, s := range []*Session{a, b} {
		if !s.State().IsTerminal() {
			t.Errorf("Expected session %s terminal after shutdown, got %s", s.ID, s.State())
		}
	}
}
