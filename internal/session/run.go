package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/michaelbeckers79/attendee/internal/platform"
)

// Run drives a session from joining to its terminal state. It applies
// the join flow, then polls: draining bridged events, ticking idle
// stream eviction, and exiting once the session is terminal or stop is
// requested. Any panic below is recovered and translated into a failed
// terminal state rather than killing the process.
func Run(ctx context.Context, s *Session, adapter platform.Adapter, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	defer func() {
		recovered := recover()

		// Producers fall back to synchronous delivery from here on
		s.loopActive.Store(false)

		if recovered != nil {
			s.logger.Error("Session loop panicked", slog.Any("panic", recovered))
			if err := s.SetState(StateFailed, fmt.Sprintf("internal error: %v", recovered)); err != nil {
				s.logger.Warn("Failed to record panic state", slog.String("error", err.Error()))
			}
		}

		adapter.Leave()
		adapter.Cleanup()
		s.Cleanup()
		s.drainEvents()

		s.logger.Info("Session loop finished", slog.String("state", string(s.State())))
	}()

	s.loopActive.Store(true)

	if err := s.SetState(StateJoining, ""); err != nil {
		s.logger.Warn("Session not startable", slog.String("error", err.Error()))
		return
	}

	joined, err := adapter.Join(ctx)
	if err != nil {
		s.SetState(StateFailed, fmt.Sprintf("failed to join meeting: %v", err))
		return
	}

	if !joined {
		s.SetState(StateFailed, "failed to join meeting")
		return
	}

	if err := s.SetState(StateInMeeting, ""); err != nil {
		// A concurrent end request won the race during the join
		return
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if !s.State().IsTerminal() {
				s.SetState(StateLeaving, "")
				s.SetState(StateEnded, "Server shutting down")
			}
			return

		case record := <-s.events:
			s.deliverEvent(record)

		case <-ticker.C:
			if s.StopRequested() || s.State().IsTerminal() {
				return
			}

			if mux := s.currentMultiplexer(); mux != nil {
				mux.CleanupIdleHandles()
			}
		}
	}
}
