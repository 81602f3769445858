// Package session implements the bot session lifecycle. A Session is a
// per-meeting state machine that owns a lazily created transcription
// multiplexer, tracks participants, and relays status and transcript
// events to the caller's webhook. The Registry is the concurrency-safe
// directory of live sessions, and Run is the per-session driving loop.
package session
