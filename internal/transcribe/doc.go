// Package transcribe provides the streaming speech recognition layer.
// It defines the provider-facing Recognizer interface, a Deepgram live
// websocket implementation, and the Multiplexer that fans audio for many
// concurrent speakers into independent recognition streams with idle
// eviction, delivering all transcript events to a single callback.
package transcribe
