// Package webhook implements validated, retried JSON event delivery to
// caller-supplied endpoints. It enforces an anti-SSRF URL blocklist, wraps
// events in a common envelope, and treats delivery as advisory: exhausted
// retries are logged and absorbed, never surfaced as errors.
package webhook
