// Package transcription defines the transcription provider interface, the
// backend router, and common types for speech-to-text calls.
package transcription

import "context"

// Provider is the interface that transcription backends must implement.
type Provider interface {
	// Name returns the provider's unique name.
	Name() string

	// IsAvailable checks if the provider is ready to handle requests.
	IsAvailable(ctx context.Context) bool

	// Transcribe sends audio for transcription and returns the result.
	// The call carries its own timeout; a hung backend surfaces as an
	// error instead of stalling the caller's concurrency slot.
	Transcribe(ctx context.Context, req Request) (*Response, error)
}
