// Package storage defines the persistence contract of the engine: a
// handful of single-value settings that must survive restarts. The
// remote service owns threads, runs and messages; locally we only keep
// the provisioned assistant id and each user's thread id.
package storage

import "context"

// Store is a get/set store for engine settings. A missing value reads as
// the empty string, never as an error.
type Store interface {
	// AssistantID returns the provisioned assistant id, or "" when no
	// assistant has been provisioned yet.
	AssistantID(ctx context.Context) (string, error)

	// SetAssistantID records the provisioned assistant id.
	SetAssistantID(ctx context.Context, id string) error

	// ThreadID returns the thread id bound to the user, or "".
	ThreadID(ctx context.Context, user string) (string, error)

	// SetThreadID binds a thread id to the user, replacing any previous
	// binding.
	SetThreadID(ctx context.Context, user, threadID string) error

	// DeleteThreadID removes the user's thread binding. Deleting an
	// absent binding is not an error.
	DeleteThreadID(ctx context.Context, user string) error

	Close() error
}
