// Package store defines the offline mailbox contract: a durable-until-
// delivered, insertion-ordered queue of envelopes per identity.
package store

import "github.com/pipiwolve/chiikawa-chat/internal/envelope"

type Store interface {
	// Append adds the envelope to the identity's mailbox, creating the
	// mailbox if absent.
	Append(identity string, env *envelope.Message) error

	// Drain returns and atomically clears the mailbox, insertion order
	// preserved. Empty slice if none.
	Drain(identity string) ([]*envelope.Message, error)

	// RemoveOne deletes the single entry matching msgID. No-op if absent.
	// An emptied mailbox is deleted outright.
	RemoveOne(identity, msgID string) error

	// MarkRead flags matching entries read without removing them and
	// reports which of the requested ids were actually found.
	MarkRead(identity string, msgIDs []string) ([]string, error)

	// Count reports the mailbox depth. Diagnostics only.
	Count(identity string) (int, error)
}
