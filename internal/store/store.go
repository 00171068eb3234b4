// Package store defines the narrow interface the sync core needs from a
// push-based document store, plus the subscription handles shared by all
// backends.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a one-shot operation targets a missing document.
var ErrNotFound = errors.New("document not found")

// Document is a decoded wire document. A collection snapshot is a Document
// whose values are the child documents keyed by child key.
type Document map[string]any

// ChildEventKind classifies child-listener events.
type ChildEventKind int

const (
	ChildAdded ChildEventKind = iota
	ChildChanged
	ChildRemoved
	// ChildReplayDone marks the end of the initial replay of existing
	// children. Key and Doc are empty. It is emitted exactly once per
	// subscription, even when the collection starts out empty.
	ChildReplayDone
)

// ChildEvent is a single child-listener event under a collection path.
type ChildEvent struct {
	Kind ChildEventKind
	Key  string
	Doc  Document
}

// Store is the minimum surface required from the remote document store.
//
// Subscriptions fire once immediately with the current value and then on every
// change until closed. A terminal transport failure is surfaced once via
// Err() after the subscription channel closes.
type Store interface {
	// SubscribeValue streams full-subtree snapshots of the document at path.
	// An absent document is delivered as a nil Document, not an error.
	SubscribeValue(ctx context.Context, path string) (*ValueSubscription, error)

	// SubscribeChildren streams added/changed/removed events for the children
	// of path. Existing children are replayed as added events first,
	// followed by a single ChildReplayDone marker.
	SubscribeChildren(ctx context.Context, path string) (*ChildSubscription, error)

	// ReadOnce returns the current snapshot at path, nil if absent.
	ReadOnce(ctx context.Context, path string) (Document, error)

	// Write replaces the document at path.
	Write(ctx context.Context, path string, doc Document) error

	// Update merges the given fields into the document at path. Updating a
	// missing document is a reported failure (ErrNotFound), not an upsert.
	Update(ctx context.Context, path string, fields Document) error

	// RangeQuery returns the children of path whose orderBy field falls in
	// [startAt, endAt], sorted ascending by that field.
	RangeQuery(ctx context.Context, path, orderBy, startAt, endAt string) ([]Document, error)
}

// ValueSubscription streams document snapshots.
type ValueSubscription = Subscription[Document]

// ChildSubscription streams child events.
type ChildSubscription = Subscription[ChildEvent]
