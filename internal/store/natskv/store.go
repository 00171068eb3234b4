package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

// Store implements store.Store over a JetStream KeyValue bucket. Paths use
// "/" separators and map to KV keys with "." separators; collections are
// watched with a ".>" wildcard.
type Store struct {
	kv     jetstream.KeyValue
	logger *logger.Logger
}

var _ store.Store = (*Store)(nil)

// SubscribeValue implements store.Store.
func (s *Store) SubscribeValue(ctx context.Context, path string) (*store.ValueSubscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	pattern := toKey(path)
	if isCollection(path) {
		pattern += ".>"
	}
	watcher, err := s.kv.Watch(watchCtx, pattern)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	sub := store.NewSubscription[store.Document](func() {
		_ = watcher.Stop()
		cancel()
	})

	if isCollection(path) {
		go s.pumpCollection(watchCtx, path, watcher, sub)
	} else {
		go s.pumpLeaf(watchCtx, watcher, sub)
	}
	return sub, nil
}

// SubscribeChildren implements store.Store.
func (s *Store) SubscribeChildren(ctx context.Context, path string) (*store.ChildSubscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	watcher, err := s.kv.Watch(watchCtx, toKey(path)+".>")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch children %s: %w", path, err)
	}

	sub := store.NewSubscription[store.ChildEvent](func() {
		_ = watcher.Stop()
		cancel()
	})

	go func() {
		prefix := toKey(path) + "."
		seen := make(map[string]bool)

		for entry := range watcher.Updates() {
			if entry == nil {
				// End of initial replay. Forward it so consumers know the
				// existing children, possibly none, have all been seen.
				if !sub.Push(store.ChildEvent{Kind: store.ChildReplayDone}) {
					return
				}
				continue
			}
			key := strings.TrimPrefix(entry.Key(), prefix)

			switch entry.Operation() {
			case jetstream.KeyValuePut:
				doc, err := decodeEntry(entry.Value())
				if err != nil {
					s.logger.Warn("skipping undecodable document",
						zap.String("key", entry.Key()), zap.Error(err))
					continue
				}
				kind := store.ChildAdded
				if seen[key] {
					kind = store.ChildChanged
				}
				seen[key] = true
				if !sub.Push(store.ChildEvent{Kind: kind, Key: key, Doc: doc}) {
					return
				}
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				delete(seen, key)
				if !sub.Push(store.ChildEvent{Kind: store.ChildRemoved, Key: key}) {
					return
				}
			}
		}
		finishSub(watchCtx, sub)
	}()
	return sub, nil
}

// ReadOnce implements store.Store.
func (s *Store) ReadOnce(ctx context.Context, path string) (store.Document, error) {
	if !isCollection(path) {
		entry, err := s.kv.Get(ctx, toKey(path))
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return decodeEntry(entry.Value())
	}

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	defer lister.Stop()

	prefix := toKey(path) + "."
	var out store.Document
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		doc, err := decodeEntry(entry.Value())
		if err != nil {
			continue
		}
		if out == nil {
			out = store.Document{}
		}
		out[strings.TrimPrefix(key, prefix)] = map[string]any(doc)
	}
	return out, nil
}

// Write implements store.Store.
func (s *Store) Write(ctx context.Context, path string, doc store.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if _, err := s.kv.Put(ctx, toKey(path), data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Update implements store.Store. The read-merge-write is not atomic; the
// remote store offers last-write-wins semantics only.
func (s *Store) Update(ctx context.Context, path string, fields store.Document) error {
	entry, err := s.kv.Get(ctx, toKey(path))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("update %s: %w", path, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}

	doc, err := decodeEntry(entry.Value())
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return s.Write(ctx, path, doc)
}

// RangeQuery implements store.Store. KV has no secondary index, so this is a
// scan over the collection filtered client-side; acceptable for the profile
// directory this core queries.
func (s *Store) RangeQuery(ctx context.Context, path, orderBy, startAt, endAt string) ([]store.Document, error) {
	snapshot, err := s.ReadOnce(ctx, path)
	if err != nil {
		return nil, err
	}

	type entry struct {
		key   string
		field string
		doc   store.Document
	}
	var entries []entry
	for key, v := range snapshot {
		child, ok := v.(map[string]any)
		if !ok {
			continue
		}
		field, _ := child[orderBy].(string)
		if field >= startAt && field <= endAt {
			entries = append(entries, entry{key: key, field: field, doc: store.Document(child)})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].field != entries[j].field {
			return entries[i].field < entries[j].field
		}
		return entries[i].key < entries[j].key
	})

	out := make([]store.Document, len(entries))
	for i, e := range entries {
		out[i] = e.doc
	}
	return out, nil
}

func (s *Store) pumpLeaf(ctx context.Context, watcher jetstream.KeyWatcher, sub *store.ValueSubscription) {
	var current store.Document
	replayDone := false

	for entry := range watcher.Updates() {
		if entry == nil {
			replayDone = true
			if !sub.Push(cloneDoc(current)) {
				return
			}
			continue
		}
		switch entry.Operation() {
		case jetstream.KeyValuePut:
			doc, err := decodeEntry(entry.Value())
			if err != nil {
				s.logger.Warn("skipping undecodable document",
					zap.String("key", entry.Key()), zap.Error(err))
				continue
			}
			current = doc
		case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
			current = nil
		}
		if replayDone {
			if !sub.Push(cloneDoc(current)) {
				return
			}
		}
	}
	finishSub(ctx, sub)
}

func (s *Store) pumpCollection(ctx context.Context, path string, watcher jetstream.KeyWatcher, sub *store.ValueSubscription) {
	prefix := toKey(path) + "."
	state := make(map[string]store.Document)
	replayDone := false

	snapshot := func() store.Document {
		if len(state) == 0 {
			return nil
		}
		out := make(store.Document, len(state))
		for k, doc := range state {
			out[k] = map[string]any(cloneDoc(doc))
		}
		return out
	}

	for entry := range watcher.Updates() {
		if entry == nil {
			replayDone = true
			if !sub.Push(snapshot()) {
				return
			}
			continue
		}
		key := strings.TrimPrefix(entry.Key(), prefix)

		switch entry.Operation() {
		case jetstream.KeyValuePut:
			doc, err := decodeEntry(entry.Value())
			if err != nil {
				s.logger.Warn("skipping undecodable document",
					zap.String("key", entry.Key()), zap.Error(err))
				continue
			}
			state[key] = doc
		case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
			delete(state, key)
		}
		if replayDone {
			if !sub.Push(snapshot()) {
				return
			}
		}
	}
	finishSub(ctx, sub)
}

// finishSub ends a subscription stream once the watcher channel closes,
// reporting a terminal error unless the consumer closed the subscription.
func finishSub[T any](ctx context.Context, sub *store.Subscription[T]) {
	select {
	case <-sub.Done():
		sub.Finish()
	default:
		if err := ctx.Err(); err != nil {
			sub.Fail(err)
		} else {
			sub.Fail(errors.New("watcher closed by server"))
		}
	}
}

func decodeEntry(data []byte) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func cloneDoc(doc store.Document) store.Document {
	if doc == nil {
		return nil
	}
	out := make(store.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// toKey maps a document path to a KV key: "a/b/c" -> "a.b.c".
func toKey(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

// isCollection reports whether path addresses a collection rather than a
// single document. Collections: "conversations", "users", "messages/<id>".
func isCollection(path string) bool {
	segs := strings.Count(path, "/") + 1
	if segs == 1 {
		return true
	}
	return segs == 2 && strings.HasPrefix(path, "messages/")
}
