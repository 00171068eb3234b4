// Package memory provides an in-process push-based document store. It backs
// package-level tests and local development; production deployments use the
// NATS KeyValue adapter.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chatwire/messenger-sync/internal/store"
)

// Store is an in-memory implementation of store.Store. Every mutation is
// pushed to matching subscriptions in order; each subscription has its own
// pump goroutine so a slow consumer never blocks the store.
type Store struct {
	mu        sync.Mutex
	docs      map[string]store.Document
	valueSubs map[*valueSubState]struct{}
	childSubs map[*childSubState]struct{}
	writeErrs map[string]error
}

type valueSubState struct {
	path   string
	sub    *store.ValueSubscription
	queue  []store.Document
	cond   *sync.Cond
	closed bool
	errOut error
}

type childSubState struct {
	path   string
	sub    *store.ChildSubscription
	queue  []store.ChildEvent
	cond   *sync.Cond
	closed bool
	errOut error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:      make(map[string]store.Document),
		valueSubs: make(map[*valueSubState]struct{}),
		childSubs: make(map[*childSubState]struct{}),
		writeErrs: make(map[string]error),
	}
}

// SubscribeValue implements store.Store. The current snapshot is delivered
// first, then one snapshot per mutation under path.
func (s *Store) SubscribeValue(ctx context.Context, path string) (*store.ValueSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &valueSubState{path: path, cond: sync.NewCond(&s.mu)}
	st.sub = store.NewSubscription[store.Document](func() {
		s.mu.Lock()
		st.closed = true
		st.cond.Signal()
		s.mu.Unlock()
	})
	st.queue = append(st.queue, s.snapshotAtLocked(path))
	s.valueSubs[st] = struct{}{}

	go s.pumpValue(st)
	return st.sub, nil
}

// SubscribeChildren implements store.Store. Existing children are replayed as
// added events in key order, then a replay-done marker is queued so consumers
// can tell an empty collection apart from one still replaying.
func (s *Store) SubscribeChildren(ctx context.Context, path string) (*store.ChildSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &childSubState{path: path, cond: sync.NewCond(&s.mu)}
	st.sub = store.NewSubscription[store.ChildEvent](func() {
		s.mu.Lock()
		st.closed = true
		st.cond.Signal()
		s.mu.Unlock()
	})
	for _, key := range s.childKeysLocked(path) {
		st.queue = append(st.queue, store.ChildEvent{
			Kind: store.ChildAdded,
			Key:  key,
			Doc:  cloneDoc(s.docs[path+"/"+key]),
		})
	}
	st.queue = append(st.queue, store.ChildEvent{Kind: store.ChildReplayDone})
	s.childSubs[st] = struct{}{}

	go s.pumpChild(st)
	return st.sub, nil
}

// ReadOnce implements store.Store.
func (s *Store) ReadOnce(ctx context.Context, path string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotAtLocked(path), nil
}

// Write implements store.Store.
func (s *Store) Write(ctx context.Context, path string, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErrLocked(path); err != nil {
		return err
	}

	_, existed := s.docs[path]
	s.docs[path] = cloneDoc(doc)
	s.dispatchLocked(path, existed)
	return nil
}

// Update implements store.Store. Updating a missing document fails with
// store.ErrNotFound rather than creating it.
func (s *Store) Update(ctx context.Context, path string, fields store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErrLocked(path); err != nil {
		return err
	}

	doc, ok := s.docs[path]
	if !ok {
		return fmt.Errorf("update %s: %w", path, store.ErrNotFound)
	}
	for k, v := range fields {
		doc[k] = copyValue(v)
	}
	s.dispatchLocked(path, true)
	return nil
}

// Delete removes a document and emits a child-removed event. Not part of
// store.Store; used by tests to exercise removal handling.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[path]; !ok {
		return
	}
	delete(s.docs, path)

	for st := range s.valueSubs {
		if pathAffects(path, st.path) {
			st.queue = append(st.queue, s.snapshotAtLocked(st.path))
			st.cond.Signal()
		}
	}
	parent, key := splitPath(path)
	for st := range s.childSubs {
		if st.path == parent {
			st.queue = append(st.queue, store.ChildEvent{Kind: store.ChildRemoved, Key: key})
			st.cond.Signal()
		}
	}
}

// RangeQuery implements store.Store. The range is inclusive on both ends so a
// prefix query can pass prefix+"" as the upper bound.
func (s *Store) RangeQuery(ctx context.Context, path, orderBy, startAt, endAt string) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type entry struct {
		key   string
		field string
		doc   store.Document
	}
	var entries []entry
	for _, key := range s.childKeysLocked(path) {
		doc := s.docs[path+"/"+key]
		field, _ := doc[orderBy].(string)
		if field >= startAt && field <= endAt {
			entries = append(entries, entry{key: key, field: field, doc: cloneDoc(doc)})
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

// FailPath terminates every active subscription at path with err, simulating
// a transport failure. Queued values are delivered before the error.
func (s *Store) FailPath(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for st := range s.valueSubs {
		if st.path == path {
			st.errOut = err
			st.closed = true
			st.cond.Signal()
		}
	}
	for st := range s.childSubs {
		if st.path == path {
			st.errOut = err
			st.closed = true
			st.cond.Signal()
		}
	}
}

// SetWriteError makes Write and Update fail for paths under prefix. Passing a
// nil error clears the injection.
func (s *Store) SetWriteError(prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.writeErrs, prefix)
		return
	}
	s.writeErrs[prefix] = err
}

func (s *Store) writeErrLocked(path string) error {
	for prefix, err := range s.writeErrs {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return err
		}
	}
	return nil
}

func (s *Store) dispatchLocked(path string, existed bool) {
	for st := range s.valueSubs {
		if pathAffects(path, st.path) {
			st.queue = append(st.queue, s.snapshotAtLocked(st.path))
			st.cond.Signal()
		}
	}

	parent, key := splitPath(path)
	kind := store.ChildAdded
	if existed {
		kind = store.ChildChanged
	}
	for st := range s.childSubs {
		if st.path == parent {
			st.queue = append(st.queue, store.ChildEvent{Kind: kind, Key: key, Doc: cloneDoc(s.docs[path])})
			st.cond.Signal()
		}
	}
}

func (s *Store) pumpValue(st *valueSubState) {
	s.mu.Lock()
	for {
		for len(st.queue) == 0 && !st.closed {
			st.cond.Wait()
		}
		if len(st.queue) > 0 {
			doc := st.queue[0]
			st.queue = st.queue[1:]
			s.mu.Unlock()
			ok := st.sub.Push(doc)
			s.mu.Lock()
			if !ok {
				break
			}
			continue
		}
		break
	}
	errOut := st.errOut
	delete(s.valueSubs, st)
	s.mu.Unlock()

	if errOut != nil {
		st.sub.Fail(errOut)
	} else {
		st.sub.Finish()
	}
}

func (s *Store) pumpChild(st *childSubState) {
	s.mu.Lock()
	for {
		for len(st.queue) == 0 && !st.closed {
			st.cond.Wait()
		}
		if len(st.queue) > 0 {
			ev := st.queue[0]
			st.queue = st.queue[1:]
			s.mu.Unlock()
			ok := st.sub.Push(ev)
			s.mu.Lock()
			if !ok {
				break
			}
			continue
		}
		break
	}
	errOut := st.errOut
	delete(s.childSubs, st)
	s.mu.Unlock()

	if errOut != nil {
		st.sub.Fail(errOut)
	} else {
		st.sub.Finish()
	}
}

// snapshotAtLocked assembles the subtree rooted at path, nil when absent.
func (s *Store) snapshotAtLocked(path string) store.Document {
	if doc, ok := s.docs[path]; ok {
		return cloneDoc(doc)
	}

	var out store.Document
	prefix := path + "/"
	for key, doc := range s.docs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if out == nil {
			out = store.Document{}
		}
		segs := strings.Split(strings.TrimPrefix(key, prefix), "/")
		node := map[string]any(out)
		for _, seg := range segs[:len(segs)-1] {
			next, ok := node[seg].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[seg] = next
			}
			node = next
		}
		node[segs[len(segs)-1]] = map[string]any(cloneDoc(doc))
	}
	return out
}

// childKeysLocked returns the immediate child keys of path, sorted.
func (s *Store) childKeysLocked(path string) []string {
	prefix := path + "/"
	seen := make(map[string]bool)
	var keys []string
	for key := range s.docs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		if !seen[rest] {
			seen[rest] = true
			keys = append(keys, rest)
		}
	}
	sort.Strings(keys)
	return keys
}

// pathAffects reports whether a mutation at mutated is visible to a value
// subscription at subscribed.
func pathAffects(mutated, subscribed string) bool {
	return mutated == subscribed ||
		strings.HasPrefix(mutated, subscribed+"/") ||
		strings.HasPrefix(subscribed, mutated+"/")
}

func splitPath(path string) (parent, key string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func cloneDoc(doc store.Document) store.Document {
	if doc == nil {
		return nil
	}
	out := make(store.Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case store.Document:
		return map[string]any(cloneDoc(t))
	case map[string]any:
		return map[string]any(cloneDoc(store.Document(t)))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
