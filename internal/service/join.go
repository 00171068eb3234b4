package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/pkg/logger"
	"github.com/chatwire/messenger-sync/pkg/metrics"
)

// ProfileJoiner resolves sets of user ids to their profiles by holding one
// remote subscription per id and merging every arrival into a shared map.
//
// Each id settles exactly once: the first time its subscription yields a
// value, reports an absent document, or fails. Resolve blocks only until
// every requested id has settled or the wall-clock budget elapses, whichever
// comes first. Subscriptions stay open afterwards, so later profile edits
// keep flowing into the merged map for as long as the joiner lives.
//
// The joiner is keyed by id, not by call: resolving an id that has already
// settled neither re-subscribes nor re-counts it.
//
// A joiner belongs to a single consuming session. Callers create one per
// request or stream and Close it when the session ends; sharing one across
// sessions would accumulate subscriptions for the process lifetime and leak
// profiles between callers.
type ProfileJoiner struct {
	store  store.Store
	logger *logger.Logger
	budget time.Duration

	mu       sync.Mutex
	profiles map[string]model.Profile
	settled  map[string]bool
	subs     map[string]*store.ValueSubscription
	waiters  map[*joinWaiter]struct{}
	watchers map[chan map[string]model.Profile]struct{}
	closed   bool

	pumps sync.WaitGroup
}

type joinWaiter struct {
	want      map[string]bool
	remaining int
	done      chan struct{}
}

// NewProfileJoiner creates a joiner with the given default budget.
func NewProfileJoiner(st store.Store, budget time.Duration, log *logger.Logger) *ProfileJoiner {
	return &ProfileJoiner{
		store:    st,
		logger:   log,
		budget:   budget,
		profiles: make(map[string]model.Profile),
		settled:  make(map[string]bool),
		subs:     make(map[string]*store.ValueSubscription),
		waiters:  make(map[*joinWaiter]struct{}),
		watchers: make(map[chan map[string]model.Profile]struct{}),
	}
}

// Resolve ensures a subscription exists for every id, then waits until all
// requested ids have settled or the budget elapses, and returns the merged
// map known at that point. A zero budget uses the joiner default. An empty
// id set returns immediately. Budget expiry is not an error: the map is
// "good enough, may still grow", and unresolved subscriptions keep running
// in the background.
func (j *ProfileJoiner) Resolve(ctx context.Context, userIDs []string, budget time.Duration) map[string]model.Profile {
	if budget <= 0 {
		budget = j.budget
	}
	start := time.Now()

	j.mu.Lock()
	if j.closed {
		snap := j.snapshotLocked()
		j.mu.Unlock()
		return snap
	}

	waiter := &joinWaiter{want: make(map[string]bool), done: make(chan struct{})}
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		j.ensureSubscriptionLocked(ctx, id)
		if !j.settled[id] && !waiter.want[id] {
			waiter.want[id] = true
			waiter.remaining++
		}
	}

	if waiter.remaining == 0 {
		snap := j.snapshotLocked()
		j.mu.Unlock()
		metrics.JoinDuration.Observe(time.Since(start).Seconds())
		return snap
	}
	j.waiters[waiter] = struct{}{}
	j.mu.Unlock()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-waiter.done:
	case <-timer.C:
		metrics.JoinBudgetExpiredTotal.Inc()
		j.logger.Debug("profile join budget elapsed", zap.Duration("budget", budget))
	case <-ctx.Done():
	}

	j.mu.Lock()
	delete(j.waiters, waiter)
	snap := j.snapshotLocked()
	j.mu.Unlock()

	metrics.JoinDuration.Observe(time.Since(start).Seconds())
	return snap
}

// Snapshot returns a copy of the merged profile map.
func (j *ProfileJoiner) Snapshot() map[string]model.Profile {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

// Watch returns a channel of merged-map snapshots, published after every
// profile arrival, and a cancel function. Snapshots are conflated: a slow
// reader sees the latest state, never a torn one. The cancel function must be
// called when the caller loses interest.
func (j *ProfileJoiner) Watch() (<-chan map[string]model.Profile, func()) {
	ch := make(chan map[string]model.Profile, 1)

	j.mu.Lock()
	j.watchers[ch] = struct{}{}
	ch <- j.snapshotLocked()
	j.mu.Unlock()

	cancel := func() {
		j.mu.Lock()
		delete(j.watchers, ch)
		j.mu.Unlock()
	}
	return ch, cancel
}

// Close detaches every profile subscription and waits for the pump
// goroutines to exit.
func (j *ProfileJoiner) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	subs := make([]*store.ValueSubscription, 0, len(j.subs))
	for _, sub := range j.subs {
		subs = append(subs, sub)
	}
	j.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	j.pumps.Wait()
}

func (j *ProfileJoiner) ensureSubscriptionLocked(ctx context.Context, id string) {
	if _, ok := j.subs[id]; ok {
		return
	}

	// The subscription outlives the resolving call: its lifetime is the
	// joiner's, not the caller's request.
	sub, err := j.store.SubscribeValue(context.WithoutCancel(ctx), store.ProfilePath(id))
	if err != nil {
		// Counted as settled so the caller is not held hostage by an id
		// that cannot even be subscribed.
		j.settleLocked(id, "error")
		return
	}
	j.subs[id] = sub
	metrics.SubscriptionsActive.WithLabelValues("profile").Inc()

	j.pumps.Add(1)
	go func() {
		defer func() {
			metrics.SubscriptionsActive.WithLabelValues("profile").Dec()
			j.pumps.Done()
		}()

		for doc := range sub.C {
			if doc == nil {
				// Profile missing remotely: settles the id without adding
				// a map entry; a later write will still arrive here.
				j.mu.Lock()
				j.settleLocked(id, "missing")
				j.mu.Unlock()
				continue
			}
			profile, err := model.DecodeProfile(doc)
			if err != nil {
				j.logger.Warn("skipping undecodable profile",
					zap.String("user_id", id), zap.Error(err))
				j.mu.Lock()
				j.settleLocked(id, "error")
				j.mu.Unlock()
				continue
			}

			j.mu.Lock()
			j.profiles[id] = profile
			j.settleLocked(id, "resolved")
			j.publishLocked()
			j.mu.Unlock()
		}

		outcome := "abandoned"
		if sub.Err() != nil {
			outcome = "error"
		}
		j.mu.Lock()
		j.settleLocked(id, outcome)
		j.mu.Unlock()
	}()
}

// settleLocked counts the id's settlement exactly once and releases any
// waiter whose last wanted id this was.
func (j *ProfileJoiner) settleLocked(id, outcome string) {
	if j.settled[id] {
		return
	}
	j.settled[id] = true
	metrics.JoinSettlementsTotal.WithLabelValues(outcome).Inc()

	for w := range j.waiters {
		if w.want[id] {
			w.want[id] = false
			w.remaining--
			if w.remaining == 0 {
				close(w.done)
				delete(j.waiters, w)
			}
		}
	}
}

// publishLocked pushes a fresh snapshot to every watcher, conflating when a
// watcher has not consumed the previous one.
func (j *ProfileJoiner) publishLocked() {
	snap := j.snapshotLocked()
	for ch := range j.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// snapshotLocked returns a defensive copy; observers never see the live map.
func (j *ProfileJoiner) snapshotLocked() map[string]model.Profile {
	snap := make(map[string]model.Profile, len(j.profiles))
	for id, p := range j.profiles {
		snap[id] = p
	}
	return snap
}
