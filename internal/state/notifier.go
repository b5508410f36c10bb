package state

import (
	"context"
	"sync"
)

// notifier is a one-shot wakeup broadcaster. Wait blocks until ready
// reports true or ctx is done. NotifyWaiters closes the current channel,
// waking every waiter, and installs a fresh one.
//
// ready is evaluated while holding n.mu, the same lock NotifyWaiters takes
// to swap the channel, so a Notify that lands between the caller's own
// predicate check and the point where it would otherwise start waiting
// can never be missed: either ready already observes the post-notify
// state and Wait returns immediately, or NotifyWaiters hasn't run yet and
// Wait snapshots the channel it will in fact close. There is no window
// where a waiter can check false, have the notify fire, and then block on
// a channel nothing will ever close again.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) Wait(ctx context.Context, ready func() bool) error {
	for {
		n.mu.Lock()
		if ready() {
			n.mu.Unlock()
			return nil
		}
		ch := n.ch
		n.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (n *notifier) NotifyWaiters() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}
