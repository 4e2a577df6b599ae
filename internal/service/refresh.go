package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// FreshCredential is a replacement access token together with the holder's
// place in the replay order. Requests that shared one refresh are replayed
// in the order they failed: each holder waits for its turn, dispatches, then
// calls Dispatched to hand the turn on.
type FreshCredential struct {
	AccessToken string

	turn <-chan struct{}
	done chan struct{}
	once sync.Once
}

func newFreshCredential(token string, turn <-chan struct{}) *FreshCredential {
	return &FreshCredential{AccessToken: token, turn: turn, done: make(chan struct{})}
}

// AwaitTurn blocks until every earlier holder has dispatched its replay.
// If ctx ends first the turn is still passed on once it arrives.
func (c *FreshCredential) AwaitTurn(ctx context.Context) error {
	if c.turn == nil {
		return nil
	}
	select {
	case <-c.turn:
		return nil
	case <-ctx.Done():
		go c.abandon()
		return ctx.Err()
	}
}

// Dispatched releases the next holder. Safe to call more than once.
func (c *FreshCredential) Dispatched() {
	c.once.Do(func() { close(c.done) })
}

func (c *FreshCredential) abandon() {
	if c.turn != nil {
		<-c.turn
	}
	c.Dispatched()
}

type refreshOutcome struct {
	cred *FreshCredential
	err  error
}

type waiter struct {
	result chan refreshOutcome
}

// wait never leaves the coordinator blocked: result is buffered, and an
// abandoned waiter still passes its replay turn along.
func (w *waiter) wait(ctx context.Context) (*FreshCredential, error) {
	select {
	case o := <-w.result:
		return o.cred, o.err
	case <-ctx.Done():
		go func() {
			if o := <-w.result; o.cred != nil {
				o.cred.abandon()
			}
		}()
		return nil, ctx.Err()
	}
}

// RefreshCoordinator allows at most one refresh call in flight and fans its
// result out to everyone who asked while it was running.
type RefreshCoordinator struct {
	mu         sync.Mutex
	refreshing bool
	waiters    []*waiter

	store     *SessionStore
	refresher Refresher
	log       *zap.SugaredLogger
}

func NewRefreshCoordinator(store *SessionStore, refresher Refresher, log *zap.SugaredLogger) *RefreshCoordinator {
	return &RefreshCoordinator{
		store:     store,
		refresher: refresher,
		log:       log,
	}
}

// ObtainFreshCredential returns an access token to replace rejected, the one
// the upstream refused. If the session already holds a different token, a
// refresh settled in the meantime and that token is returned as is. Otherwise
// the first caller performs the refresh and callers arriving while it runs are
// queued and settled with its result. Any failure matches ErrRefreshRejected.
func (c *RefreshCoordinator) ObtainFreshCredential(ctx context.Context, rejected string) (*FreshCredential, error) {
	c.mu.Lock()
	if c.refreshing {
		w := &waiter{result: make(chan refreshOutcome, 1)}
		c.waiters = append(c.waiters, w)
		queued := len(c.waiters)
		c.mu.Unlock()

		c.log.Debugw("Refresh in flight, request queued", "position", queued)
		return w.wait(ctx)
	}
	if current := c.store.Read().AccessToken(); current != "" && current != rejected {
		c.mu.Unlock()
		c.log.Debugw("Session already holds a newer token, skipping refresh")
		return newFreshCredential(current, nil), nil
	}
	c.refreshing = true
	c.mu.Unlock()

	return c.refresh(context.WithoutCancel(ctx))
}

// Pending reports how many callers are queued behind the current refresh.
func (c *RefreshCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *RefreshCoordinator) refresh(ctx context.Context) (*FreshCredential, error) {
	refreshToken := c.store.Read().RefreshToken()
	if refreshToken == "" {
		return nil, c.fail(ctx, ErrNoRefreshToken)
	}

	pair, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, c.fail(ctx, err)
	}

	switch err := c.store.replaceCredentials(ctx, refreshToken, pair); {
	case errors.Is(err, ErrSessionChanged):
		return nil, c.reject(&RefreshError{Err: err})
	case err != nil:
		c.log.Warnw("Refreshed credentials not fully persisted", "error", err)
	}

	waiters := c.detach()
	initiator := newFreshCredential(pair.AccessToken, nil)
	turn := initiator.done
	for _, w := range waiters {
		cred := newFreshCredential(pair.AccessToken, turn)
		w.result <- refreshOutcome{cred: cred}
		turn = cred.done
	}

	c.log.Infow("Credentials refreshed", "replayed", len(waiters)+1)
	return initiator, nil
}

// fail clears the session before settling waiters so that nobody observes a
// rejection while the session still looks authenticated.
func (c *RefreshCoordinator) fail(ctx context.Context, cause error) error {
	if err := c.store.clear(ctx, ReasonRefreshRejected); err != nil {
		c.log.Warnw("Session clear after refresh failure incomplete", "error", err)
	}
	return c.reject(&RefreshError{Err: cause})
}

// reject settles every waiter with rerr and leaves the session untouched.
func (c *RefreshCoordinator) reject(rerr *RefreshError) error {
	waiters := c.detach()
	for _, w := range waiters {
		w.result <- refreshOutcome{err: rerr}
	}

	c.log.Warnw("Refresh rejected", "error", rerr.Err, "rejected", len(waiters))
	return rerr
}

func (c *RefreshCoordinator) detach() []*waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	return waiters
}
