package client

import (
	"context"
	"sync/atomic"

	"moviebox-proxy-go/internal/model"
)

// SessionState owns the catalog session. The bootstrap runs at most once
// successfully; a failed attempt is not remembered, so the next caller
// retries it.
type SessionState struct {
	// sem admits one bootstrap at a time; waiters can give up on their ctx.
	sem     chan struct{}
	current atomic.Pointer[model.Session]
	init    func(ctx context.Context) (*model.Session, error)
}

// NewSessionState returns a SessionState that establishes the session with init.
func NewSessionState(init func(ctx context.Context) (*model.Session, error)) *SessionState {
	return &SessionState{
		sem:  make(chan struct{}, 1),
		init: init,
	}
}

// Ensure returns the established session, running the bootstrap first if needed.
// Concurrent callers wait for a single bootstrap, or until their ctx is done.
func (s *SessionState) Ensure(ctx context.Context) (*model.Session, error) {
	if sess := s.current.Load(); sess != nil {
		return sess, nil
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	if sess := s.current.Load(); sess != nil {
		return sess, nil
	}
	sess, err := s.init(ctx)
	if err != nil {
		return nil, err
	}
	s.current.Store(sess)
	return sess, nil
}

// Current returns the established session, or nil before the first successful
// bootstrap. It does not wait for a bootstrap in progress.
func (s *SessionState) Current() *model.Session {
	return s.current.Load()
}
