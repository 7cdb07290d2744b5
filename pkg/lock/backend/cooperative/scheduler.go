package cooperative

import (
	"container/list"
	"context"
	"log/slog"
)

type op int

const (
	opAcquire op = iota
	opRelease
	opAbandon
	opLocked
	opLen
)

type request struct {
	op     op
	id     string
	waiter *waiter
	done   chan struct{}
	reply  chan bool
	size   chan int
}

type waiter struct {
	granted chan struct{}
	elem    *list.Element
}

func newWaiter() *waiter {
	return &waiter{
		granted: make(chan struct{}),
	}
}

type entry struct {
	held    bool
	holder  *waiter
	waiters *list.List
}

// scheduler owns the registry; only its run loop touches locks and entries.
type scheduler struct {
	locks map[string]*entry
	lg    *slog.Logger
}

func (s *scheduler) run(ctx context.Context, requests <-chan request) {
	for {
		select {
		case <-ctx.Done():
			s.lg.Debug("cooperative scheduler stopped")
			return
		case req := <-requests:
			s.handle(req)
		}
	}
}

func (s *scheduler) handle(req request) {
	switch req.op {
	case opAcquire:
		s.acquire(req.id, req.waiter)
	case opRelease:
		s.release(req.id)
		close(req.done)
	case opAbandon:
		s.abandon(req.id, req.waiter)
	case opLocked:
		e, ok := s.locks[req.id]
		req.reply <- ok && e.held
	case opLen:
		req.size <- len(s.locks)
	}
}

func (s *scheduler) acquire(id string, w *waiter) {
	e, ok := s.locks[id]
	if !ok {
		e = &entry{
			waiters: list.New(),
		}
		s.locks[id] = e
	}
	if !e.held {
		s.grant(id, e, w)
		return
	}
	w.elem = e.waiters.PushBack(w)
	s.lg.With("id", id, "waiters", e.waiters.Len()).Debug("lock contested, suspending caller")
}

func (s *scheduler) grant(id string, e *entry, w *waiter) {
	e.held = true
	e.holder = w
	close(w.granted)
	s.lg.With("id", id).Debug("acquired lock")
}

func (s *scheduler) release(id string) {
	e, ok := s.locks[id]
	if !ok || !e.held {
		return
	}
	s.lg.With("id", id).Debug("released lock")
	if front := e.waiters.Front(); front != nil {
		next := e.waiters.Remove(front).(*waiter)
		next.elem = nil
		s.grant(id, e, next)
		return
	}
	e.held = false
	e.holder = nil
}

// abandon withdraws a waiter whose caller stopped waiting. If the grant raced with the
// caller giving up, the hold is passed on.
func (s *scheduler) abandon(id string, w *waiter) {
	e, ok := s.locks[id]
	if !ok {
		return
	}
	if w.elem != nil {
		e.waiters.Remove(w.elem)
		w.elem = nil
		return
	}
	if e.held && e.holder == w {
		s.release(id)
	}
}
