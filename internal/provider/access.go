package provider

import (
	"context"
	"sync"

	appLog "colorcal/internal/log"
)

// AccessGate runs a provider's permission step at most once per process
// and caches the answer. Concurrent callers share the in-flight request.
// A request that fails with an error is not cached, so a later call asks
// again.
type AccessGate struct {
	request func(context.Context) (AccessResult, error)

	mu       sync.Mutex
	decided  bool
	result   AccessResult
	inflight *accessCall
}

type accessCall struct {
	done   chan struct{}
	result AccessResult
	err    error
}

func NewAccessGate(p Provider) *AccessGate {
	return &AccessGate{request: p.RequestAccess}
}

// Start begins the permission request in the background if it has not
// been decided or started yet. It never blocks.
func (g *AccessGate) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startLocked()
}

func (g *AccessGate) startLocked() *accessCall {
	if g.inflight != nil {
		return g.inflight
	}
	call := &accessCall{done: make(chan struct{})}
	g.inflight = call

	go func() {
		// The request outlives any single caller's context.
		res, err := g.request(context.Background())

		g.mu.Lock()
		call.result, call.err = res, err
		if err == nil {
			g.decided = true
			g.result = res
			appLog.Info("calendar access decided", "granted", res.Granted, "reason", res.Reason)
		} else {
			appLog.Error("calendar access request failed", err)
		}
		g.inflight = nil
		g.mu.Unlock()
		close(call.done)
	}()
	return call
}

// Wait returns the cached answer, or starts/joins the request and waits
// for it. ctx only bounds this caller's wait.
func (g *AccessGate) Wait(ctx context.Context) (AccessResult, error) {
	g.mu.Lock()
	if g.decided {
		res := g.result
		g.mu.Unlock()
		return res, nil
	}
	call := g.startLocked()
	g.mu.Unlock()

	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		return AccessResult{}, ctx.Err()
	}
}

// Require returns nil when access is granted, an AccessDenied error when it
// was refused, and the request error otherwise.
func (g *AccessGate) Require(ctx context.Context) error {
	res, err := g.Wait(ctx)
	if err != nil {
		return Tag(err, "request calendar access")
	}
	if !res.Granted {
		reason := res.Reason
		if reason == "" {
			reason = "calendar access not granted"
		}
		return AccessDenied("%s", reason)
	}
	return nil
}
