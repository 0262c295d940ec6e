// Package session carries the lifecycle of one monitoring run: the root
// context, the stop signal, and the currently-processing marker used
// for stall detection. It replaces process-wide mutable flags so
// several sessions can coexist in tests.
package session

import (
	"context"
	"sync"
	"time"
)

// Session is created at startup and torn down at shutdown. All
// components hold a reference instead of reading global state.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	currentFile string
	startedAt   time.Time
}

// New creates a session rooted in the given parent context.
func New(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)

	return &Session{ctx: ctx, cancel: cancel}
}

// Context returns the session context. It is canceled by Stop.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Stop signals shutdown. Components observing the session context
// finish their current cycle and exit.
func (s *Session) Stop() {
	s.cancel()
}

// Stopped reports whether the session has been stopped.
func (s *Session) Stopped() bool {
	return s.ctx.Err() != nil
}

// BeginProcessing marks the file currently being read, so a stall
// watchdog can report which extraction is stuck.
func (s *Session) BeginProcessing(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentFile = path
	s.startedAt = time.Now()
}

// EndProcessing clears the currently-processing marker.
func (s *Session) EndProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentFile = ""
	s.startedAt = time.Time{}
}

// Processing returns the in-flight file path and when its extraction
// started. ok is false when nothing is being processed.
func (s *Session) Processing() (path string, since time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentFile, s.startedAt, s.currentFile != ""
}
