package common

import (
	"errors"
	"sync/atomic"
)

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSwitch is a PauseView backed by a single flag covering every module.
type PauseSwitch struct {
	paused atomic.Bool
}

// Set toggles the flag.
func (s *PauseSwitch) Set(paused bool) {
	s.paused.Store(paused)
}

// IsPaused implements PauseView.
func (s *PauseSwitch) IsPaused(string) bool {
	return s.paused.Load()
}

// Lock is a non-reentrant call guard. It tracks call-stack re-entry, not
// goroutine concurrency: hosts must still serialise calls themselves.
type Lock struct {
	held bool
}

// Enter acquires the lock. The returned release must be called on every exit
// path, typically with defer.
func (l *Lock) Enter() (func(), error) {
	if l.held {
		return nil, ErrReentrantCall
	}
	l.held = true
	return func() { l.held = false }, nil
}

// Held reports whether a call is in progress.
func (l *Lock) Held() bool {
	return l.held
}
