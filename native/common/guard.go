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

// ReentrancyGuard rejects entry into a guarded operation while another one is
// in flight on the same instance. The zero value is ready for use.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter marks the guard as held. It returns ErrReentrantCall when the guard is
// already held; callers must pair a successful Enter with Exit, typically via
// defer.
func (g *ReentrancyGuard) Enter() error {
	if !g.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

// Exit releases the guard.
func (g *ReentrancyGuard) Exit() { g.entered.Store(false) }

// Entered reports whether an operation currently holds the guard.
func (g *ReentrancyGuard) Entered() bool { return g.entered.Load() }
