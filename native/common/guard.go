package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module, or a dotted sub-key such as
// "lending.borrow", has been paused by an operator.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when any of the supplied keys is paused.
func Guard(p PauseView, keys ...string) error {
	if p == nil {
		return nil
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if p.IsPaused(key) {
			return ErrModulePaused
		}
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed set of paused keys.
type StaticPauses map[string]bool

func (s StaticPauses) IsPaused(module string) bool {
	return s[module]
}
