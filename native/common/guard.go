package common

import "errors"

// ErrModulePaused is returned when a mutation hits a paused module. It is a
// bare sentinel so engines can surface it to callers unchanged.
var ErrModulePaused = errors.New("module paused")

// PauseView is the read side of the operational pause switches. A nil view
// means pausing is not wired and every module runs.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. Queries should not
// be guarded; only state mutations go through here.
func Guard(view PauseView, module string) error {
	if view == nil || module == "" {
		return nil
	}
	if view.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
