package common

import "errors"

// ErrModulePaused is returned by Guard when the named protocol module has
// been switched off in the node configuration.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a protocol module is paused. The node config
// satisfies it; engines consult it through Guard before every state-changing
// entry point.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects an operation targeting a paused module. A nil view or an
// empty module name disables the check, so unwired engines run unguarded.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
