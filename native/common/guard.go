package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

// Module names checked by the runtime guard.
const (
	ModuleOrderbook = "orderbook"
	ModuleRegistry  = "registry"
	ModuleEscrow    = "escrow"
	ModuleAccounts  = "accounts"
)

type PauseView interface {
	IsPaused(module string) bool
}

// PauseSet is a static PauseView built from configuration.
type PauseSet map[string]struct{}

// NewPauseSet normalises module names to lower case and drops blanks.
func NewPauseSet(modules []string) PauseSet {
	set := make(PauseSet, len(modules))
	for _, module := range modules {
		module = strings.ToLower(strings.TrimSpace(module))
		if module == "" {
			continue
		}
		set[module] = struct{}{}
	}
	return set
}

func (p PauseSet) IsPaused(module string) bool {
	_, ok := p[strings.ToLower(module)]
	return ok
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
