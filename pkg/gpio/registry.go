// Process-wide pin registry and exit hook
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gpio

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// registry tracks every live Pin so shutdown paths can return all of
// them to their declared default states. Access is low-frequency, a
// single mutex suffices.
var registry = struct {
	mu   sync.Mutex
	pins map[*Pin]struct{}
	once sync.Once
}{pins: make(map[*Pin]struct{})}

func register(p *Pin) {
	registry.mu.Lock()
	registry.pins[p] = struct{}{}
	registry.mu.Unlock()
	installExitHandler()
}

func deregister(p *Pin) {
	registry.mu.Lock()
	delete(registry.pins, p)
	registry.mu.Unlock()
}

// transfer moves registry membership in one critical section so no
// shutdown can observe both or neither pin registered.
func transfer(old, new_ *Pin) {
	registry.mu.Lock()
	delete(registry.pins, old)
	registry.pins[new_] = struct{}{}
	registry.mu.Unlock()
}

// DeactivateAll drives every registered pin to its default state. Safe
// to call multiple times and from any exit path.
func DeactivateAll() {
	registry.mu.Lock()
	pins := make([]*Pin, 0, len(registry.pins))
	for p := range registry.pins {
		pins = append(pins, p)
	}
	registry.mu.Unlock()

	for _, p := range pins {
		p.SetToDefault()
	}
}

// LiveCount reports the number of registered pins.
func LiveCount() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.pins)
}

// installExitHandler installs the fatal-signal hook exactly once, on
// first pin registration.
func installExitHandler() {
	registry.once.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-ch
			DeactivateAll()
			signal.Stop(ch)
			// Re-raise so the default disposition still terminates us.
			if s, ok := sig.(syscall.Signal); ok {
				_ = syscall.Kill(syscall.Getpid(), s)
			} else {
				os.Exit(1)
			}
		}()
	})
}
