// Shutdown state management
//
// The manager owns the machine's fatal paths. Any component that
// detects a fault reports it here; the manager turns the heaters off,
// halts step generation, returns every pin to its declared default,
// and latches the reason so later commands fail loudly instead of
// moving a machine in an unknown state.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
	"printipi-go-migration/pkg/log"
)

// State is the machine's lifecycle state.
type State int

const (
	// StateRunning is normal operation.
	StateRunning State = iota

	// StateStopping means a shutdown sequence is in progress.
	StateStopping

	// StateStopped is a clean, user-requested stop.
	StateStopped

	// StateFault is a stop forced by a detected fault.
	StateFault
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Reason describes why the machine stopped.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonEmergencyStop     Reason = "emergency_stop"
	ReasonThermistorFault   Reason = "thermistor_fault"
	ReasonHeaterRunaway     Reason = "heater_runaway"
	ReasonUnexpectedEndstop Reason = "unexpected_endstop"
	ReasonWatchdogTimeout   Reason = "watchdog_timeout"
	ReasonUserRequest       Reason = "user_request"
)

// fatal reports whether a reason latches the fault state rather than a
// clean stop.
func (r Reason) fatal() bool {
	return r != ReasonUserRequest && r != ReasonNone
}

// HeaterDisabler turns a heat output fully off.
type HeaterDisabler interface {
	ForceOff()
}

// MotionHalter aborts in-flight step generation.
type MotionHalter interface {
	Reset() error
}

// Manager runs the shutdown sequence and latches the machine state.
type Manager struct {
	logger *log.Logger

	mu        sync.RWMutex
	state     State
	reason    Reason
	message   string
	stoppedAt time.Time

	heaters []HeaterDisabler
	motion  []MotionHalter

	onStop []func(Reason, string)

	wdMu      sync.Mutex
	wdCancel  context.CancelFunc
	wdTimeout time.Duration
	heartbeat time.Time
}

// New creates a Manager in the running state.
func New() *Manager {
	return &Manager{
		logger:    log.Default().Component("safety"),
		state:     StateRunning,
		wdTimeout: 5 * time.Second,
	}
}

// RegisterHeater adds a heat output to the shutdown sequence.
func (m *Manager) RegisterHeater(h HeaterDisabler) {
	m.mu.Lock()
	m.heaters = append(m.heaters, h)
	m.mu.Unlock()
}

// RegisterMotion adds a step generator to the shutdown sequence.
func (m *Manager) RegisterMotion(h MotionHalter) {
	m.mu.Lock()
	m.motion = append(m.motion, h)
	m.mu.Unlock()
}

// OnStop registers a callback invoked after a shutdown completes.
func (m *Manager) OnStop(fn func(Reason, string)) {
	m.mu.Lock()
	m.onStop = append(m.onStop, fn)
	m.mu.Unlock()
}

// GetState returns the current state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StopInfo returns the latched reason, message, and stop time.
func (m *Manager) StopInfo() (Reason, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason, m.message, m.stoppedAt
}

// IsOperational reports whether normal commands may run.
func (m *Manager) IsOperational() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning
}

// CheckOperational returns an error naming the stop reason when the
// machine is not running.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateRunning {
		return nil
	}
	return errors.New(errors.ErrRuntime,
		fmt.Sprintf("machine %s: %s %s", m.state, m.reason, m.message))
}

// EmergencyStop runs the shutdown sequence immediately.
func (m *Manager) EmergencyStop(msg string) {
	m.stop(ReasonEmergencyStop, msg)
}

// Fault stops the machine for a detected fault, classifying the error
// into a reason.
func (m *Manager) Fault(err error) {
	switch {
	case errors.Is(err, errors.ErrThermistorFault):
		m.stop(ReasonThermistorFault, err.Error())
	case errors.Is(err, errors.ErrHeaterRunaway):
		m.stop(ReasonHeaterRunaway, err.Error())
	case errors.Is(err, errors.ErrUnexpectedEndstop):
		m.stop(ReasonUnexpectedEndstop, err.Error())
	default:
		m.stop(ReasonEmergencyStop, err.Error())
	}
}

// RequestStop runs a clean, user-requested shutdown.
func (m *Manager) RequestStop(msg string) {
	m.stop(ReasonUserRequest, msg)
}

func (m *Manager) stop(reason Reason, msg string) {
	m.mu.Lock()
	if m.state == StateStopped || m.state == StateFault {
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	m.reason = reason
	m.message = msg
	m.stoppedAt = time.Now()

	heaters := make([]HeaterDisabler, len(m.heaters))
	copy(heaters, m.heaters)
	motion := make([]MotionHalter, len(m.motion))
	copy(motion, m.motion)
	m.mu.Unlock()

	m.logger.Warnf("stopping: %s %s", reason, msg)
	m.StopWatchdog()

	// Heat first, motion second, pins last. A stuck heater burns the
	// machine, a stuck motor only grinds it.
	for _, h := range heaters {
		h.ForceOff()
	}
	for _, h := range motion {
		if err := h.Reset(); err != nil {
			m.logger.Errorf("motion halt: %v", err)
		}
	}
	gpio.DeactivateAll()

	m.mu.Lock()
	final := StateStopped
	if reason.fatal() {
		final = StateFault
	}
	m.state = final
	onStop := make([]func(Reason, string), len(m.onStop))
	copy(onStop, m.onStop)
	m.mu.Unlock()

	for _, fn := range onStop {
		fn(reason, msg)
	}
}

// Reset rearms the manager after a stop. Refused while running or
// mid-shutdown.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning || m.state == StateStopping {
		return errors.New(errors.ErrRuntime, "cannot reset while "+m.state.String())
	}
	m.state = StateRunning
	m.reason = ReasonNone
	m.message = ""
	m.stoppedAt = time.Time{}
	return nil
}

// StartWatchdog begins requiring heartbeats from the main loop. A
// missed heartbeat stops the machine.
func (m *Manager) StartWatchdog(timeout time.Duration) {
	m.wdMu.Lock()
	defer m.wdMu.Unlock()
	if m.wdCancel != nil {
		return
	}
	if timeout > 0 {
		m.wdTimeout = timeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.wdCancel = cancel
	m.heartbeat = time.Now()
	go m.watchdogLoop(ctx)
}

// StopWatchdog cancels the heartbeat requirement.
func (m *Manager) StopWatchdog() {
	m.wdMu.Lock()
	defer m.wdMu.Unlock()
	if m.wdCancel != nil {
		m.wdCancel()
		m.wdCancel = nil
	}
}

// Heartbeat marks the main loop alive.
func (m *Manager) Heartbeat() {
	m.wdMu.Lock()
	m.heartbeat = time.Now()
	m.wdMu.Unlock()
}

func (m *Manager) watchdogLoop(ctx context.Context) {
	interval := m.wdTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.wdMu.Lock()
			elapsed := time.Since(m.heartbeat)
			timeout := m.wdTimeout
			m.wdMu.Unlock()
			if elapsed > timeout {
				m.stop(ReasonWatchdogTimeout, "main loop heartbeat lost")
				return
			}
		}
	}
}

// Status is a snapshot for reporting surfaces.
type Status struct {
	State       string    `json:"state"`
	Reason      string    `json:"reason"`
	Message     string    `json:"message"`
	StoppedAt   time.Time `json:"stopped_at"`
	Operational bool      `json:"operational"`
}

// GetStatus returns the current status snapshot.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:       m.state.String(),
		Reason:      string(m.reason),
		Message:     m.message,
		StoppedAt:   m.stoppedAt,
		Operational: m.state == StateRunning,
	}
}
