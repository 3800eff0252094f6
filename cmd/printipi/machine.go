// Machine bring-up and motion orchestration
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"context"
	"sync"
	"time"

	"printipi-go-migration/pkg/config"
	"printipi-go-migration/pkg/dma"
	"printipi-go-migration/pkg/endstop"
	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
	"printipi-go-migration/pkg/kinematics"
	"printipi-go-migration/pkg/log"
	"printipi-go-migration/pkg/motion"
	"printipi-go-migration/pkg/safety"
	"printipi-go-migration/pkg/status"
	"printipi-go-migration/pkg/temperature"
)

// machine owns every hardware handle and serializes motion. One move
// plays at a time; temperature and status run on their own goroutines.
type machine struct {
	cfg    config.MachineConfig
	logger *log.Logger

	dev     *gpio.Device
	engine  *dma.Engine
	pacer   *dma.Pacer
	timer   *dma.Timer
	emitter *dma.Emitter

	dm      *kinematics.DeltaMap
	monitor *endstop.Monitor
	hotend  *temperature.Heater
	fan     *temperature.SlowPWM
	enable  *gpio.Pin
	axisPin [kinematics.NumAxes]dma.AxisPins
	safety  *safety.Manager

	moveMu sync.Mutex // one move in flight

	mu    sync.Mutex
	pos   kinematics.Position
	homed bool
}

func openMachine(cfg config.MachineConfig) (*machine, error) {
	m := &machine{
		cfg:    cfg,
		logger: log.Default().Component("machine"),
		safety: safety.New(),
	}

	dm, err := kinematics.NewDeltaMap(cfg.DeltaConfig())
	if err != nil {
		return nil, err
	}
	m.dm = dm

	base := uintptr(gpio.PeripheralBase)
	if m.dev, err = gpio.OpenDevice(base); err != nil {
		return nil, err
	}
	if m.engine, err = dma.OpenEngine(base, cfg.DMAChannel); err != nil {
		m.closePartial()
		return nil, err
	}
	if m.pacer, err = dma.OpenPacer(base, cfg.TickHz); err != nil {
		m.closePartial()
		return nil, err
	}
	if m.timer, err = dma.OpenTimer(base); err != nil {
		m.closePartial()
		return nil, err
	}
	if m.emitter, err = dma.NewEmitter(m.engine, m.pacer); err != nil {
		m.closePartial()
		return nil, err
	}

	if err := m.setupPins(); err != nil {
		m.closePartial()
		return nil, err
	}
	m.safety.RegisterHeater(m.hotend)
	m.safety.RegisterHeater(m.fan)
	m.safety.RegisterMotion(m.engine)

	return m, nil
}

// setupPins builds every logical pin over the register block and the
// thermal chain on top of them.
func (m *machine) setupPins() error {
	cfg := m.cfg

	names := [kinematics.NumAxes]string{"tower_a", "tower_b", "tower_c", "extruder"}
	for i, ax := range cfg.Axes {
		step := gpio.NewPin(m.dev.Pin(ax.Step.Number),
			ax.Step.Spec(names[i]+"_step", gpio.DefaultLow))
		dir := gpio.NewPin(m.dev.Pin(ax.Dir.Number),
			ax.Dir.Spec(names[i]+"_dir", gpio.DefaultLow))
		step.MakeOutput(gpio.Low)
		dir.MakeOutput(gpio.Low)
		m.axisPin[i] = dma.AxisPins{
			StepMask: 1 << uint(ax.Step.Number),
			DirMask:  1 << uint(ax.Dir.Number),
		}
	}

	m.enable = gpio.NewPin(m.dev.Pin(cfg.EnablePin.Number),
		cfg.EnablePin.Spec("stepper_enable", gpio.DefaultLow))
	m.enable.MakeOutput(gpio.Low)

	stopNames := [3]string{"endstop_a", "endstop_b", "endstop_c"}
	var stops [3]*endstop.Endstop
	for i, pd := range cfg.Endstops {
		pin := gpio.NewPin(m.dev.Pin(pd.Number), pd.Spec(stopNames[i], gpio.DefaultHighZ))
		stops[i] = endstop.New(stopNames[i], i, pin)
	}
	m.monitor = endstop.NewMonitor(stops[0], stops[1], stops[2], m.timer)

	thermPin := gpio.NewPin(m.dev.Pin(cfg.ThermPin.Number),
		cfg.ThermPin.Spec("thermistor", gpio.DefaultHighZ))
	sampler := temperature.NewThermistor(cfg.Thermistor, thermPin, m.timer)

	hotendPin := gpio.NewPin(m.dev.Pin(cfg.HotendPin.Number),
		cfg.HotendPin.Spec("hotend", gpio.DefaultLow))
	pwm := temperature.NewSlowPWM(hotendPin, cfg.PWMPeriod)
	pid, err := temperature.NewPID(cfg.PID)
	if err != nil {
		return err
	}
	m.hotend = temperature.NewHeater(temperature.HeaterConfig{
		Name:           "hotend",
		SampleInterval: cfg.SampleEvery,
		RunawayWindow:  cfg.RunawayWindow,
		RunawayRise:    cfg.RunawayRise,
	}, sampler, pwm, pid, temperature.NewLowPass(cfg.LPFTauSeconds))

	fanPin := gpio.NewPin(m.dev.Pin(cfg.FanPin.Number),
		cfg.FanPin.Spec("fan", gpio.DefaultLow))
	m.fan = temperature.NewSlowPWM(fanPin, cfg.PWMPeriod)
	return nil
}

// playback replays an already-lowered event sequence.
type playback struct {
	evs []dma.GPIOEvent
}

func (p *playback) Next() (dma.GPIOEvent, error) {
	if len(p.evs) == 0 {
		return dma.GPIOEvent{}, motion.Done
	}
	ev := p.evs[0]
	p.evs = p.evs[1:]
	return ev, nil
}

func (p *playback) Drain() ([]dma.GPIOEvent, error) {
	evs := p.evs
	p.evs = nil
	return evs, nil
}

// run starts the background loops and blocks until ctx is cancelled or
// a fault stops the machine.
func (m *machine) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.safety.OnStop(func(safety.Reason, string) { cancel() })
	m.safety.StartWatchdog(5 * time.Second)
	defer m.safety.StopWatchdog()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := m.hotend.Run(ctx); err != nil {
			m.safety.Fault(err)
		}
	}()
	go func() {
		defer wg.Done()
		m.fan.Run(ctx)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			m.safety.Heartbeat()
		}
	}
}

func (m *machine) enableSteppers(on bool) {
	if on {
		m.enable.Write(gpio.High)
	} else {
		m.enable.Write(gpio.Low)
	}
}

// home drives all three carriages upward until every tower endstop
// asserts, then sets the position to (0, 0, home height).
func (m *machine) home(ctx context.Context) error {
	if err := m.safety.CheckOperational(); err != nil {
		return err
	}
	m.moveMu.Lock()
	defer m.moveMu.Unlock()

	m.enableSteppers(true)

	// Assume the worst starting point, the bed. Endstops retire each
	// tower as it arrives, the engine reset discards the remainder.
	start := kinematics.Position{}
	target := kinematics.Position{Z: m.cfg.HomeHeight}
	mv, err := motion.NewMove(m.dm, start, target, m.cfg.HomeVelocityUm(), m.cfg.MaxAccel)
	if err != nil {
		return err
	}

	merger, err := motion.NewMoveMerger(mv)
	if err != nil {
		return err
	}
	low := dma.NewLowerer(merger, m.axisPin, m.cfg.PulseWidthUs, m.pacer.TickUs())

	// Lower the whole move before the carriages start so the endstop
	// watcher never races the merge.
	evs, err := low.Drain()
	if err != nil {
		return err
	}

	playErr := make(chan error, 1)
	go func() { playErr <- m.emitter.Play(&playback{evs: evs}) }()

	endC := mv.EndCarriage()
	res, watchErr := m.monitor.Watch(ctx,
		func(axis int) int64 { return endC.Axis(axis) },
		merger.Drop)

	// Whatever is still queued in the ring is travel past the
	// switches. Kill it before looking at the outcome.
	if err := m.engine.Reset(); err != nil {
		m.logger.Warnf("engine reset after homing: %v", err)
	}
	<-playErr

	if watchErr != nil {
		return watchErr
	}

	// The switches sit at the calibrated home height. The assertion
	// timestamps show per-tower skew, worth keeping in the log.
	m.logger.Infof("tower assert times us: a=%d b=%d c=%d",
		res.Time[0], res.Time[1], res.Time[2])

	m.mu.Lock()
	m.pos = kinematics.Position{Z: m.cfg.HomeHeight}
	m.homed = true
	m.mu.Unlock()
	m.logger.Infof("homed at z=%.2f mm", float64(m.cfg.HomeHeight)/1000)
	return nil
}

// moveTo plays one straight move to the target, watching the endstops
// for assertions that should not happen.
func (m *machine) moveTo(ctx context.Context, target kinematics.Position, velUm float64) error {
	if err := m.safety.CheckOperational(); err != nil {
		return err
	}
	m.mu.Lock()
	start := m.pos
	homed := m.homed
	m.mu.Unlock()
	if !homed {
		return errors.RuntimeError("not homed")
	}
	if velUm <= 0 || velUm > m.cfg.MaxVelocityUm() {
		velUm = m.cfg.MaxVelocityUm()
	}

	m.moveMu.Lock()
	defer m.moveMu.Unlock()

	if err := m.monitor.CheckIdle(); err != nil {
		m.safety.Fault(err)
		return err
	}

	mv, err := motion.NewMove(m.dm, start, target, velUm, m.cfg.MaxAccel)
	if err != nil {
		return err
	}
	merger, err := motion.NewMoveMerger(mv)
	if err != nil {
		return err
	}
	low := dma.NewLowerer(merger, m.axisPin, m.cfg.PulseWidthUs, m.pacer.TickUs())

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go m.watchIdleEndstops(watchCtx)

	if err := m.emitter.Play(low); err != nil {
		m.safety.Fault(err)
		return err
	}

	m.mu.Lock()
	m.pos = target
	m.mu.Unlock()
	return nil
}

// watchIdleEndstops polls during a normal move. A switch asserting
// mid-move means lost steps or a bad home, both fatal.
func (m *machine) watchIdleEndstops(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.monitor.CheckIdle(); err != nil {
				m.safety.Fault(err)
				return
			}
		}
	}
}

func (m *machine) close() {
	m.enableSteppers(false)
	gpio.DeactivateAll()
	m.closePartial()
}

func (m *machine) closePartial() {
	if m.emitter != nil {
		m.emitter.Close()
	}
	if m.engine != nil {
		m.engine.Close()
	}
	if m.pacer != nil {
		m.pacer.Close()
	}
	if m.timer != nil {
		m.timer.Close()
	}
	if m.dev != nil {
		m.dev.Close()
	}
}

// Snapshot implements status.Reporter.
func (m *machine) Snapshot() status.Snapshot {
	temp, targ := m.hotend.Temperature()
	st := m.safety.GetStatus()

	m.mu.Lock()
	pos := m.pos
	homed := m.homed
	m.mu.Unlock()

	return status.Snapshot{
		State:        st.State,
		Reason:       st.Reason,
		HotendTemp:   temp,
		HotendTarget: targ,
		HotendDuty:   m.hotend.Duty(),
		FanDuty:      m.fan.Duty(),
		Homed:        homed,
		PositionMM: [3]float64{
			float64(pos.X) / 1000,
			float64(pos.Y) / 1000,
			float64(pos.Z) / 1000,
		},
	}
}

// EmergencyStop implements status.Controller.
func (m *machine) EmergencyStop(msg string) {
	m.safety.EmergencyStop(msg)
}

// SetHotendTarget implements status.Controller.
func (m *machine) SetHotendTarget(celsius float64) error {
	if err := m.safety.CheckOperational(); err != nil {
		return err
	}
	if celsius < 0 || celsius > 300 {
		return errors.RuntimeError("hotend target out of range")
	}
	m.hotend.SetTarget(celsius)
	return nil
}

// SetFanDuty implements status.Controller.
func (m *machine) SetFanDuty(duty float64) error {
	if err := m.safety.CheckOperational(); err != nil {
		return err
	}
	m.fan.SetDuty(duty)
	return nil
}
