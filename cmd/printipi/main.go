// printipi drives a linear-delta 3D printer directly from a Raspberry
// Pi: step pulses over DMA-paced GPIO, RC-thermistor PID heating, and
// endstop homing. No microcontroller in between.
//
// Usage:
//
//	printipi [-config printer.cfg] [options]
//
// Options:
//
//	-config string   Machine configuration file (Kossel defaults if empty)
//	-status string   Status server address (default ":8470", empty disables)
//	-loglevel string Log level: debug, info, warn, error (default "info")
//	-home            Home the towers immediately after bring-up
//
// The console on stdin accepts:
//
//	home                    home all towers
//	goto X Y Z [E] [F]      move to X,Y,Z mm (E mm extrusion, F mm/s)
//	temp C                  set hotend target in Celsius
//	fan D                   set fan duty 0..1
//	stop                    emergency stop
//	quit                    clean shutdown
//
// Requires root for /dev/mem access.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"printipi-go-migration/pkg/config"
	"printipi-go-migration/pkg/kinematics"
	"printipi-go-migration/pkg/log"
	"printipi-go-migration/pkg/status"
	"printipi-go-migration/pkg/units"
)

func main() {
	configFile := flag.String("config", "", "Machine configuration file (Kossel defaults if empty)")
	statusAddr := flag.String("status", ":8470", "Status server address (empty disables)")
	logLevel := flag.String("loglevel", "info", "Log level: debug, info, warn, error")
	homeOnStart := flag.Bool("home", false, "Home the towers immediately after bring-up")
	flag.Parse()

	logger := log.Default()
	logger.SetLevel(log.ParseLevel(*logLevel))

	cfg, err := config.LoadMachine(*configFile)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.Infof("machine: delta r=%.1fmm rod=%.1fmm home=%.2fmm",
		float64(cfg.TowerRadius)/1000, float64(cfg.RodLength)/1000,
		float64(cfg.HomeHeight)/1000)
	logger.Infof("step generation: %d Hz tick on DMA channel %d", cfg.TickHz, cfg.DMAChannel)

	m, err := openMachine(cfg)
	if err != nil {
		logger.Errorf("bring-up: %v", err)
		os.Exit(1)
	}
	defer m.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("signal received, stopping")
		m.safety.RequestStop("signal")
		cancel()
	}()

	var srv *status.Server
	if *statusAddr != "" {
		srv = status.New(status.Config{Addr: *statusAddr}, m, m)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Errorf("status server: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Infof("status: http://localhost%s/status, ws on /ws", *statusAddr)
	}

	go m.run(ctx)

	if *homeOnStart {
		if err := m.home(ctx); err != nil {
			logger.Errorf("homing: %v", err)
			m.safety.Fault(err)
			os.Exit(1)
		}
	}

	console(ctx, cancel, m, logger)
	logger.Infof("printipi stopped")
}

// console reads line commands from stdin until quit or cancellation.
func console(ctx context.Context, cancel context.CancelFunc, m *machine, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("printipi ready. Commands: home, goto, temp, fan, stop, quit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				m.safety.RequestStop("stdin closed")
				cancel()
				return
			}
			if quit := dispatch(ctx, m, logger, line); quit {
				m.safety.RequestStop("quit")
				cancel()
				return
			}
		}
	}
}

func dispatch(ctx context.Context, m *machine, logger *log.Logger, line string) (quit bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "home":
		err = m.home(ctx)
	case "goto":
		err = doGoto(ctx, m, fields[1:])
	case "temp":
		var c float64
		if c, err = parseArg(fields, 1); err == nil {
			err = m.SetHotendTarget(c)
		}
	case "fan":
		var d float64
		if d, err = parseArg(fields, 1); err == nil {
			err = m.SetFanDuty(d)
		}
	case "stop":
		m.EmergencyStop("console stop")
	case "quit":
		return true
	default:
		logger.Warnf("unknown command %q", fields[0])
		return false
	}
	if err != nil {
		logger.Errorf("%s: %v", fields[0], err)
	}
	return false
}

// doGoto parses "goto X Y Z [E] [F]" with millimeter coordinates and
// an mm/s feed rate.
func doGoto(ctx context.Context, m *machine, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("goto needs X Y Z [E] [F]")
	}
	vals := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("bad coordinate %q", a)
		}
		vals[i] = v
	}

	target := kinematics.Position{
		X: units.FromMillimeters(vals[0]),
		Y: units.FromMillimeters(vals[1]),
		Z: units.FromMillimeters(vals[2]),
	}
	if len(vals) > 3 {
		target.E = units.FromMillimeters(vals[3])
	}
	vel := 0.0
	if len(vals) > 4 {
		vel = vals[4] * 1000
	}
	return m.moveTo(ctx, target, vel)
}

func parseArg(fields []string, idx int) (float64, error) {
	if len(fields) <= idx {
		return 0, fmt.Errorf("missing argument")
	}
	return strconv.ParseFloat(fields[idx], 64)
}
