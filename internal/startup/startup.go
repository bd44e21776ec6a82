// Package startup waits for the equipment under test to begin exporting
// power before a sweep starts.
//
// The synchronizer reads the nameplate rating once. If measured power is
// below Fraction of the rating it kicks the inverter (connect command,
// optional PV irradiance nudge) and polls once per Interval until power
// reaches the threshold or the poll budget, ceil(Timeout/Interval), is
// spent. Running out of polls is fatal for the run.
package startup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/dersweep/internal/clock"
	"github.com/roach88/dersweep/internal/device"
)

// Defaults taken from the grid-support test procedures.
const (
	DefaultFraction = 0.10
	DefaultInterval = time.Second
	DefaultTimeout  = 20 * time.Second
)

// Config controls one synchronization.
type Config struct {
	// Fraction of nameplate power that counts as started.
	Fraction float64

	// Timeout bounds the wait. The poll budget is ceil(Timeout/Interval).
	Timeout time.Duration

	// Interval is the sleep between polls.
	Interval time.Duration

	// Perturb, when non-nil, is the irradiance written to the PV simulator
	// to nudge the inverter into starting. Ignored without a PV simulator.
	Perturb *float64

	// PerturbSettle is slept between the nudge and the connect command
	// when ConnectFirst is false.
	PerturbSettle time.Duration

	// ConnectFirst sends the connect command before the PV nudge.
	ConnectFirst bool
}

func (c Config) withDefaults() Config {
	if c.Fraction <= 0 {
		c.Fraction = DefaultFraction
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Polls returns the poll budget for the configuration.
func (c Config) Polls() int {
	c = c.withDefaults()
	return int(math.Ceil(float64(c.Timeout) / float64(c.Interval)))
}

// Result describes a successful synchronization.
type Result struct {
	Polls     int
	Power     float64
	Threshold float64
	Kicked    bool
}

// ErrCodeTimeout is the code carried by TimeoutError.
const ErrCodeTimeout = "STARTUP_TIMEOUT"

// TimeoutError is returned when the EUT never reached the threshold.
type TimeoutError struct {
	Polls     int
	Power     float64
	Threshold float64
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: inverter did not start: %.1f W below %.1f W after %d polls (%s)",
		ErrCodeTimeout, e.Power, e.Threshold, e.Polls, e.Timeout)
}

// IsTimeoutError reports whether err is a startup timeout.
func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Synchronizer brings the EUT up to its operating precondition.
type Synchronizer struct {
	cfg     Config
	sleeper clock.Sleeper
	logger  *slog.Logger
}

// New creates a synchronizer. Zero config fields take the package defaults.
func New(cfg Config, sleeper clock.Sleeper, logger *slog.Logger) *Synchronizer {
	if sleeper == nil {
		sleeper = clock.RealSleeper{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Synchronizer{cfg: cfg.withDefaults(), sleeper: sleeper, logger: logger}
}

// Run waits for the EUT to start. pv may be nil.
func (s *Synchronizer) Run(ctx context.Context, eut device.EUT, pv device.PVSim) (Result, error) {
	np, err := eut.Nameplate(ctx)
	if err != nil {
		return Result{}, device.Comm(device.KindEUT, "read nameplate", err)
	}
	threshold := np.RatedPower * s.cfg.Fraction

	power, err := readPower(ctx, eut)
	if err != nil {
		return Result{}, err
	}
	if power >= threshold {
		s.logger.Debug("EUT already running", "power_w", power, "threshold_w", threshold)
		return Result{Power: power, Threshold: threshold}, nil
	}

	if err := s.kick(ctx, eut, pv); err != nil {
		return Result{}, err
	}

	budget := s.cfg.Polls()
	remaining := budget
	for polls := 1; polls <= budget; polls++ {
		s.logger.Info("waiting for EUT to start",
			"power_w", power,
			"threshold_w", threshold,
			"remaining", time.Duration(remaining)*s.cfg.Interval,
		)
		if err := s.sleeper.Sleep(ctx, s.cfg.Interval); err != nil {
			return Result{}, fmt.Errorf("startup wait: %w", err)
		}
		remaining--

		power, err = readPower(ctx, eut)
		if err != nil {
			return Result{}, err
		}
		if power >= threshold {
			s.logger.Info("EUT started", "power_w", power, "polls", polls)
			return Result{Polls: polls, Power: power, Threshold: threshold, Kicked: true}, nil
		}
	}

	return Result{}, &TimeoutError{
		Polls:     budget,
		Power:     power,
		Threshold: threshold,
		Timeout:   s.cfg.Timeout,
	}
}

func (s *Synchronizer) kick(ctx context.Context, eut device.EUT, pv device.PVSim) error {
	connect := func() error {
		s.logger.Info("sending connect command to EUT")
		return device.Comm(device.KindEUT, "connect", eut.SetConnect(ctx, true))
	}

	if s.cfg.ConnectFirst {
		if err := connect(); err != nil {
			return err
		}
	}

	if pv != nil && s.cfg.Perturb != nil {
		s.logger.Info("perturbing PV irradiance to start EUT", "irradiance", *s.cfg.Perturb)
		if err := pv.SetIrradiance(ctx, *s.cfg.Perturb); err != nil {
			return device.Comm(device.KindPVSim, "set irradiance", err)
		}
		if !s.cfg.ConnectFirst && s.cfg.PerturbSettle > 0 {
			if err := s.sleeper.Sleep(ctx, s.cfg.PerturbSettle); err != nil {
				return fmt.Errorf("startup settle: %w", err)
			}
		}
	}

	if !s.cfg.ConnectFirst {
		return connect()
	}
	return nil
}

func readPower(ctx context.Context, eut device.EUT) (float64, error) {
	m, err := eut.Measurements(ctx)
	if err != nil {
		return 0, device.Comm(device.KindEUT, "read measurements", err)
	}
	return m.W, nil
}
