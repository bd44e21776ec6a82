package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Handle tracks the lifecycle of one acquired device.
type Handle struct {
	kind  Kind
	state State
	dev   Device
}

// Kind returns the role of the device behind the handle.
func (h *Handle) Kind() Kind {
	return h.kind
}

// State returns the handle's connection state.
func (h *Handle) State() State {
	if h == nil {
		return StateClosed
	}
	return h.state
}

// Release closes the device. A nil handle, a handle without a device and
// an already closed handle are no-ops.
func (h *Handle) Release(ctx context.Context) error {
	if h == nil || h.state == StateClosed {
		return nil
	}
	h.state = StateClosed
	if h.dev == nil {
		return nil
	}
	return Comm(h.kind, "close", h.dev.Close(ctx))
}

// Bench owns every device handle acquired during one run.
//
// A Bench is not safe for concurrent use; a run drives its devices from a
// single goroutine.
type Bench struct {
	logger   *slog.Logger
	handles  []*Handle
	eut      EUT
	enabled  []FunctionKind
	released bool
}

// NewBench creates an empty bench. A nil logger discards output.
func NewBench(logger *slog.Logger) *Bench {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bench{logger: logger}
}

// Acquire opens and configures one device and records its handle.
//
// open may return a nil device with a nil error for optional devices
// (an absent HIL); Acquire then records nothing and returns the zero value.
// A device that opens but fails to configure stays on the bench as an
// unconfigured handle so Release still closes it.
func Acquire[T Device](ctx context.Context, b *Bench, kind Kind, open func(context.Context) (T, error)) (T, error) {
	var zero T
	if b.released {
		return zero, InitError(kind, "acquire", errors.New("bench already released"))
	}

	dev, err := open(ctx)
	if err != nil {
		return zero, InitError(kind, "open", err)
	}
	if any(dev) == nil {
		b.logger.Debug("optional device absent", "kind", kind)
		return zero, nil
	}

	h := &Handle{kind: kind, state: StateUnconfigured, dev: dev}
	b.handles = append(b.handles, h)
	if eut, ok := any(dev).(EUT); ok && kind == KindEUT {
		b.eut = eut
	}

	if c, ok := any(dev).(Configurer); ok {
		if err := c.Configure(ctx); err != nil {
			return zero, InitError(kind, "configure", err)
		}
	}
	h.state = StateConfigured
	b.logger.Info("device configured", "kind", kind)

	return dev, nil
}

// Handles returns the acquired handles in acquisition order.
func (b *Bench) Handles() []*Handle {
	out := make([]*Handle, len(b.handles))
	copy(out, b.handles)
	return out
}

// Handle returns the handle for kind, or nil if none was acquired.
func (b *Bench) Handle(kind Kind) *Handle {
	for _, h := range b.handles {
		if h.kind == kind {
			return h
		}
	}
	return nil
}

// Released reports whether Release has run.
func (b *Bench) Released() bool {
	return b.released
}

// EnableFunction enables a grid-support function on the EUT.
// The function is registered for disabling before the write is attempted,
// so a write that half-succeeds is still undone by Release.
func (b *Bench) EnableFunction(ctx context.Context, kind FunctionKind, params FunctionParams) error {
	if b.eut == nil {
		return CommError(KindEUT, "set "+string(kind), errors.New("no EUT acquired"))
	}
	b.track(kind)
	params.Enabled = true
	return Comm(KindEUT, "set "+string(kind), b.eut.SetFunction(ctx, kind, params))
}

// DisableFunction turns a function off and stops tracking it.
func (b *Bench) DisableFunction(ctx context.Context, kind FunctionKind) error {
	if b.eut == nil {
		return nil
	}
	if err := b.eut.SetFunction(ctx, kind, Disabled()); err != nil {
		return Comm(KindEUT, "disable "+string(kind), err)
	}
	b.untrack(kind)
	return nil
}

// EnabledFunctions returns the functions Release would disable.
func (b *Bench) EnabledFunctions() []FunctionKind {
	out := make([]FunctionKind, len(b.enabled))
	copy(out, b.enabled)
	return out
}

func (b *Bench) track(kind FunctionKind) {
	for _, k := range b.enabled {
		if k == kind {
			return
		}
	}
	b.enabled = append(b.enabled, kind)
}

func (b *Bench) untrack(kind FunctionKind) {
	for i, k := range b.enabled {
		if k == kind {
			b.enabled = append(b.enabled[:i], b.enabled[i+1:]...)
			return
		}
	}
}

// Release disables every tracked function, then closes every handle in
// reverse acquisition order. A failure on one device is logged and does
// not stop the remaining releases; all failures are joined into the
// returned error. Calling Release more than once is a no-op.
func (b *Bench) Release(ctx context.Context) error {
	if b == nil || b.released {
		return nil
	}
	b.released = true

	var errs []error
	if b.eut != nil && b.Handle(KindEUT).State() != StateClosed {
		for i := len(b.enabled) - 1; i >= 0; i-- {
			kind := b.enabled[i]
			if err := b.eut.SetFunction(ctx, kind, Disabled()); err != nil {
				b.logger.Error("failed to disable function", "function", kind, "error", err)
				errs = append(errs, Comm(KindEUT, "disable "+string(kind), err))
				continue
			}
			b.logger.Info("function disabled", "function", kind)
		}
	}
	b.enabled = nil

	for i := len(b.handles) - 1; i >= 0; i-- {
		h := b.handles[i]
		if err := h.Release(ctx); err != nil {
			b.logger.Error("failed to release device", "kind", h.kind, "error", err)
			errs = append(errs, err)
			continue
		}
		b.logger.Debug("device released", "kind", h.kind)
	}

	return errors.Join(errs...)
}
