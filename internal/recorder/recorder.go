package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/dersweep/internal/clock"
	"github.com/roach88/dersweep/internal/device"
)

// Capture window errors.
var (
	ErrNoWindow        = errors.New("no capture window started")
	ErrWindowOpen      = errors.New("capture window still open")
	ErrAlreadyExported = errors.New("capture window already exported")
	ErrNoDAQ           = errors.New("no DAQ on the bench")
)

// Sample is one forced capture point. Seq orders samples within a run.
type Sample struct {
	Seq    int64
	Window int
	Values map[string]float64
	Total  Aggregate
}

// Row is one summary line: one per setpoint step.
type Row struct {
	Run         int
	Setpoint    float64
	EUTReported float64
	DAQTotal    float64
}

// Artifact is the persisted output of one capture window.
type Artifact struct {
	Window  int
	Name    string
	Path    string
	Columns []string
	Rows    int
}

// Sink persists what the recorder captures. The SQLite store implements it.
type Sink interface {
	WriteSample(ctx context.Context, runID string, s Sample) error
	WriteRow(ctx context.Context, runID string, index int, r Row) error
	WriteArtifact(ctx context.Context, runID string, a Artifact) error
}

// Options configures a Recorder.
type Options struct {
	RunID  string
	Dir    string // artifact directory; empty keeps artifacts in memory
	Sink   Sink   // optional
	Logger *slog.Logger
}

type window struct {
	index    int
	open     bool
	exported bool
	samples  []Sample
	dataset  device.Dataset
}

// Recorder is borrowed by the sweep engine for one run and must not
// outlive it. Not safe for concurrent use.
type Recorder struct {
	daq    device.DAQ
	opts   Options
	clock  *clock.Clock
	logger *slog.Logger

	rows      []Row
	samples   []Sample
	windows   []*window
	artifacts []Artifact
}

// New creates a recorder. daq may be nil, in which case only summary
// rows can be recorded.
func New(daq device.DAQ, opts Options) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{
		daq:    daq,
		opts:   opts,
		clock:  clock.New(),
		logger: logger,
	}
}

func (r *Recorder) current() *window {
	if len(r.windows) == 0 {
		return nil
	}
	return r.windows[len(r.windows)-1]
}

// HasDAQ reports whether samples can be captured.
func (r *Recorder) HasDAQ() bool {
	return r.daq != nil
}

// WindowCount returns the number of capture windows started so far.
func (r *Recorder) WindowCount() int {
	return len(r.windows)
}

// WindowOpen reports whether a capture window is currently open.
func (r *Recorder) WindowOpen() bool {
	w := r.current()
	return w != nil && w.open
}

// StartCapture opens a new capture window. The previous window must have
// been stopped and exported.
func (r *Recorder) StartCapture(ctx context.Context) error {
	if r.daq == nil {
		return ErrNoDAQ
	}
	if w := r.current(); w != nil {
		if w.open {
			return fmt.Errorf("start capture: %w (window %d)", ErrWindowOpen, w.index)
		}
		if !w.exported {
			return fmt.Errorf("start capture: %w (window %d stopped but not exported)", ErrWindowOpen, w.index)
		}
	}
	if err := r.daq.StartCapture(ctx, true); err != nil {
		return device.Comm(device.KindDAQ, "start capture", err)
	}

	w := &window{index: len(r.windows) + 1, open: true}
	r.windows = append(r.windows, w)
	r.logger.Debug("capture window started", "window", w.index)
	return nil
}

// SetSoft feeds a soft channel value into the DAQ.
func (r *Recorder) SetSoft(name string, value float64) error {
	if r.daq == nil {
		return ErrNoDAQ
	}
	return device.Comm(device.KindDAQ, "set soft channel "+name, r.daq.SetSoft(name, value))
}

// Sample forces an immediate DAQ capture and returns it with W_TOTAL
// derived from the phase channels of the same capture.
func (r *Recorder) Sample(ctx context.Context) (Sample, error) {
	if r.daq == nil {
		return Sample{}, ErrNoDAQ
	}
	w := r.current()
	if w == nil || !w.open {
		return Sample{}, fmt.Errorf("sample: %w", ErrNoWindow)
	}

	if err := r.daq.Sample(ctx); err != nil {
		return Sample{}, device.Comm(device.KindDAQ, "sample", err)
	}
	reading, err := r.daq.LastSample(ctx)
	if err != nil {
		return Sample{}, device.Comm(device.KindDAQ, "read last sample", err)
	}

	total, err := DeriveTotal(reading)
	if err != nil {
		return Sample{}, fmt.Errorf("sample: %w", err)
	}
	if total.Source != AllPhases {
		r.logger.Debug("derived total from available phases",
			"source", total.Source, "used", total.Used, "missing", total.Missing)
	}

	values := make(map[string]float64, len(reading)+1)
	for k, v := range reading {
		values[k] = v
	}
	values[SoftTotal] = total.Value
	if r.HasSoft(SoftTotal) {
		if err := r.SetSoft(SoftTotal, total.Value); err != nil {
			return Sample{}, err
		}
	}

	s := Sample{Seq: r.clock.Next(), Window: w.index, Values: values, Total: total}
	w.samples = append(w.samples, s)
	r.samples = append(r.samples, s)

	if r.opts.Sink != nil {
		if err := r.opts.Sink.WriteSample(ctx, r.opts.RunID, s); err != nil {
			return Sample{}, fmt.Errorf("persist sample: %w", err)
		}
	}
	return s, nil
}

// HasSoft reports whether the DAQ exposes the named soft channel.
func (r *Recorder) HasSoft(name string) bool {
	if r.daq == nil {
		return false
	}
	for _, s := range r.daq.SoftChannels() {
		if s == name {
			return true
		}
	}
	return false
}

// StopCapture closes the open window and derives its dataset.
func (r *Recorder) StopCapture(ctx context.Context) error {
	if r.daq == nil {
		return ErrNoDAQ
	}
	w := r.current()
	if w == nil || !w.open {
		return fmt.Errorf("stop capture: %w", ErrNoWindow)
	}
	w.open = false

	if err := r.daq.StartCapture(ctx, false); err != nil {
		r.fallbackDataset(w)
		return device.Comm(device.KindDAQ, "stop capture", err)
	}
	ds, err := r.daq.ExportDataset(ctx)
	if err != nil {
		r.fallbackDataset(w)
		return device.Comm(device.KindDAQ, "export dataset", err)
	}
	w.dataset = deriveDatasetTotals(ds)
	r.logger.Debug("capture window stopped", "window", w.index, "rows", len(ds.Rows))
	return nil
}

// fallbackDataset keeps the window's forced samples as its dataset when
// the DAQ cannot hand back its own capture.
func (r *Recorder) fallbackDataset(w *window) {
	w.dataset = samplesDataset(w.samples)
	r.logger.Warn("DAQ dataset unavailable, keeping recorded samples",
		"window", w.index, "rows", len(w.dataset.Rows))
}

// Export persists the stopped window as a CSV artifact named name.
func (r *Recorder) Export(ctx context.Context, name string) (Artifact, error) {
	w := r.current()
	switch {
	case w == nil:
		return Artifact{}, fmt.Errorf("export %s: %w", name, ErrNoWindow)
	case w.open:
		return Artifact{}, fmt.Errorf("export %s: %w", name, ErrWindowOpen)
	case w.exported:
		return Artifact{}, fmt.Errorf("export %s: %w", name, ErrAlreadyExported)
	}

	a := Artifact{
		Window:  w.index,
		Name:    name,
		Columns: w.dataset.Columns,
		Rows:    len(w.dataset.Rows),
	}
	if r.opts.Dir != "" {
		a.Path = filepath.Join(r.opts.Dir, name)
		if err := writeDataset(a.Path, w.dataset); err != nil {
			return Artifact{}, fmt.Errorf("export %s: %w", name, err)
		}
	}
	w.exported = true
	r.artifacts = append(r.artifacts, a)

	if r.opts.Sink != nil {
		if err := r.opts.Sink.WriteArtifact(ctx, r.opts.RunID, a); err != nil {
			return a, fmt.Errorf("persist artifact: %w", err)
		}
	}
	r.logger.Info("saved data capture", "file", name, "rows", a.Rows)
	return a, nil
}

// Flush stops and exports a window left open or unexported by an
// aborted sweep. It returns false when there was nothing to flush.
func (r *Recorder) Flush(ctx context.Context, name string) (bool, error) {
	w := r.current()
	if w == nil || w.exported {
		return false, nil
	}
	var errs []error
	if w.open {
		if err := r.StopCapture(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := r.Export(ctx, name); err != nil {
		errs = append(errs, err)
	}
	return true, errors.Join(errs...)
}

// AddRow appends a summary row.
func (r *Recorder) AddRow(ctx context.Context, row Row) error {
	r.rows = append(r.rows, row)
	if r.opts.Sink != nil {
		if err := r.opts.Sink.WriteRow(ctx, r.opts.RunID, len(r.rows), row); err != nil {
			return fmt.Errorf("persist row: %w", err)
		}
	}
	return nil
}

// Rows returns the summary rows in step order.
func (r *Recorder) Rows() []Row {
	return append([]Row(nil), r.rows...)
}

// Samples returns every captured sample in capture order.
func (r *Recorder) Samples() []Sample {
	return append([]Sample(nil), r.samples...)
}

// WindowSamples returns the samples captured in window n (1-based).
func (r *Recorder) WindowSamples(n int) []Sample {
	if n < 1 || n > len(r.windows) {
		return nil
	}
	return append([]Sample(nil), r.windows[n-1].samples...)
}

// Dataset returns the dataset derived for window n (1-based).
func (r *Recorder) Dataset(n int) (device.Dataset, bool) {
	if n < 1 || n > len(r.windows) || r.windows[n-1].open {
		return device.Dataset{}, false
	}
	return r.windows[n-1].dataset, true
}

// Artifacts returns the exported artifacts in export order.
func (r *Recorder) Artifacts() []Artifact {
	return append([]Artifact(nil), r.artifacts...)
}

// WriteSummary writes the summary rows as CSV to path.
func (r *Recorder) WriteSummary(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create summary directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	if err := WriteRowsCSV(f, r.rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
