// Package wizard drives a multi-step form: it holds the step pointer and
// field state, validates before advancing and submits on the last step.
//
// Flows only describe themselves through a Definition; the step
// arithmetic, error bookkeeping and submission handling live here.
package wizard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bankflow/pkg/form"
	"bankflow/pkg/logging"
	"bankflow/pkg/metrics"
	"bankflow/pkg/receipt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Step names one page of a flow.
type Step struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Definition describes a flow. Steps are numbered from 1; the last step
// is terminal and Next on it submits.
type Definition struct {
	Flow  string
	Steps []Step

	// Validate returns the errors for step. Nil means every step passes.
	Validate func(step int, st form.State) form.Errors

	// Summarize renders the review shown on the terminal step.
	Summarize func(st form.State) receipt.Summary

	// Submit sends the collected state. It receives a copy.
	Submit func(ctx context.Context, st form.State) (receipt.Confirmation, error)
}

// Status is the lifecycle state of a wizard.
type Status string

const (
	StatusActive Status = "active"
	StatusFailed Status = "failed"
	StatusDone   Status = "done"
	StatusExited Status = "exited"
)

// Wizard is one customer's pass through a flow. It is safe for
// concurrent use; calls are serialized.
type Wizard struct {
	mu sync.Mutex

	id     string
	def    Definition
	step   int
	state  form.State
	errs   form.Errors
	status Status

	confirmation *receipt.Confirmation
	submitErr    error

	logger  *logging.Logger
	metrics metrics.Collector
	now     func() time.Time
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithStartStep starts the wizard on step n, used when context already
// answers the earlier steps. Out of range values are ignored.
func WithStartStep(n int) Option {
	return func(w *Wizard) {
		if n >= 1 && n <= len(w.def.Steps) {
			w.step = n
		}
	}
}

// WithPreset seeds a field, e.g. a product chosen on a previous page.
func WithPreset(field, value string) Option {
	return func(w *Wizard) {
		w.state[field] = value
	}
}

// WithPresets seeds several fields.
func WithPresets(values map[string]string) Option {
	return func(w *Wizard) {
		for k, v := range values {
			w.state[k] = v
		}
	}
}

// WithID overrides the generated wizard ID.
func WithID(id string) Option {
	return func(w *Wizard) {
		if id != "" {
			w.id = id
		}
	}
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Wizard) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(w *Wizard) {
		w.metrics = metrics.OrNoOp(c)
	}
}

// WithClock replaces time.Now, used to stamp submissions.
func WithClock(now func() time.Time) Option {
	return func(w *Wizard) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a wizard on step 1 unless WithStartStep says otherwise.
func New(def Definition, opts ...Option) (*Wizard, error) {
	if def.Flow == "" {
		return nil, fmt.Errorf("%w: missing flow name", ErrInvalidDefinition)
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("%w: %s has no steps", ErrInvalidDefinition, def.Flow)
	}
	if def.Submit == nil {
		return nil, fmt.Errorf("%w: %s has no submit function", ErrInvalidDefinition, def.Flow)
	}

	w := &Wizard{
		id:      uuid.NewString(),
		def:     def,
		step:    1,
		state:   form.State{},
		errs:    form.Errors{},
		status:  StatusActive,
		logger:  logging.L(),
		metrics: metrics.NoOpCollector{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("wizard").With(
		zap.String("flow", def.Flow),
		zap.String("wizard_id", w.id),
	)

	w.logger.Debug("wizard started", zap.Int("step", w.step), zap.Int("steps", len(def.Steps)))
	return w, nil
}

// ID returns the wizard's identifier.
func (w *Wizard) ID() string { return w.id }

// Flow returns the flow name.
func (w *Wizard) Flow() string { return w.def.Flow }

// StepCount returns the number of steps.
func (w *Wizard) StepCount() int { return len(w.def.Steps) }

// Steps returns a copy of the step list.
func (w *Wizard) Steps() []Step {
	return append([]Step(nil), w.def.Steps...)
}

// CurrentStep returns the 1-based step pointer.
func (w *Wizard) CurrentStep() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Status returns the lifecycle state.
func (w *Wizard) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// State returns a copy of the collected fields.
func (w *Wizard) State() form.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Clone()
}

// Errors returns a copy of the current validation errors.
func (w *Wizard) Errors() form.Errors {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(form.Errors, len(w.errs))
	for k, v := range w.errs {
		out[k] = v
	}
	return out
}

// SubmitErr returns the error of the last failed submission.
func (w *Wizard) SubmitErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitErr
}

// Confirmation returns the confirmation once the flow is done.
func (w *Wizard) Confirmation() (receipt.Confirmation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.confirmation == nil {
		return receipt.Confirmation{}, false
	}
	return *w.confirmation, true
}

// Done reports whether the flow submitted successfully.
func (w *Wizard) Done() bool {
	return w.Status() == StatusDone
}

// Set stores a field value and clears that field's error.
func (w *Wizard) Set(field, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.mutableLocked(); err != nil {
		return err
	}
	w.state[field] = value
	w.errs.Clear(field)
	return nil
}

// SetAll stores several field values.
func (w *Wizard) SetAll(values map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.mutableLocked(); err != nil {
		return err
	}
	for k, v := range values {
		w.state[k] = v
		w.errs.Clear(k)
	}
	return nil
}

// Next validates the current step. If it has errors the wizard stays
// put and Next returns them as a form.Errors. Otherwise the step pointer
// moves forward by one, or on the terminal step the state is submitted.
func (w *Wizard) Next(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.mutableLocked(); err != nil {
		return err
	}

	step := w.step
	if errs := w.validateLocked(step); !errs.Empty() {
		w.errs = errs
		w.metrics.RecordStep(w.def.Flow, step, false)
		w.logger.Debug("step blocked",
			zap.Int("step", step),
			zap.Strings("fields", errs.Fields()),
		)
		return errs
	}
	w.errs = form.Errors{}
	w.metrics.RecordStep(w.def.Flow, step, true)

	if step < len(w.def.Steps) {
		w.step++
		w.status = StatusActive
		w.logger.Debug("step advanced", zap.Int("from", step), zap.Int("to", w.step))
		return nil
	}
	return w.submitLocked(ctx)
}

// Back moves to the previous step without validating. On step 1 the
// wizard is marked exited and ErrExited is returned.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.mutableLocked(); err != nil {
		return err
	}
	w.errs = form.Errors{}
	if w.step == 1 {
		w.status = StatusExited
		w.logger.Debug("wizard exited")
		return ErrExited
	}
	w.step--
	w.status = StatusActive
	w.submitErr = nil
	return nil
}

// Retry re-submits after a failed submission. It is only ever invoked
// by the customer; nothing retries automatically.
func (w *Wizard) Retry(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusFailed {
		if w.status == StatusDone {
			return ErrDone
		}
		return ErrNotSubmitted
	}
	if errs := w.validateLocked(w.step); !errs.Empty() {
		w.errs = errs
		return errs
	}
	w.logger.Info("retrying submission")
	return w.submitLocked(ctx)
}

// Summary renders the review of the current state.
func (w *Wizard) Summary() (receipt.Summary, bool) {
	if w.def.Summarize == nil {
		return receipt.Summary{}, false
	}
	st := w.State()
	return w.def.Summarize(st), true
}

func (w *Wizard) mutableLocked() error {
	switch w.status {
	case StatusDone:
		return ErrDone
	case StatusExited:
		return ErrExited
	}
	return nil
}

func (w *Wizard) validateLocked(step int) form.Errors {
	if w.def.Validate == nil {
		return form.Errors{}
	}
	errs := w.def.Validate(step, w.state.Clone())
	if errs == nil {
		return form.Errors{}
	}
	return errs
}

func (w *Wizard) submitLocked(ctx context.Context) error {
	start := w.now()
	conf, err := w.def.Submit(ctx, w.state.Clone())
	duration := w.now().Sub(start)
	w.metrics.RecordSubmit(w.def.Flow, err == nil, duration)

	if err != nil {
		w.status = StatusFailed
		w.submitErr = err
		w.logger.Warn("submission failed", zap.Duration("duration", duration), zap.Error(err))
		return err
	}

	if conf.At.IsZero() {
		conf.At = w.now()
	}
	w.status = StatusDone
	w.submitErr = nil
	w.confirmation = &conf
	w.logger.Info("submission completed",
		zap.String("reference", conf.Reference),
		zap.Bool("provisional", conf.Provisional),
		zap.Bool("degraded", conf.Degraded),
		zap.Duration("duration", duration),
	)
	return nil
}
