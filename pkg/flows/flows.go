// Package flows defines the customer tasks of the portal as wizard
// definitions, and the account actions they share.
//
// Every upstream call goes through apiclient.Resolve, so a flow either
// completes with server data, completes with sample data flagged as
// degraded, or fails visibly. The session mirror is updated in both of
// the first two cases.
package flows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/form"
	"bankflow/pkg/logging"
	"bankflow/pkg/metrics"
	"bankflow/pkg/receipt"
	"bankflow/pkg/session"
	"bankflow/pkg/wizard"
)

// Flow names.
const (
	FlowTransfer       = "transfer"
	FlowOrderChecks    = "order-checks"
	FlowDispute        = "dispute"
	FlowCashAdvance    = "cash-advance"
	FlowAccountOpening = "account-opening"
	FlowRollover       = "retirement-rollover"
	FlowBeneficiary    = "beneficiary-edit"
	FlowAlerts         = "account-alerts"
)

// ErrUnknownFlow is returned by Start for an unregistered name.
var ErrUnknownFlow = errors.New("flows: unknown flow")

// Config wires a Service.
type Config struct {
	Client   *apiclient.Client
	Sessions *session.Store
	Metrics  metrics.Collector
	Logger   *logging.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// builder creates the definition of one flow and any options derived
// from the presets, such as a start step.
type builder func(ctx context.Context, presets form.State) (wizard.Definition, []wizard.Option, error)

// Service starts flows and runs account actions.
type Service struct {
	*Accounts

	client   *apiclient.Client
	sessions *session.Store
	metrics  metrics.Collector
	logger   *logging.Logger
	now      func() time.Time

	builders map[string]builder
}

// New creates a Service.
func New(config Config) *Service {
	logger := config.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	s := &Service{
		client:   config.Client,
		sessions: config.Sessions,
		metrics:  metrics.OrNoOp(config.Metrics),
		logger:   logger.Named("flows"),
		now:      now,
	}
	s.Accounts = &Accounts{
		client:   config.Client,
		sessions: config.Sessions,
		logger:   s.logger.Named("accounts"),
		now:      now,
	}
	s.builders = map[string]builder{
		FlowTransfer:       s.transferFlow,
		FlowOrderChecks:    s.orderChecksFlow,
		FlowDispute:        s.disputeFlow,
		FlowCashAdvance:    s.cashAdvanceFlow,
		FlowAccountOpening: s.accountOpeningFlow,
		FlowRollover:       s.rolloverFlow,
		FlowBeneficiary:    s.beneficiaryFlow,
		FlowAlerts:         s.alertsFlow,
	}
	return s
}

// Names lists the registered flows in alphabetical order.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.builders))
	for name := range s.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start creates a wizard for flow, seeded with presets. Presets that
// answer a whole step move the start past it.
func (s *Service) Start(ctx context.Context, flow string, presets map[string]string) (*wizard.Wizard, error) {
	build, ok := s.builders[flow]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, flow)
	}
	st := form.NewState(presets)
	def, opts, err := build(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("flows: start %s: %w", flow, err)
	}

	opts = append([]wizard.Option{
		wizard.WithPresets(presets),
		wizard.WithLogger(s.logger),
		wizard.WithMetrics(s.metrics),
		wizard.WithClock(s.now),
	}, opts...)
	return wizard.New(def, opts...)
}

// Ack is the server's acknowledgement of a submission.
type Ack struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Ref returns the server reference, or the ID when no reference was
// issued.
func (a Ack) Ref() string {
	if a.Reference != "" {
		return a.Reference
	}
	return a.ID
}

// localAck is the fallback for submissions the server never saw.
func localAck(context.Context) (Ack, error) {
	return Ack{Status: "pending"}, nil
}

// confirm turns an outcome into a Confirmation.
func confirm[T any](out apiclient.Outcome[T], prefix, serverRef, message string, sum receipt.Summary, at time.Time) receipt.Confirmation {
	if out.Degraded {
		serverRef = ""
		message += " Your request was recorded locally and will be confirmed when the service is available."
	}
	c := receipt.Confirm(prefix, serverRef, message, sum, at)
	c.Degraded = out.Degraded
	return c
}

// summarizer adapts a *receipt.Summary builder to Definition.Summarize.
func summarizer(fn func(st form.State) *receipt.Summary) func(form.State) receipt.Summary {
	return func(st form.State) receipt.Summary {
		return *fn(st)
	}
}
