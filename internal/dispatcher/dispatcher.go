// Package dispatcher routes each user message to exactly one capability.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/logger"
	"github.com/dvloznov/cashflow-assistant/internal/session"
)

// Phase is the dispatcher's per-session lifecycle position.
type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseAwaitingClassification Phase = "awaiting_classification"
	PhaseDispatched             Phase = "dispatched"
)

// State is a phase plus, when dispatched, the chosen capability.
type State struct {
	Phase      Phase
	Capability Capability
}

func (s State) String() string {
	if s.Phase == PhaseDispatched {
		return fmt.Sprintf("%s(%s)", s.Phase, s.Capability)
	}
	return string(s.Phase)
}

// Observer is told about every state transition.
type Observer func(sessionID string, from, to State)

// Dispatcher classifies messages and invokes one handler per message.
type Dispatcher struct {
	sessions   *session.Registry
	classifier Classifier
	handlers   map[Capability]Handler
	log        zerolog.Logger
	observer   Observer

	mu     sync.Mutex
	states map[string]State
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithClassifier replaces the default RuleClassifier.
func WithClassifier(c Classifier) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.classifier = c
		}
	}
}

// New creates a Dispatcher. Both capabilities must have a handler.
func New(sessions *session.Registry, scheduler, education Handler, log zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	if sessions == nil {
		return nil, fmt.Errorf("dispatcher.New: session registry is required")
	}
	if scheduler == nil || education == nil {
		return nil, fmt.Errorf("dispatcher.New: scheduler and education handlers are required")
	}
	d := &Dispatcher{
		sessions:   sessions,
		classifier: RuleClassifier{},
		handlers: map[Capability]Handler{
			CapabilityScheduler: scheduler,
			CapabilityEducation: education,
		},
		log:    log,
		states: make(map[string]State),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// State returns the current state of a session; unknown sessions are idle.
func (d *Dispatcher) State(sessionID string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.states[sessionID]; ok {
		return s
	}
	return State{Phase: PhaseIdle}
}

func (d *Dispatcher) transition(sessionID string, to State) {
	d.mu.Lock()
	from, ok := d.states[sessionID]
	if !ok {
		from = State{Phase: PhaseIdle}
	}
	d.states[sessionID] = to
	d.mu.Unlock()

	if d.observer != nil {
		d.observer(sessionID, from, to)
	}
}

// Dispatch handles one message. Messages for the same session are processed
// one at a time; other sessions proceed in parallel.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return Response{}, &domain.ValidationError{Field: "session_id", Reason: "is required"}
	}
	if strings.TrimSpace(req.Message) == "" && !req.HasAttachedData() {
		return Response{}, &domain.ValidationError{Field: "message", Reason: "message or attached data is required"}
	}

	h, err := d.sessions.Acquire(ctx, req.SessionID, req.UserID)
	if err != nil {
		return Response{}, fmt.Errorf("Dispatch: %w", err)
	}
	defer h.Release()

	log := logger.ForSession(d.log, req.SessionID, req.UserID)
	ctx = logger.WithContext(ctx, log)
	defer d.transition(req.SessionID, State{Phase: PhaseIdle})

	d.transition(req.SessionID, State{Phase: PhaseAwaitingClassification})
	decision := d.classify(ctx, req, log)
	d.transition(req.SessionID, State{Phase: PhaseDispatched, Capability: decision.Capability})

	log.Info().
		Str("capability", string(decision.Capability)).
		Str("source", decision.Source).
		Str("reason", decision.Reason).
		Msg("dispatching message")

	call := Call{Session: h.View(), Ledger: h.Ledger(), Request: req}
	resp, err := d.handlers[decision.Capability].Handle(ctx, call)
	if err != nil {
		log.Error().Err(err).Str("capability", string(decision.Capability)).Msg("capability failed")
		return Response{}, fmt.Errorf("Dispatch: %s: %w", decision.Capability, err)
	}
	resp.Capability = decision.Capability
	resp.Decision = &decision

	h.Append(
		session.Message{Role: session.RoleUser, Content: req.Message},
		session.Message{Role: session.RoleAssistant, Content: resp.Text, Capability: string(decision.Capability)},
	)
	return resp, nil
}

// classify always yields a capability. Attached data wins over anything the
// classifier says.
func (d *Dispatcher) classify(ctx context.Context, req Request, log zerolog.Logger) Decision {
	decision, err := d.classifier.Classify(ctx, req)
	if err != nil || !decision.Capability.Valid() {
		if err != nil {
			log.Warn().Err(err).Msg("classifier failed, using rules")
		}
		decision = classifyByRules(req)
	}
	if req.HasAttachedData() && decision.Capability != CapabilityScheduler {
		decision = classifyByRules(req)
	}
	return decision
}
