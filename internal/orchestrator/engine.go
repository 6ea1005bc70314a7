// Package orchestrator runs one customer turn end to end: normalize, classify,
// remember, prompt the model, execute at most one business function and
// reply. The engine never returns an error to its caller; failed turns get
// a fixed apology instead.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/refaxbot/refaxbot/internal/functions"
	"github.com/refaxbot/refaxbot/internal/intent"
	"github.com/refaxbot/refaxbot/internal/keylock"
	"github.com/refaxbot/refaxbot/internal/llm"
	"github.com/refaxbot/refaxbot/internal/memory"
	"github.com/refaxbot/refaxbot/internal/metrics"
	inats "github.com/refaxbot/refaxbot/internal/nats"
	"github.com/refaxbot/refaxbot/internal/prompt"
	"github.com/refaxbot/refaxbot/internal/vocab"
)

// Processing stages, used as the metrics label for failed turns.
const (
	stageValidate = "validate"
	stageMemory   = "memory"
	stageLLM      = "llm"
	stagePanic    = "panic"
)

var errEmptyResponse = errors.New("model returned no response")

// Request is one inbound customer message.
type Request struct {
	ConversationID string            `json:"conversation_id" validate:"required,max=128"`
	UserID         string            `json:"user_id" validate:"required,max=128"`
	PhoneNumber    string            `json:"phone_number" validate:"omitempty,max=32"`
	Message        string            `json:"message" validate:"required,max=4096"`
	PointOfSaleID  string            `json:"point_of_sale_id" validate:"omitempty,max=64"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TurnPublisher receives one event per processed turn.
type TurnPublisher interface {
	PublishTurnEvent(ctx context.Context, event inats.TurnEvent) error
}

// Config holds the per-deployment knobs of the engine.
type Config struct {
	TemplateID  string
	Model       string
	Temperature float32
	MaxTokens   int
	// Location is the point-of-sale time zone; nil means UTC.
	Location *time.Location
}

// Deps are the collaborators of an Engine. Events is optional.
type Deps struct {
	Memory     *memory.Service
	Locks      *keylock.Map
	Normalizer vocab.Normalizer
	Assembler  *prompt.Assembler
	Dispatcher *functions.Dispatcher
	LLM        llm.Client
	Validator  *Validator
	Events     TurnPublisher
}

// Engine processes customer turns. Turns of the same conversation are
// serialized; different conversations run concurrently.
type Engine struct {
	cfg        Config
	memory     *memory.Service
	locks      *keylock.Map
	normalizer vocab.Normalizer
	assembler  *prompt.Assembler
	dispatcher *functions.Dispatcher
	llm        llm.Client
	validator  *Validator
	events     TurnPublisher
	now        func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.TemplateID == "" {
		cfg.TemplateID = prompt.DefaultTemplateID
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Locks == nil {
		deps.Locks = keylock.New()
	}
	if deps.Normalizer == nil {
		deps.Normalizer = vocab.Identity
	}
	if deps.Validator == nil {
		deps.Validator = NewValidator()
	}
	return &Engine{
		cfg:        cfg,
		memory:     deps.Memory,
		locks:      deps.Locks,
		normalizer: deps.Normalizer,
		assembler:  deps.Assembler,
		dispatcher: deps.Dispatcher,
		llm:        deps.LLM,
		validator:  deps.Validator,
		events:     deps.Events,
		now:        time.Now,
	}
}

// turn carries the intermediate values of one Process call.
type turn struct {
	req        Request
	normalized string
	extracted  intent.Result
	prompt     string
	allowed    []string
	calls      []functions.Result
	response   string
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// Process runs one turn and always returns a result.
func (e *Engine) Process(ctx context.Context, req Request) *Result {
	start := e.now()

	unlock := e.locks.Lock(req.ConversationID)
	defer unlock()

	t, err := e.runRecovered(ctx, req)
	elapsed := e.now().Sub(start)

	var res *Result
	if err != nil {
		stage := "unknown"
		var se *stageError
		if errors.As(err, &se) {
			stage = se.stage
		}
		slog.Error("orchestrator: turn failed", "conversation_id", req.ConversationID,
			"stage", stage, "error", err)
		metrics.TurnErrorsTotal.WithLabelValues(stage).Inc()
		res = ErrorResponse(elapsed)
	} else {
		res = e.buildResult(t, elapsed)
		e.afterTurn(ctx, t, elapsed)
	}

	metrics.TurnsTotal.WithLabelValues(string(res.Intent)).Inc()
	metrics.TurnDuration.Observe(elapsed.Seconds())
	metrics.ConfidenceScore.Observe(res.Metadata.ConfidenceScore)
	e.publish(ctx, req, res, err == nil)

	slog.Info("orchestrator: turn processed", "conversation_id", req.ConversationID,
		"intent", res.Intent, "functions", res.Metadata.FunctionsCalled,
		"confidence", res.Metadata.ConfidenceScore, "elapsed_ms", res.Metadata.ResponseTimeMs)
	return res
}

// runRecovered turns a panic in any stage into a failed turn.
func (e *Engine) runRecovered(ctx context.Context, req Request) (t *turn, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, &stageError{stagePanic, fmt.Errorf("%v", r)}
		}
	}()
	return e.run(ctx, req)
}

func (e *Engine) run(ctx context.Context, req Request) (*turn, error) {
	if err := e.validator.Validate(req); err != nil {
		return nil, &stageError{stageValidate, err}
	}
	t := &turn{req: req}
	now := e.now().In(e.cfg.Location)

	mem, ok, err := e.memory.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, &stageError{stageMemory, err}
	}
	if !ok {
		if mem, err = e.memory.Initialize(ctx, req.ConversationID, req.UserID, req.PhoneNumber, req.PointOfSaleID); err != nil {
			return nil, &stageError{stageMemory, err}
		}
	}

	var previousQuery string
	if q := mem.ShortTerm.RecentQueries; len(q) > 0 {
		previousQuery = q[len(q)-1]
	}

	t.normalized = Preprocess(req.Message, e.normalizer)
	t.extracted = intent.Extract(t.normalized, previousQuery, now)

	topic := topicOf(t.normalized)
	if topic == "" && !t.extracted.Intent.IsGeneral() {
		topic = string(t.extracted.Intent)
	}
	err = e.memory.Update(ctx, req.ConversationID, memory.Update{
		CurrentTopic: topic,
		Query:        t.normalized,
		Entities:     t.extracted.Entities.Map(),
		Intent:       string(t.extracted.Intent),
		ContextFrame: &memory.ContextFrame{Intent: string(t.extracted.Intent), Topic: topic, At: now},
	})
	if err != nil {
		slog.Warn("orchestrator: memory update failed", "conversation_id", req.ConversationID, "error", err)
	}

	t.allowed = functions.AllowedFor(t.extracted.Intent)
	t.prompt = e.assembler.Render(e.cfg.TemplateID, e.promptContext(ctx, t, now))

	resp, err := e.llm.Complete(ctx, llm.Request{
		Model: e.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: t.prompt},
			{Role: llm.RoleUser, Content: req.Message},
		},
		Functions:        functions.Definitions(t.allowed),
		FunctionCallMode: llm.FunctionCallAuto,
		Temperature:      e.cfg.Temperature,
		MaxTokens:        e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, &stageError{stageLLM, err}
	}
	if resp == nil {
		return nil, &stageError{stageLLM, errEmptyResponse}
	}
	t.response = resp.Content

	if fc := resp.FunctionCall; fc != nil {
		cc := functions.CallContext{
			PointOfSaleID:  req.PointOfSaleID,
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
		}
		result := e.dispatcher.Dispatch(ctx, functions.Call{Name: fc.Name, Arguments: fc.Arguments}, t.allowed, cc)
		t.calls = append(t.calls, result)

		u := memory.Update{ActiveFunction: &result.FunctionName}
		if result.Success {
			u.PendingActions = pendingActions[result.FunctionName]
		}
		if err := e.memory.Update(ctx, req.ConversationID, u); err != nil {
			slog.Warn("orchestrator: recording function call failed", "conversation_id", req.ConversationID, "error", err)
		}

		if result.Success && result.Data != nil {
			t.response = e.synthesize(ctx, t, result)
		}
	}

	if t.response == "" {
		t.response = emptyReply
	}
	return t, nil
}

func (e *Engine) promptContext(ctx context.Context, t *turn, now time.Time) prompt.Context {
	pc := prompt.Context{
		CurrentMessage:     t.req.Message,
		Intent:             string(t.extracted.Intent),
		TurnCount:          1,
		Entities:           t.extracted.Entities.Map(),
		AvailableFunctions: t.allowed,
		PointOfSaleID:      t.req.PointOfSaleID,
		Now:                now,
	}
	lc, err := e.memory.BuildLLMContext(ctx, t.req.ConversationID)
	if err != nil {
		slog.Warn("orchestrator: building llm context failed", "conversation_id", t.req.ConversationID, "error", err)
		return pc
	}
	// Metadata.TurnCount counts completed turns; the prompt wants the current one.
	pc.TurnCount = lc.TurnCount + 1
	pc.IsVIP = lc.IsVIP
	pc.BehaviorPatterns = lc.BehaviorPatterns
	pc.CommunicationStyle = string(lc.CommunicationStyle)
	pc.RecentQueries = lc.RecentQueries
	pc.Entities = lc.Entities
	if pc.PointOfSaleID == "" {
		pc.PointOfSaleID = lc.PointOfSaleID
	}
	return pc
}

const synthesisPrompt = "Eres el asistente de WhatsApp de una refaccionaria. " +
	"Reescribe la respuesta borrador para el cliente integrando de forma natural los datos obtenidos. " +
	"No inventes piezas, precios ni existencias que no aparezcan en los datos. " +
	"Responde en español, breve y claro."

// synthesize asks the model to fold a function result into the reply. On
// failure the draft is kept.
func (e *Engine) synthesize(ctx context.Context, t *turn, result functions.Result) string {
	data, err := json.Marshal(result.Data)
	if err != nil {
		slog.Warn("orchestrator: encoding function data failed", "function", result.FunctionName, "error", err)
		return t.response
	}

	resp, err := e.llm.Complete(ctx, llm.Request{
		Model: e.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: synthesisPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"Mensaje del cliente: %s\n\nRespuesta borrador: %s\n\nResultado de %s: %s",
				t.req.Message, t.response, result.FunctionName, data)},
		},
		FunctionCallMode: llm.FunctionCallNone,
		Temperature:      e.cfg.Temperature,
		MaxTokens:        e.cfg.MaxTokens,
	})
	if err != nil || resp == nil || resp.Content == "" {
		slog.Warn("orchestrator: synthesis failed, keeping draft", "conversation_id", t.req.ConversationID, "error", err)
		return t.response
	}
	return resp.Content
}

// afterTurn records learning and timing. Failures are logged and never
// change the reply.
func (e *Engine) afterTurn(ctx context.Context, t *turn, elapsed time.Duration) {
	for key, value := range learnPreferences(t.req.Message, t.extracted) {
		if err := e.memory.LearnPreference(ctx, t.req.ConversationID, key, value); err != nil {
			slog.Warn("orchestrator: learning preference failed", "conversation_id", t.req.ConversationID,
				"key", key, "error", err)
		}
	}
	if err := e.memory.RecordTurn(ctx, t.req.ConversationID, elapsed); err != nil {
		slog.Warn("orchestrator: recording turn failed", "conversation_id", t.req.ConversationID, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, req Request, res *Result, success bool) {
	if e.events == nil {
		return
	}
	event := inats.TurnEvent{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Intent:         string(res.Intent),
		Confidence:     res.Metadata.ConfidenceScore,
		Functions:      res.Metadata.FunctionsCalled,
		Success:        success,
		ProcessingMs:   res.Metadata.ResponseTimeMs,
		Timestamp:      e.now(),
	}
	if err := e.events.PublishTurnEvent(ctx, event); err != nil {
		slog.Warn("orchestrator: publishing turn event failed", "conversation_id", req.ConversationID, "error", err)
	}
}
