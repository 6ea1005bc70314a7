package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refaxbot/refaxbot/internal/functions"
	"github.com/refaxbot/refaxbot/internal/intent"
	"github.com/refaxbot/refaxbot/internal/keylock"
	"github.com/refaxbot/refaxbot/internal/llm"
	"github.com/refaxbot/refaxbot/internal/memory"
	inats "github.com/refaxbot/refaxbot/internal/nats"
	"github.com/refaxbot/refaxbot/internal/prompt"
	"github.com/refaxbot/refaxbot/internal/vocab"
)

// scriptedLLM answers calls in order and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []func(llm.Request) (*llm.Response, error)
	requests []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.steps) {
		return &llm.Response{Content: "respuesta"}, nil
	}
	return s.steps[i](req)
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func text(content string) func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) { return &llm.Response{Content: content}, nil }
}

func call(draft, name, args string) func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: draft, FunctionCall: &llm.FunctionCall{Name: name, Arguments: args}}, nil
	}
}

func fail(err error) func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) { return nil, err }
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []inats.TurnEvent
}

func (p *recordingPublisher) PublishTurnEvent(_ context.Context, e inats.TurnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type engineFixture struct {
	engine *Engine
	memory *memory.Service
	llm    *scriptedLLM
	events *recordingPublisher
}

func newEngineFixture(t *testing.T, steps ...func(llm.Request) (*llm.Response, error)) *engineFixture {
	t.Helper()
	reg, err := prompt.LoadDefault()
	require.NoError(t, err)
	normalizer, err := vocab.NewDefault()
	require.NoError(t, err)

	locks := keylock.New()
	mem := memory.NewService(memory.NewInMemoryConversationStore(), memory.NewInMemoryProfileRepository(), locks)
	fake := &scriptedLLM{steps: steps}
	events := &recordingPublisher{}

	e := NewEngine(Config{TemplateID: prompt.DefaultTemplateID}, Deps{
		Memory:     mem,
		Locks:      locks,
		Normalizer: normalizer,
		Assembler:  prompt.NewAssembler(reg),
		Dispatcher: functions.NewDispatcher(functions.NewCatalogExecutor(nil)),
		LLM:        fake,
		Events:     events,
	})
	now := time.Date(2025, time.March, 3, 16, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	return &engineFixture{engine: e, memory: mem, llm: fake, events: events}
}

func request(conversationID, message string) Request {
	return Request{
		ConversationID: conversationID,
		UserID:         "u-" + conversationID,
		PhoneNumber:    "+5215512345678",
		Message:        message,
		PointOfSaleID:  "pos-01",
	}
}

func TestEngine_SearchProductEndToEnd(t *testing.T) {
	synth := func(req llm.Request) (*llm.Response, error) {
		if req.FunctionCallMode != llm.FunctionCallNone {
			return nil, errors.New("synthesis must not offer functions")
		}
		return &llm.Response{Content: "Sí tenemos balatas Brembo para tu Corolla 2018 en $890."}, nil
	}
	f := newEngineFixture(t,
		call("", functions.ConsultarInventario, `{"producto":"balatas","marca":"toyota","modelo":"corolla","anio":2018}`),
		synth,
	)
	ctx := context.Background()

	res := f.engine.Process(ctx, request("c1", "Necesito pastillas de freno para mi Toyota Corolla 2018"))

	assert.Equal(t, intent.SearchProduct, res.Intent)
	assert.Equal(t, "toyota", res.Entities.Brand)
	assert.Equal(t, 2018, res.Entities.Year)
	assert.Equal(t, "Sí tenemos balatas Brembo para tu Corolla 2018 en $890.", res.ResponseText)

	require.Len(t, res.FunctionCalls, 1)
	assert.True(t, res.FunctionCalls[0].Success)
	assert.Equal(t, []string{functions.ConsultarInventario}, res.Metadata.FunctionsCalled)
	assert.Equal(t, 1.0, res.Metadata.ConfidenceScore)
	assert.Equal(t, PhaseSearchProduct, res.ConversationState.Phase)
	assert.True(t, res.ConversationState.CanProgress)
	assert.NotEmpty(t, res.Suggestions)
	assert.Contains(t, res.Metadata.PromptUsed, functions.ConsultarInventario)

	require.Equal(t, 2, f.llm.calls())
	first := f.llm.requests[0]
	var offered []string
	for _, d := range first.Functions {
		offered = append(offered, d.Name)
	}
	assert.Contains(t, offered, functions.ConsultarInventario)
	assert.Contains(t, offered, functions.EscalarAHumano)
	assert.NotContains(t, offered, functions.GenerarTicket)
	assert.Contains(t, f.llm.requests[1].Messages[1].Content, "BAL-TOY-01")

	mem, ok, err := f.memory.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"necesito balatas para mi toyota corolla 2018"}, mem.ShortTerm.RecentQueries)
	assert.Equal(t, "balatas", mem.ShortTerm.CurrentTopic)
	assert.Equal(t, "toyota", mem.ShortTerm.ContextualEntities["brand"])
	assert.Equal(t, string(intent.SearchProduct), mem.Working.CurrentIntent)
	assert.Equal(t, functions.ConsultarInventario, mem.Working.ActiveFunction)
	assert.Equal(t, 1, mem.Metadata.TurnCount)
	assert.Equal(t, "toyota", mem.LongTerm.LearnedPreferences[memory.PrefPreferredBrand])
	assert.Contains(t, mem.LongTerm.UserProfile.Preferences.PreferredBrands, "toyota")
	require.NotNil(t, mem.LongTerm.UserProfile.Preferences.VehicleInfo)
	assert.Equal(t, 2018, mem.LongTerm.UserProfile.Preferences.VehicleInfo.Year)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.True(t, ev.Success)
	assert.Equal(t, "c1", ev.ConversationID)
	assert.Equal(t, string(intent.SearchProduct), ev.Intent)
	assert.Equal(t, []string{functions.ConsultarInventario}, ev.Functions)
}

func TestEngine_LLMFailureReturnsErrorResponse(t *testing.T) {
	f := newEngineFixture(t, fail(errors.New("503 service unavailable")))
	ctx := context.Background()

	res := f.engine.Process(ctx, request("c1", "tienen balatas"))

	assert.Equal(t, intent.Error, res.Intent)
	assert.Equal(t, errorReply, res.ResponseText)
	assert.Zero(t, res.Metadata.ConfidenceScore)
	assert.Empty(t, res.FunctionCalls)
	assert.Equal(t, PhaseError, res.ConversationState.Phase)
	assert.False(t, res.ConversationState.CanProgress)
	assert.Equal(t, []string{StepRetry, StepEscalate}, res.ConversationState.NextSteps)

	mem, ok, err := f.memory.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok, "memory is initialized before the model is called")
	assert.Zero(t, mem.Metadata.TurnCount, "failed turns are not recorded")

	require.Len(t, f.events.events, 1)
	assert.False(t, f.events.events[0].Success)
	assert.Equal(t, string(intent.Error), f.events.events[0].Intent)
}

func TestEngine_GeneralInquiryBaseConfidence(t *testing.T) {
	f := newEngineFixture(t, text("¡Hola! ¿En qué te puedo ayudar?"))

	res := f.engine.Process(context.Background(), request("c1", "hola buenas tardes"))

	assert.Equal(t, intent.GeneralInquiry, res.Intent)
	assert.Equal(t, 0.5, res.Metadata.ConfidenceScore)
	assert.Empty(t, res.FunctionCalls)
	assert.Empty(t, res.Metadata.FunctionsCalled)
	assert.Equal(t, PhaseGeneral, res.ConversationState.Phase)
	assert.True(t, res.ConversationState.CanProgress)
	assert.Equal(t, 1, f.llm.calls(), "no function call means no synthesis")
}

func TestEngine_SynthesisFailureKeepsDraft(t *testing.T) {
	f := newEngineFixture(t,
		call("Déjame revisar el inventario.", functions.ConsultarInventario, `{"producto":"balatas"}`),
		fail(errors.New("timeout")),
	)

	res := f.engine.Process(context.Background(), request("c1", "tienen balatas"))

	assert.Equal(t, intent.InventoryCheck, res.Intent)
	assert.Equal(t, "Déjame revisar el inventario.", res.ResponseText)
	require.Len(t, res.FunctionCalls, 1)
	assert.True(t, res.FunctionCalls[0].Success)
	assert.Equal(t, 2, f.llm.calls())
}

func empty() func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) { return nil, nil }
}

func TestEngine_EmptyModelResponseReturnsErrorResponse(t *testing.T) {
	f := newEngineFixture(t, empty())

	res := f.engine.Process(context.Background(), request("c1", "hola"))

	assert.Equal(t, intent.Error, res.Intent)
	assert.Equal(t, errorReply, res.ResponseText)
	assert.Equal(t, []string{"retry", "escalate"}, res.ConversationState.NextSteps)
}

func TestEngine_EmptySynthesisKeepsDraft(t *testing.T) {
	f := newEngineFixture(t,
		call("Déjame revisar el inventario.", functions.ConsultarInventario, `{"producto":"balatas"}`),
		empty(),
	)

	res := f.engine.Process(context.Background(), request("c1", "tienen balatas"))

	assert.Equal(t, intent.InventoryCheck, res.Intent)
	assert.Equal(t, "Déjame revisar el inventario.", res.ResponseText)
	assert.Equal(t, 2, f.llm.calls())
}

func TestEngine_PanicInStageReturnsErrorResponse(t *testing.T) {
	f := newEngineFixture(t, func(llm.Request) (*llm.Response, error) {
		panic("model client bug")
	})

	var res *Result
	require.NotPanics(t, func() {
		res = f.engine.Process(context.Background(), request("c1", "tienen balatas"))
	})
	assert.Equal(t, intent.Error, res.Intent)
	assert.False(t, res.ConversationState.CanProgress)

	// The conversation lock was released.
	res = f.engine.Process(context.Background(), request("c1", "tienen balatas"))
	assert.Equal(t, intent.InventoryCheck, res.Intent)
}

func TestEngine_DisallowedFunctionIsNotExecuted(t *testing.T) {
	f := newEngineFixture(t, call("", functions.GenerarTicket, `{"sku":"BAL-TOY-01"}`))

	res := f.engine.Process(context.Background(), request("c1", "tienen balatas"))

	require.Len(t, res.FunctionCalls, 1)
	assert.False(t, res.FunctionCalls[0].Success)
	assert.Equal(t, functions.ErrNotAllowed.Error(), res.FunctionCalls[0].Error)
	assert.Equal(t, emptyReply, res.ResponseText)
	assert.Equal(t, 0.7, res.Metadata.ConfidenceScore)
	assert.Equal(t, 1, f.llm.calls())
}

func TestEngine_TicketStopsProgress(t *testing.T) {
	f := newEngineFixture(t,
		call("", functions.GenerarTicket, `{"sku":"BAL-TOY-01","cantidad":"1"}`),
		text("Listo, tu folio está apartado."),
	)
	ctx := context.Background()

	res := f.engine.Process(ctx, request("c1", "quiero comprar las balatas BAL-TOY-01"))

	assert.Equal(t, intent.PurchaseIntent, res.Intent)
	assert.Equal(t, PhasePurchaseIntent, res.ConversationState.Phase)
	assert.False(t, res.ConversationState.CanProgress)

	mem, _, err := f.memory.Snapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Contains(t, mem.Working.PendingActions, "confirmar_pago")
}

func TestEngine_InventoryFollowupUsesPreviousQuery(t *testing.T) {
	f := newEngineFixture(t, text("Sí, tenemos."), text("Para Nissan también."))
	ctx := context.Background()

	first := f.engine.Process(ctx, request("c1", "¿tienen balatas?"))
	require.Equal(t, intent.InventoryCheck, first.Intent)

	second := f.engine.Process(ctx, request("c1", "y para nissan"))
	assert.Equal(t, intent.InventoryFollowup, second.Intent)
	assert.Equal(t, "nissan", second.Entities.Brand)
	assert.Contains(t, second.Metadata.PromptUsed, "ya está en curso")

	other := f.engine.Process(ctx, request("c2", "y para nissan"))
	assert.Equal(t, intent.GeneralInquiry, other.Intent, "follow-up needs history in the same conversation")
}

func TestEngine_InvalidRequest(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"empty message", request("c1", "")},
		{"blank message", request("c1", "   ")},
		{"missing conversation", Request{UserID: "u1", Message: "hola"}},
		{"missing user", Request{ConversationID: "c1", Message: "hola"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.engine.Process(ctx, tt.req)
			assert.Equal(t, intent.Error, res.Intent)
		})
	}

	assert.Zero(t, f.llm.calls())
	_, ok, err := f.memory.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_SerializesTurnsPerConversation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.Process(ctx, request("c1", fmt.Sprintf("hola %d", i)))
		}()
	}
	wg.Wait()

	mem, ok, err := f.memory.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, n, mem.Metadata.TurnCount)
	assert.Len(t, mem.ShortTerm.RecentQueries, n)
}

func TestEngine_LearnsPriceAndUrgency(t *testing.T) {
	f := newEngineFixture(t, text("Claro."))
	ctx := context.Background()

	f.engine.Process(ctx, request("c1", "¡Urgente! busco algo barato para mi vocho"))

	mem, _, err := f.memory.Snapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, true, mem.LongTerm.LearnedPreferences[memory.PrefPriceConscious])
	assert.Equal(t, true, mem.LongTerm.LearnedPreferences[memory.PrefUrgentCustomer])
	assert.Equal(t, "volkswagen", mem.LongTerm.LearnedPreferences[memory.PrefPreferredBrand])
}
