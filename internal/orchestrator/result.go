package orchestrator

import (
	"math"
	"slices"
	"time"

	"github.com/refaxbot/refaxbot/internal/functions"
	"github.com/refaxbot/refaxbot/internal/intent"
)

// Conversation phases reported back to the caller.
const (
	PhaseSearchProduct  = "search_product"
	PhaseInventoryCheck = "inventory_check"
	PhasePurchaseIntent = "purchase_intent"
	PhaseSupportRequest = "support_request"
	PhaseGeneral        = "general"
	PhaseError          = "error"
)

// Next steps attached to the error response.
const (
	StepRetry    = "retry"
	StepEscalate = "escalate"
)

const errorReply = "Lo siento, tuve un problema al procesar tu mensaje. " +
	"Por favor intenta de nuevo en un momento o escribe \"asesor\" para hablar con una persona."

const emptyReply = "Con gusto te ayudo. ¿Me compartes qué pieza buscas y para qué vehículo (marca, modelo y año)?"

// Result is the reply to one turn.
type Result struct {
	ResponseText      string             `json:"response_text"`
	Intent            intent.Intent      `json:"intent"`
	Entities          intent.Entities    `json:"entities"`
	FunctionCalls     []functions.Result `json:"function_calls"`
	Suggestions       []string           `json:"suggestions"`
	ConversationState ConversationState  `json:"conversation_state"`
	Metadata          ResultMetadata     `json:"metadata"`
}

type ConversationState struct {
	Phase       string   `json:"phase"`
	CanProgress bool     `json:"can_progress"`
	NextSteps   []string `json:"next_steps"`
}

type ResultMetadata struct {
	ResponseTimeMs  int64    `json:"response_time_ms"`
	FunctionsCalled []string `json:"functions_called"`
	ConfidenceScore float64  `json:"confidence_score"`
	PromptUsed      string   `json:"prompt_used,omitempty"`
}

// ErrorResponse is returned for any turn that could not be processed.
func ErrorResponse(elapsed time.Duration) *Result {
	return &Result{
		ResponseText:  errorReply,
		Intent:        intent.Error,
		FunctionCalls: []functions.Result{},
		Suggestions:   []string{"Intentar de nuevo", "Hablar con un asesor"},
		ConversationState: ConversationState{
			Phase:       PhaseError,
			CanProgress: false,
			NextSteps:   []string{StepRetry, StepEscalate},
		},
		Metadata: ResultMetadata{
			ResponseTimeMs:  elapsed.Milliseconds(),
			FunctionsCalled: []string{},
			ConfidenceScore: 0,
		},
	}
}

func (e *Engine) buildResult(t *turn, elapsed time.Duration) *Result {
	called := make([]string, 0, len(t.calls))
	for _, c := range t.calls {
		called = append(called, c.FunctionName)
	}
	calls := t.calls
	if calls == nil {
		calls = []functions.Result{}
	}
	return &Result{
		ResponseText:      t.response,
		Intent:            t.extracted.Intent,
		Entities:          t.extracted.Entities,
		FunctionCalls:     calls,
		Suggestions:       suggestionsFor(t.extracted.Intent),
		ConversationState: stateFor(t.extracted.Intent, t.calls),
		Metadata: ResultMetadata{
			ResponseTimeMs:  elapsed.Milliseconds(),
			FunctionsCalled: called,
			ConfidenceScore: Confidence(t.extracted, t.calls),
			PromptUsed:      t.prompt,
		},
	}
}

// Confidence scores a turn: 0.5 base, +0.2 for a specific intent, +0.1 per
// entity and +0.15 per successful call, capped at 1.
func Confidence(r intent.Result, calls []functions.Result) float64 {
	score := 0.5
	if !r.Intent.IsGeneral() {
		score += 0.2
	}
	score += 0.1 * float64(r.Entities.Count())
	for _, c := range calls {
		if c.Success {
			score += 0.15
		}
	}
	return math.Min(1, math.Round(score*100)/100)
}

var suggestions = map[intent.Intent][]string{
	intent.SearchProduct: {
		"¿Quieres que revise si la tenemos en existencia?",
		"¿Me compartes el número de serie (VIN) de tu vehículo?",
	},
	intent.PriceInquiry: {
		"¿Te gustaría apartar la pieza?",
		"¿Quieres comparar con otra marca?",
	},
	intent.PurchaseIntent: {
		"¿Confirmo tu ticket de compra?",
		"¿En qué sucursal la recoges?",
	},
	intent.InventoryCheck: {
		"¿Quieres saber el precio?",
		"¿Te la apartamos?",
	},
	intent.InventoryFollowup: {
		"¿Quieres saber el precio?",
	},
	intent.VINLookup: {
		"¿Qué pieza necesitas para ese vehículo?",
	},
	intent.SupportRequest: {
		"¿Quieres que te comunique con un asesor?",
	},
	intent.ShippingInquiry: {
		"¿Tienes a la mano tu número de pedido?",
	},
	intent.GeneralInquiry: {
		"¿Buscas alguna refacción en particular?",
		"¿Para qué vehículo es?",
	},
}

func suggestionsFor(i intent.Intent) []string {
	if s, ok := suggestions[i]; ok {
		return slices.Clone(s)
	}
	return []string{}
}

var nextSteps = map[intent.Intent][]string{
	intent.SearchProduct:     {"confirm_vehicle", "check_inventory"},
	intent.PriceInquiry:      {"confirm_part", "generate_ticket"},
	intent.PurchaseIntent:    {"confirm_purchase"},
	intent.InventoryCheck:    {"check_price", "reserve_part"},
	intent.InventoryFollowup: {"check_price", "reserve_part"},
	intent.VINLookup:         {"select_part"},
	intent.SupportRequest:    {StepEscalate},
	intent.ShippingInquiry:   {"share_order_number"},
	intent.GeneralInquiry:    {"search_part"},
}

var phases = map[intent.Intent]string{
	intent.SearchProduct:  PhaseSearchProduct,
	intent.InventoryCheck: PhaseInventoryCheck,
	intent.PurchaseIntent: PhasePurchaseIntent,
	intent.SupportRequest: PhaseSupportRequest,
}

// pendingActions are recorded in working memory after a successful call.
var pendingActions = map[string][]string{
	functions.GenerarTicket:  {"confirmar_pago"},
	functions.EscalarAHumano: {"esperar_asesor"},
}

// stateFor derives the conversation state. A generated ticket or a hand-off
// to a human leaves the conversation waiting on someone else.
func stateFor(i intent.Intent, calls []functions.Result) ConversationState {
	phase, ok := phases[i]
	if !ok {
		phase = PhaseGeneral
	}
	canProgress := true
	for _, c := range calls {
		if c.Success && (c.FunctionName == functions.GenerarTicket || c.FunctionName == functions.EscalarAHumano) {
			canProgress = false
		}
	}
	steps := slices.Clone(nextSteps[i])
	if steps == nil {
		steps = []string{}
	}
	return ConversationState{Phase: phase, CanProgress: canProgress, NextSteps: steps}
}
