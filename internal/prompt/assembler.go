package prompt

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/refaxbot/refaxbot/internal/functions"
)

// Section names in the order they appear in a rendered prompt.
const (
	SectionBase         = "base"
	SectionSpecial      = "special_context"
	SectionStyle        = "communication_style"
	SectionScenario     = "scenario"
	SectionConversation = "conversation_context"
	SectionFunctions    = "functions"
	SectionBusiness     = "business_context"
	SectionFallback     = "fallback"
)

// Scenario keys looked up in Template.ScenarioSpecific.
const (
	ScenarioInitial  = "initial"
	ScenarioSearch   = "search"
	ScenarioCompare  = "compare"
	ScenarioPurchase = "purchase"
	ScenarioSupport  = "support"
)

// Time-of-day buckets used in the business context block.
const (
	Morning   = "morning"
	Afternoon = "afternoon"
	Evening   = "evening"
	Night     = "night"
)

const defaultStyle = "casual"

// Context is everything the assembler needs for one turn.
type Context struct {
	CurrentMessage     string
	Intent             string
	TurnCount          int
	IsVIP              bool
	BehaviorPatterns   []string
	CommunicationStyle string
	RecentQueries      []string
	Entities           map[string]string
	AvailableFunctions []string
	PointOfSaleID      string
	// Now is the local time of the point of sale; zero means time.Now().
	Now time.Time
}

// Section is one named block of a rendered prompt.
type Section struct {
	Name string
	Text string
}

var patternSentences = map[string]string{
	"price_sensitive":    "El cliente cuida su presupuesto, menciona primero las opciones más económicas.",
	"urgent_buyer":       "El cliente tiene prisa, ve directo al punto y confirma disponibilidad inmediata.",
	"brand_loyal":        "El cliente prefiere una marca en particular, priorízala en tus sugerencias.",
	"detail_oriented":    "El cliente valora los detalles, incluye especificaciones y compatibilidad.",
	"repeat_searcher":    "El cliente ha hecho varias búsquedas, resume opciones claras para ayudarle a decidir.",
	"returning_customer": "Es un cliente recurrente, agradécele su preferencia.",
}

var bucketLabels = map[string]string{
	Morning:   "mañana",
	Afternoon: "tarde",
	Evening:   "noche temprana",
	Night:     "noche",
}

type sectionBuilder struct {
	name  string
	build func(Template, Context) string
}

// pipeline is the fixed section order.
var pipeline = []sectionBuilder{
	{SectionBase, baseSection},
	{SectionSpecial, specialSection},
	{SectionStyle, styleSection},
	{SectionScenario, scenarioSection},
	{SectionConversation, conversationSection},
	{SectionFunctions, functionsSection},
	{SectionBusiness, businessSection},
}

// Assembler renders prompts from a Registry.
type Assembler struct {
	registry *Registry
	now      func() time.Time
}

// NewAssembler creates a new Assembler.
func NewAssembler(registry *Registry) *Assembler {
	return &Assembler{registry: registry, now: time.Now}
}

// Sections returns the non-empty blocks of the prompt in order. An unknown
// templateID yields a single fallback section.
func (a *Assembler) Sections(templateID string, c Context) []Section {
	t, ok := a.registry.Get(templateID)
	if !ok {
		slog.Warn("prompt: unknown template, using fallback", "template_id", templateID)
		return []Section{{Name: SectionFallback, Text: Fallback(c)}}
	}
	if c.Now.IsZero() {
		c.Now = a.now()
	}

	out := make([]Section, 0, len(pipeline))
	for _, b := range pipeline {
		if text := b.build(t, c); text != "" {
			out = append(out, Section{Name: b.name, Text: text})
		}
	}
	return out
}

// Render joins the sections into the final prompt. It never fails.
func (a *Assembler) Render(templateID string, c Context) string {
	sections := a.Sections(templateID, c)
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = s.Text
	}
	return strings.Join(parts, "\n\n")
}

// Fallback is the minimal prompt used when no template is available.
func Fallback(c Context) string {
	intent := c.Intent
	if intent == "" {
		intent = "general_inquiry"
	}
	return fmt.Sprintf("Eres un asistente de atención a clientes de una refaccionaria. "+
		"Responde en español de forma breve y útil.\n"+
		"Intención detectada: %s\n"+
		"Mensaje del cliente:\n<<<\n%s\n>>>", intent, c.CurrentMessage)
}

func baseSection(t Template, _ Context) string {
	if len(t.ContextualModifiers) == 0 {
		return t.BasePrompt
	}
	var b strings.Builder
	b.WriteString(t.BasePrompt)
	b.WriteString("\n\nLineamientos:")
	for _, m := range t.ContextualModifiers {
		b.WriteString("\n- ")
		b.WriteString(m)
	}
	return b.String()
}

func specialSection(_ Template, c Context) string {
	var lines []string
	if c.TurnCount > 1 {
		lines = append(lines, "La conversación ya está en curso, no vuelvas a saludar y retoma el contexto previo.")
	}
	if c.IsVIP {
		lines = append(lines, "Cliente VIP, ofrece atención prioritaria y menciona los beneficios exclusivos.")
	}
	for _, p := range c.BehaviorPatterns {
		if s, ok := patternSentences[p]; ok {
			lines = append(lines, s)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Contexto especial:\n- " + strings.Join(lines, "\n- ")
}

func styleSection(t Template, c Context) string {
	if s, ok := t.UserStyleModifiers[c.CommunicationStyle]; ok {
		return "Estilo de comunicación: " + s
	}
	if s, ok := t.UserStyleModifiers[defaultStyle]; ok {
		return "Estilo de comunicación: " + s
	}
	return ""
}

// ScenarioFor picks the scenario key for an intent by substring match.
func ScenarioFor(intent string) string {
	i := strings.ToLower(intent)
	switch {
	case strings.Contains(i, "search"):
		return ScenarioSearch
	case strings.Contains(i, "compar"):
		return ScenarioCompare
	case strings.Contains(i, "buy"), strings.Contains(i, "purchase"), strings.Contains(i, "compra"):
		return ScenarioPurchase
	case strings.Contains(i, "support"), strings.Contains(i, "help"), strings.Contains(i, "soporte"):
		return ScenarioSupport
	}
	return ScenarioInitial
}

func scenarioSection(t Template, c Context) string {
	s, ok := t.ScenarioSpecific[ScenarioFor(c.Intent)]
	if !ok || s == "" {
		return ""
	}
	return "Escenario: " + s
}

func conversationSection(_ Template, c Context) string {
	var b strings.Builder
	b.WriteString("Contexto de la conversación:\n")

	intent := c.Intent
	if intent == "" {
		intent = "general_inquiry"
	}
	fmt.Fprintf(&b, "- Intención actual: %s\n", intent)

	recent := c.RecentQueries
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	if len(recent) == 0 {
		b.WriteString("- Consultas recientes: ninguna\n")
	} else {
		fmt.Fprintf(&b, "- Consultas recientes: %s\n", strings.Join(recent, " | "))
	}

	if len(c.Entities) == 0 {
		b.WriteString("- Entidades detectadas: ninguna")
		return b.String()
	}
	keys := make([]string, 0, len(c.Entities))
	for k := range c.Entities {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + c.Entities[k]
	}
	fmt.Fprintf(&b, "- Entidades detectadas: %s", strings.Join(pairs, ", "))
	return b.String()
}

func functionsSection(_ Template, c Context) string {
	var lines []string
	for _, name := range c.AvailableFunctions {
		if desc, ok := functions.Describe(name); ok {
			lines = append(lines, fmt.Sprintf("- %s: %s", name, desc))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Funciones disponibles:\n" + strings.Join(lines, "\n")
}

// TimeOfDay buckets t by its local hour.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return Morning
	case h >= 12 && h < 18:
		return Afternoon
	case h >= 18 && h < 22:
		return Evening
	}
	return Night
}

func businessSection(_ Template, c Context) string {
	pos := c.PointOfSaleID
	if pos == "" {
		pos = "sin asignar"
	}
	bucket := TimeOfDay(c.Now)
	return fmt.Sprintf("Contexto del negocio:\n- Sucursal: %s\n- Momento del día: %s (%s)", pos, bucketLabels[bucket], bucket)
}
