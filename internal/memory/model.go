package memory

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// Buffer bounds for the short-term and working tiers.
const (
	MaxRecentQueries = 10
	MaxContextStack  = 5
	MaxSummaries     = 5
	maxCommonTopics  = 10
)

// ErrNotFound is returned by stores when a conversation or profile is unknown.
var ErrNotFound = errors.New("not found")

// Outcome classifies how a conversation ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeEscalated Outcome = "escalated"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeAbandoned, OutcomeEscalated:
		return true
	}
	return false
}

type CommunicationStyle string

const (
	StyleFormal    CommunicationStyle = "formal"
	StyleCasual    CommunicationStyle = "casual"
	StyleTechnical CommunicationStyle = "technical"
)

func (s CommunicationStyle) Valid() bool {
	switch s {
	case StyleFormal, StyleCasual, StyleTechnical:
		return true
	}
	return false
}

// Learned preference keys that are projected onto the user profile.
const (
	PrefPreferredBrand     = "preferred_brand"
	PrefVehicleInfo        = "vehicle_info"
	PrefCommunicationStyle = "communication_style"
	PrefPriceRange         = "price_range"
	PrefPriceConscious     = "price_conscious"
	PrefUrgentCustomer     = "urgent_customer"
)

type VehicleInfo struct {
	Brand string `json:"brand,omitempty"`
	Model string `json:"model,omitempty"`
	Year  int    `json:"year,omitempty"`
	VIN   string `json:"vin,omitempty"`
}

type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// UserProfile is shared by every conversation of the same user and
// outlives them.
type UserProfile struct {
	UserID            string          `json:"user_id"`
	PhoneNumber       string          `json:"phone_number"`
	PreferredLanguage string          `json:"preferred_language"`
	TimeZone          string          `json:"time_zone"`
	Interactions      Interactions    `json:"interactions"`
	Preferences       Preferences     `json:"preferences"`
	Business          BusinessContext `json:"business"`
}

type Interactions struct {
	TotalMessages     int       `json:"total_messages"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	CommonTopics      []string  `json:"common_topics"`
}

type Preferences struct {
	PreferredBrands    []string           `json:"preferred_brands"`
	VehicleInfo        *VehicleInfo       `json:"vehicle_info,omitempty"`
	CommunicationStyle CommunicationStyle `json:"communication_style"`
	PriceRange         *PriceRange        `json:"price_range,omitempty"`
}

type BusinessContext struct {
	PointOfSaleID string     `json:"point_of_sale_id"`
	IsVIPCustomer bool       `json:"is_vip_customer"`
	CreditLimit   float64    `json:"credit_limit"`
	LastPurchase  *time.Time `json:"last_purchase,omitempty"`
}

// NewUserProfile returns a profile with the defaults used for first contact.
func NewUserProfile(userID, phoneNumber, pointOfSaleID string, now time.Time) *UserProfile {
	return &UserProfile{
		UserID:            userID,
		PhoneNumber:       phoneNumber,
		PreferredLanguage: "es",
		TimeZone:          "America/Mexico_City",
		Interactions:      Interactions{LastInteractionAt: now},
		Preferences:       Preferences{CommunicationStyle: StyleCasual},
		Business:          BusinessContext{PointOfSaleID: pointOfSaleID},
	}
}

// AddPreferredBrand inserts brand if it is not already present.
func (p *UserProfile) AddPreferredBrand(brand string) {
	if brand == "" || slices.Contains(p.Preferences.PreferredBrands, brand) {
		return
	}
	p.Preferences.PreferredBrands = append(p.Preferences.PreferredBrands, brand)
}

// ConversationSummary is written once when a conversation is finalized.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	StartedAt      time.Time `json:"started_at"`
	DurationMs     int64     `json:"duration_ms"`
	MessageCount   int       `json:"message_count"`
	MainTopics     []string  `json:"main_topics"`
	Outcome        Outcome   `json:"outcome"`
	Satisfaction   *int      `json:"satisfaction,omitempty"`
	KeyInsights    []string  `json:"key_insights"`
}

// ConversationMemory is the per-conversation state across all three tiers.
type ConversationMemory struct {
	ConversationID string          `json:"conversation_id"`
	ShortTerm      ShortTermMemory `json:"short_term"`
	LongTerm       LongTermMemory  `json:"long_term"`
	Working        WorkingMemory   `json:"working"`
	Metadata       MemoryMetadata  `json:"metadata"`
}

type ShortTermMemory struct {
	CurrentTopic       string            `json:"current_topic"`
	RecentQueries      []string          `json:"recent_queries"`
	ContextualEntities map[string]string `json:"contextual_entities"`
	TemporalReferences map[string]string `json:"temporal_references"`
}

type LongTermMemory struct {
	UserProfile        *UserProfile          `json:"user_profile"`
	PreviousSummaries  []ConversationSummary `json:"previous_summaries"`
	LearnedPreferences map[string]any        `json:"learned_preferences"`
	// BehaviorPatterns is filled only on snapshots handed to callers;
	// it is recomputed on demand and never persisted.
	BehaviorPatterns []string `json:"behavior_patterns,omitempty"`
}

type WorkingMemory struct {
	CurrentIntent  string         `json:"current_intent"`
	ActiveFunction string         `json:"active_function,omitempty"`
	PendingActions []string       `json:"pending_actions"`
	ContextStack   []ContextFrame `json:"context_stack"`
}

// ContextFrame records what the conversation was about at one turn.
type ContextFrame struct {
	Intent string    `json:"intent"`
	Topic  string    `json:"topic,omitempty"`
	At     time.Time `json:"at"`
}

type MemoryMetadata struct {
	CreatedAt         time.Time  `json:"created_at"`
	LastUpdatedAt     time.Time  `json:"last_updated_at"`
	TurnCount         int        `json:"turn_count"`
	AvgResponseTimeMs float64    `json:"avg_response_time_ms"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty"`
}

// Update is a partial update merged into a conversation by Service.Update.
// Zero-valued fields are left untouched.
type Update struct {
	CurrentTopic       string
	Query              string
	Entities           map[string]string
	TemporalReferences map[string]string
	Intent             string
	ActiveFunction     *string
	PendingActions     []string
	ContextFrame       *ContextFrame
}

func newConversationMemory(conversationID string, profile *UserProfile, summaries []ConversationSummary, now time.Time) *ConversationMemory {
	return &ConversationMemory{
		ConversationID: conversationID,
		ShortTerm: ShortTermMemory{
			RecentQueries:      []string{},
			ContextualEntities: map[string]string{},
			TemporalReferences: map[string]string{},
		},
		LongTerm: LongTermMemory{
			UserProfile:        profile,
			PreviousSummaries:  summaries,
			LearnedPreferences: map[string]any{},
		},
		Working: WorkingMemory{
			PendingActions: []string{},
			ContextStack:   []ContextFrame{},
		},
		Metadata: MemoryMetadata{
			CreatedAt:     now,
			LastUpdatedAt: now,
		},
	}
}

// apply merges u into m and enforces the buffer bounds.
func (m *ConversationMemory) apply(u Update) {
	if u.CurrentTopic != "" {
		m.ShortTerm.CurrentTopic = u.CurrentTopic
	}
	if u.Query != "" {
		m.ShortTerm.RecentQueries = pushBounded(m.ShortTerm.RecentQueries, u.Query, MaxRecentQueries)
	}
	if m.ShortTerm.ContextualEntities == nil {
		m.ShortTerm.ContextualEntities = map[string]string{}
	}
	maps.Copy(m.ShortTerm.ContextualEntities, u.Entities)
	if m.ShortTerm.TemporalReferences == nil {
		m.ShortTerm.TemporalReferences = map[string]string{}
	}
	maps.Copy(m.ShortTerm.TemporalReferences, u.TemporalReferences)
	if u.Intent != "" {
		m.Working.CurrentIntent = u.Intent
	}
	if u.ActiveFunction != nil {
		m.Working.ActiveFunction = *u.ActiveFunction
	}
	m.Working.PendingActions = append(m.Working.PendingActions, u.PendingActions...)
	if u.ContextFrame != nil {
		m.Working.ContextStack = pushBounded(m.Working.ContextStack, *u.ContextFrame, MaxContextStack)
	}
}

func pushBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = slices.Clone(s[len(s)-limit:])
	}
	return s
}

func (p *UserProfile) clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Interactions.CommonTopics = slices.Clone(p.Interactions.CommonTopics)
	c.Preferences.PreferredBrands = slices.Clone(p.Preferences.PreferredBrands)
	if p.Preferences.VehicleInfo != nil {
		v := *p.Preferences.VehicleInfo
		c.Preferences.VehicleInfo = &v
	}
	if p.Preferences.PriceRange != nil {
		r := *p.Preferences.PriceRange
		c.Preferences.PriceRange = &r
	}
	if p.Business.LastPurchase != nil {
		t := *p.Business.LastPurchase
		c.Business.LastPurchase = &t
	}
	return &c
}

func (s ConversationSummary) clone() ConversationSummary {
	s.MainTopics = slices.Clone(s.MainTopics)
	s.KeyInsights = slices.Clone(s.KeyInsights)
	if s.Satisfaction != nil {
		v := *s.Satisfaction
		s.Satisfaction = &v
	}
	return s
}

func (m *ConversationMemory) clone() *ConversationMemory {
	if m == nil {
		return nil
	}
	c := *m
	c.ShortTerm.RecentQueries = slices.Clone(m.ShortTerm.RecentQueries)
	c.ShortTerm.ContextualEntities = maps.Clone(m.ShortTerm.ContextualEntities)
	c.ShortTerm.TemporalReferences = maps.Clone(m.ShortTerm.TemporalReferences)
	c.LongTerm.UserProfile = m.LongTerm.UserProfile.clone()
	c.LongTerm.PreviousSummaries = make([]ConversationSummary, len(m.LongTerm.PreviousSummaries))
	for i, s := range m.LongTerm.PreviousSummaries {
		c.LongTerm.PreviousSummaries[i] = s.clone()
	}
	c.LongTerm.LearnedPreferences = maps.Clone(m.LongTerm.LearnedPreferences)
	c.LongTerm.BehaviorPatterns = slices.Clone(m.LongTerm.BehaviorPatterns)
	c.Working.PendingActions = slices.Clone(m.Working.PendingActions)
	c.Working.ContextStack = slices.Clone(m.Working.ContextStack)
	if m.Metadata.FinalizedAt != nil {
		t := *m.Metadata.FinalizedAt
		c.Metadata.FinalizedAt = &t
	}
	return &c
}
