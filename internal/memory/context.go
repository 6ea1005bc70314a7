package memory

import (
	"maps"
	"slices"
)

// LLMContext is the flattened view of a conversation consumed by the prompt
// assembler. It is a snapshot; mutating it does not affect stored memory.
type LLMContext struct {
	UserID             string             `json:"user_id"`
	PhoneNumber        string             `json:"phone_number"`
	PointOfSaleID      string             `json:"point_of_sale_id"`
	IsVIP              bool               `json:"is_vip"`
	CommunicationStyle CommunicationStyle `json:"communication_style"`
	PreferredBrands    []string           `json:"preferred_brands"`
	VehicleInfo        *VehicleInfo       `json:"vehicle_info,omitempty"`
	BehaviorPatterns   []string           `json:"behavior_patterns"`
	LearnedPreferences map[string]any     `json:"learned_preferences"`
	PreviousTopics     []string           `json:"previous_topics"`

	TurnCount      int               `json:"turn_count"`
	CurrentTopic   string            `json:"current_topic"`
	CurrentIntent  string            `json:"current_intent"`
	ActiveFunction string            `json:"active_function,omitempty"`
	RecentQueries  []string          `json:"recent_queries"`
	Entities       map[string]string `json:"entities"`
	PendingActions []string          `json:"pending_actions"`
}

func buildLLMContext(mem *ConversationMemory, patterns []string) *LLMContext {
	ctx := &LLMContext{
		BehaviorPatterns:   patterns,
		LearnedPreferences: maps.Clone(mem.LongTerm.LearnedPreferences),
		TurnCount:          mem.Metadata.TurnCount,
		CurrentTopic:       mem.ShortTerm.CurrentTopic,
		CurrentIntent:      mem.Working.CurrentIntent,
		ActiveFunction:     mem.Working.ActiveFunction,
		RecentQueries:      slices.Clone(mem.ShortTerm.RecentQueries),
		Entities:           maps.Clone(mem.ShortTerm.ContextualEntities),
		PendingActions:     slices.Clone(mem.Working.PendingActions),
	}

	if p := mem.LongTerm.UserProfile; p != nil {
		ctx.UserID = p.UserID
		ctx.PhoneNumber = p.PhoneNumber
		ctx.PointOfSaleID = p.Business.PointOfSaleID
		ctx.IsVIP = p.Business.IsVIPCustomer
		ctx.CommunicationStyle = p.Preferences.CommunicationStyle
		ctx.PreferredBrands = slices.Clone(p.Preferences.PreferredBrands)
		if p.Preferences.VehicleInfo != nil {
			v := *p.Preferences.VehicleInfo
			ctx.VehicleInfo = &v
		}
	}

	for _, s := range mem.LongTerm.PreviousSummaries {
		for _, t := range s.MainTopics {
			if !slices.Contains(ctx.PreviousTopics, t) {
				ctx.PreviousTopics = append(ctx.PreviousTopics, t)
			}
		}
	}
	return ctx
}
