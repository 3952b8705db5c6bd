package types

// TokenUsage represents token consumption statistics reported by the
// embedding and generation providers and aggregated per query.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
	// Partial marks a best-effort estimate produced after a cancelled
	// stream; the accounting collaborator must not treat it as a full
	// answer's count.
	Partial bool `json:"partial,omitempty"`
}

// Add adds another TokenUsage to this one. A partial component marks the
// aggregate partial as well.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Partial = u.Partial || other.Partial
}

// IsZero reports whether no tokens were recorded.
func (u TokenUsage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}
