package llm

// Price is the USD price per million tokens.
type Price struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// CalculateCost prices a usage. The result is linear in both token counts.
func CalculateCost(u Usage, p Price) Cost {
	in := float64(u.PromptTokens) / 1e6 * p.Input
	out := float64(u.CompletionTokens) / 1e6 * p.Output
	return Cost{Input: in, Output: out, Total: in + out}
}
