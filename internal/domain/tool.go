package domain

// ToolDefinition is a static declaration the model can call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Category    ToolCategory   `json:"category"`
	ReadOnly    bool           `json:"read_only,omitempty"`
}

// ToolResult is the normalized outcome of a tool call.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolContext is the only state a handler may use to reach collaborators.
type ToolContext struct {
	UserID     string `json:"user_id,omitempty"`
	SessionID  string `json:"session_id"`
	ContractID string `json:"contract_id,omitempty"`
	Role       Role   `json:"role,omitempty"`
}
