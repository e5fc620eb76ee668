package domain

import "time"

// Message is a single entry of the conversation context handed to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Project is a generated application together with its sandbox container.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StoredMessage is a persisted conversation message for a project.
// Steps is only set on assistant messages that invoked tools.
type StoredMessage struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Steps     []Step    `json:"steps,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Step records one model round-trip that requested tools.
type Step struct {
	Index       int          `json:"index"`
	Invocations []Invocation `json:"invocations"`
}

// Invocation pairs a tool call with the result it produced.
type Invocation struct {
	Call   ToolCall   `json:"call"`
	Result ToolResult `json:"result"`
}
