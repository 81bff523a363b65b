package llm

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation. Name identifies the producer of a
// message inside a research run (a worker id or "final_report").
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Name      string     `json:"name,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolName is set on RoleTool messages carrying a tool result.
	ToolName string `json:"tool_name,omitempty"`
}

type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Human builds a user-role message attributed to name.
func Human(name, content string) Message {
	return Message{Role: RoleUser, Name: name, Content: content}
}

func ToolResult(name, content string) Message {
	return Message{Role: RoleTool, ToolName: name, Content: content}
}
