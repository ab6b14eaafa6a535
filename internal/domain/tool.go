package domain

import (
	"context"
	"encoding/json"
)

// Tool categories.
const (
	ToolCategoryCode     = "code"
	ToolCategoryFile     = "file"
	ToolCategoryNetwork  = "network"
	ToolCategoryAnalysis = "analysis"
)

// Built-in tool ids.
const (
	ToolCodeRunner    = "code_runner"
	ToolFileProcessor = "file_processor"
	ToolNetwork       = "network_tool"
	ToolDataAnalyzer  = "data_analyzer"
)

// OperationFunc runs one named operation of a tool.
type OperationFunc func(ctx context.Context, params map[string]any) (any, error)

// Operation binds a handler to the JSON Schema its params must satisfy.
// A nil Schema accepts any params object.
type Operation struct {
	Description string
	Schema      json.RawMessage
	Run         OperationFunc
}

// Tool is a stateful capability exposing named operations.
// The operation table is read once, at registration.
type Tool interface {
	ID() string
	Name() string
	Description() string
	Category() string
	Operations() map[string]Operation
}

// Cleaner is implemented by tools that hold releasable resources.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// ToolDescriptor is the registry view of a tool.
type ToolDescriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Operations  []string `json:"operations"`
}

// ToolInvoker executes tool operations by id.
type ToolInvoker interface {
	Execute(ctx context.Context, toolID, operation string, params map[string]any) (any, error)
	List() []ToolDescriptor
}
