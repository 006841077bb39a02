// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"fmt"

	"github.com/andmartins7/docket/internal/capability"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// UnknownToolError reports a request for a tool that was never
// declared to the model.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Registry holds available tools in declaration order.
type Registry struct {
	tools map[string]*Tool
	order []string

	files *capability.Client
}

// NewRegistry creates a tool registry backed by a capability client.
func NewRegistry(files *capability.Client) *Registry {
	r := &Registry{
		tools: make(map[string]*Tool),
		files: files,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "list_files",
		Description: "List the case files available in the document folder.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.forward(capability.OpListFiles),
	})

	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read the content of a document from the folder. Requires the exact file name (e.g. 'case_123.txt'). Supports PDF, HTML, markdown and plain text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Exact name of the file to read, as returned by list_files",
				},
			},
			"required": []string{"filename"},
		},
		Handler: r.forward(capability.OpReadFile),
	})

	r.Register(&Tool{
		Name:        "save_file",
		Description: "Save a document to the folder. Use it to write the final report or a draft. Markdown (.md) is the preferred format.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Name for the new file (e.g. 'report.md')",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full text content to write",
				},
			},
			"required": []string{"filename", "content"},
		},
		Handler: r.forward(capability.OpSaveFile),
	})

	r.Register(&Tool{
		Name:        "index_file",
		Description: "Split a document into chunks and add it to the semantic index so it can be searched later.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Exact name of the file to index",
				},
			},
			"required": []string{"filename"},
		},
		Handler: r.forward(capability.OpIndexFile),
	})

	r.Register(&Tool{
		Name:        "search",
		Description: "Search the semantic index for passages relevant to a query. Index documents with index_file first.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for",
				},
				"k": map[string]any{
					"type":        "integer",
					"description": "Maximum number of passages to return (default 4)",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.forward(capability.OpSearch),
	})
}

// forward binds a tool to a capability server operation. Operation
// failures come back as readable text so the model can react; only a
// transport failure surfaces as an error.
func (r *Registry) forward(op string) func(context.Context, map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		text, _, err := r.files.Call(ctx, op, args)
		if err != nil {
			return "", err
		}
		return text, nil
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tool declarations for the LLM, in registration
// order.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with the given arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &UnknownToolError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, args)
}
