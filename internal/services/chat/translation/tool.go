package translation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// WebSearchToolName is the single tool offered to the help assistant.
const WebSearchToolName = "web_search"

var webSearchSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"query": {
			Type:        "string",
			Description: "Search terms for the question being answered.",
		},
	},
	Required: []string{"query"},
}

var webSearchResolved = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	return webSearchSchema.Resolve(nil)
})

// webSearchTool describes web_search with its JSON schema parameters.
func webSearchTool() (Tool, error) {
	raw, err := json.Marshal(webSearchSchema)
	if err != nil {
		return Tool{}, fmt.Errorf("marshal tool schema: %w", err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return Tool{}, fmt.Errorf("decode tool schema: %w", err)
	}
	return Tool{
		Name:        WebSearchToolName,
		Description: "Search the web and return up to three short text snippets.",
		Parameters:  params,
	}, nil
}

type webSearchArgs struct {
	Query string `json:"query"`
}

// parseWebSearchArgs validates the model's arguments against the schema.
func parseWebSearchArgs(arguments string) (webSearchArgs, error) {
	var instance map[string]any
	if err := json.Unmarshal([]byte(arguments), &instance); err != nil {
		return webSearchArgs{}, fmt.Errorf("decode arguments: %w", err)
	}
	resolved, err := webSearchResolved()
	if err != nil {
		return webSearchArgs{}, fmt.Errorf("resolve tool schema: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return webSearchArgs{}, fmt.Errorf("validate arguments: %w", err)
	}
	query, _ := instance["query"].(string)
	return webSearchArgs{Query: strings.TrimSpace(query)}, nil
}

type toolResult struct {
	Results []string `json:"results,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (r toolResult) encode() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return `{"error":"no results"}`
	}
	return string(raw)
}
