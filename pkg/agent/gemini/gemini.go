// Package gemini implements agent.Provider with the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/ArionMiles/quina/pkg/agent"
	"github.com/ArionMiles/quina/pkg/tools"
)

// Defaults.
const (
	DefaultModel     = "gemini-2.5-flash"
	DefaultMaxTokens = 4096
)

// ErrEmptyResponse is returned when the model produced no candidate.
var ErrEmptyResponse = errors.New("gemini returned no candidates")

// Config holds the Gemini client settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int32
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// Provider talks to the generateContent endpoint.
type Provider struct {
	client    *genai.Client
	model     string
	maxTokens int32
	logger    *slog.Logger
}

var _ agent.Provider = (*Provider)(nil)

// New creates a Gemini provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Provider{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.With("component", "gemini", "model", cfg.Model),
	}, nil
}

// Generate implements agent.Provider.
func (p *Provider) Generate(ctx context.Context, req agent.Request) (*agent.Turn, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: p.maxTokens,
		Tools:           declarations(req.Tools),
	}
	if req.Instruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Instruction, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents(req.Turns), config)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	p.logger.Debug("content generated", "finish_reason", candidate.FinishReason)

	turn := &agent.Turn{Role: agent.RoleAssistant}
	var texts []string
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			turn.Calls = append(turn.Calls, toolCall(part.FunctionCall))
		case part.Text != "" && !part.Thought:
			texts = append(texts, part.Text)
		}
	}
	turn.Text = strings.Join(texts, "")
	return turn, nil
}

// toolCall converts a function call. The Gemini API often omits call IDs, so
// one is generated to pair the result with its call.
func toolCall(fc *genai.FunctionCall) agent.ToolCall {
	id := fc.ID
	if id == "" {
		id = uuid.NewString()
	}
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = json.RawMessage(`{}`)
	}
	return agent.ToolCall{ID: id, Name: fc.Name, Args: args}
}

func contents(turns []agent.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var parts []*genai.Part
		if strings.TrimSpace(t.Text) != "" {
			parts = append(parts, genai.NewPartFromText(t.Text))
		}
		for _, c := range t.Calls {
			parts = append(parts, genai.NewPartFromFunctionCall(c.Name, object(c.Args)))
		}
		for _, r := range t.Results {
			parts = append(parts, genai.NewPartFromFunctionResponse(r.Name, response(r.Content)))
		}
		if len(parts) == 0 {
			continue
		}

		role := genai.Role(genai.RoleUser)
		if t.Role == agent.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}
	return out
}

func object(raw json.RawMessage) map[string]any {
	m := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &m)
	}
	return m
}

// response wraps a tool result. JSON objects are passed through; anything else
// goes under "result".
func response(content string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(content), &m); err == nil && m != nil {
		return m
	}
	return map[string]any{"result": content}
}

func declarations(list []tools.Tool) []*genai.Tool {
	if len(list) == 0 {
		return nil
	}
	fns := make([]*genai.FunctionDeclaration, 0, len(list))
	for _, t := range list {
		fns = append(fns, &genai.FunctionDeclaration{
			Name:                 t.Name(),
			Description:          t.Description(),
			ParametersJsonSchema: t.Schema(),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}
