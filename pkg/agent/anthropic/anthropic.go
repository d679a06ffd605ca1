// Package anthropic implements agent.Provider with the Claude Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ArionMiles/quina/pkg/agent"
	"github.com/ArionMiles/quina/pkg/tools"
)

// Defaults.
const (
	DefaultModel     = string(sdk.ModelClaudeSonnet4_5)
	DefaultMaxTokens = 4096
)

// Config holds the Claude client settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// Provider talks to the Messages API.
type Provider struct {
	client    sdk.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

var _ agent.Provider = (*Provider)(nil)

// New creates a Claude provider.
func New(cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Provider{
		client:    sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.With("component", "anthropic", "model", cfg.Model),
	}
}

// Generate implements agent.Provider.
func (p *Provider) Generate(ctx context.Context, req agent.Request) (*agent.Turn, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  messages(req.Turns),
		Tools:     toolParams(req.Tools),
	}
	if req.Instruction != "" {
		params.System = []sdk.TextBlockParam{{Text: req.Instruction}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	p.logger.Debug("message created",
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	turn := &agent.Turn{Role: agent.RoleAssistant}
	var texts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_use":
			turn.Calls = append(turn.Calls, agent.ToolCall{ID: block.ID, Name: block.Name, Args: block.Input})
		}
	}
	turn.Text = strings.Join(texts, "")
	return turn, nil
}

func messages(turns []agent.Turn) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		var blocks []sdk.ContentBlockParamUnion
		if strings.TrimSpace(t.Text) != "" {
			blocks = append(blocks, sdk.NewTextBlock(t.Text))
		}
		for _, c := range t.Calls {
			blocks = append(blocks, sdk.NewToolUseBlock(c.ID, input(c.Args), c.Name))
		}
		for _, r := range t.Results {
			blocks = append(blocks, sdk.NewToolResultBlock(r.CallID, r.Content, r.IsError))
		}
		if len(blocks) == 0 {
			continue
		}

		if t.Role == agent.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

// input returns tool-use arguments as an object; the API rejects anything else.
func input(args json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(args))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(`{}`)
	}
	return args
}

func toolParams(list []tools.Tool) []sdk.ToolUnionParam {
	var out []sdk.ToolUnionParam
	for _, t := range list {
		schema := t.Schema()
		out = append(out, sdk.ToolUnionParam{OfTool: &sdk.ToolParam{
			Name:        t.Name(),
			Description: sdk.String(t.Description()),
			InputSchema: sdk.ToolInputSchemaParam{
				Properties: tools.Properties(schema),
				Required:   tools.Required(schema),
			},
		}})
	}
	return out
}
