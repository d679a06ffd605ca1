// Package agent runs the conversational expense assistant: a single model
// with every tool, a bounded per-user history, and a bounded tool loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ArionMiles/quina/pkg/tools"
)

// Limits.
const (
	MaxHistory    = 40
	MaxToolRounds = 8
)

// Agent answers one user message with the replies to send back, in order.
type Agent interface {
	Run(ctx context.Context, userID, message string) ([]string, error)
}

// Role is the author of a history message.
type Role string

// Roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one stored conversation turn.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// HistoryStore persists conversations per user.
type HistoryStore interface {
	// History returns at most MaxHistory messages, oldest first.
	History(ctx context.Context, userID string) ([]Message, error)
	// AppendHistory adds messages and drops everything but the newest
	// MaxHistory.
	AppendHistory(ctx context.Context, userID string, msgs ...Message) error
}

// Trim keeps the newest limit messages and drops leading assistant messages
// so the conversation always opens with the user.
func Trim(msgs []Message, limit int) []Message {
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for len(msgs) > 0 && msgs[0].Role != RoleUser {
		msgs = msgs[1:]
	}
	return msgs
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Turn is one provider-neutral conversation step. A user turn carries Text
// or Results; an assistant turn carries Text, Calls, or both.
type Turn struct {
	Role    Role
	Text    string
	Calls   []ToolCall
	Results []ToolResult
}

// Request is what a Provider needs to produce the next assistant turn.
type Request struct {
	Instruction string
	Turns       []Turn
	Tools       []tools.Tool
}

// Provider is an LLM backend.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Turn, error)
}

// Toolbox lists and runs tools.
type Toolbox interface {
	List() []tools.Tool
	Call(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ToolNotice is the reply sent to the user when the model calls a tool.
func ToolNotice(c ToolCall) string {
	args := strings.TrimSpace(string(c.Args))
	if args == "" || args == "null" {
		args = "{}"
	}
	return fmt.Sprintf("🔧 Using tool: %s\nParameters: %s", c.Name, args)
}

// Runner is the Agent implementation shared by every provider.
type Runner struct {
	provider    Provider
	tools       Toolbox
	history     HistoryStore
	instruction string
	maxRounds   int
	logger      *slog.Logger

	locks sync.Map
}

var _ Agent = (*Runner)(nil)

// Option configures a Runner.
type Option func(*Runner)

// WithInstruction replaces the system instruction.
func WithInstruction(s string) Option {
	return func(r *Runner) { r.instruction = s }
}

// WithMaxRounds bounds model calls per run.
func WithMaxRounds(n int) Option {
	return func(r *Runner) { r.maxRounds = n }
}

// New creates a Runner. A nil history keeps conversations in memory.
func New(provider Provider, toolbox Toolbox, history HistoryStore, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if history == nil {
		history = NewMemoryHistory()
	}

	r := &Runner{
		provider:    provider,
		tools:       toolbox,
		history:     history,
		instruction: Instruction(""),
		maxRounds:   MaxToolRounds,
		logger:      logger.With("component", "agent"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) lock(userID string) func() {
	v, _ := r.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Run sends message to the model on behalf of userID, executing tool calls
// until the model answers without one or the round limit is hit. Runs for the
// same user are serialized so their history does not interleave.
func (r *Runner) Run(ctx context.Context, userID, message string) ([]string, error) {
	defer r.lock(userID)()

	logger := r.logger.With("user_id", userID, "run_id", uuid.NewString())

	past, err := r.history.History(ctx, userID)
	if err != nil {
		logger.Warn("failed to load history, starting fresh", "error", err)
		past = nil
	}

	turns := make([]Turn, 0, len(past)+1)
	for _, m := range past {
		turns = append(turns, Turn{Role: m.Role, Text: m.Text})
	}
	turns = append(turns, Turn{Role: RoleUser, Text: message})

	var replies, texts []string
	defer func() {
		r.remember(ctx, logger, userID, message, texts)
	}()

	available := r.tools.List()
	for round := 0; ; round++ {
		if round == r.maxRounds {
			logger.Warn("tool round limit reached", "rounds", round)
			break
		}

		turn, err := r.provider.Generate(ctx, Request{
			Instruction: r.instruction,
			Turns:       turns,
			Tools:       available,
		})
		if err != nil {
			return replies, fmt.Errorf("generating reply: %w", err)
		}
		turn.Role = RoleAssistant
		turns = append(turns, *turn)

		if text := strings.TrimSpace(turn.Text); text != "" {
			replies = append(replies, text)
			texts = append(texts, text)
		}
		if len(turn.Calls) == 0 {
			break
		}

		results := make([]ToolResult, 0, len(turn.Calls))
		for _, c := range turn.Calls {
			replies = append(replies, ToolNotice(c))
			results = append(results, r.call(ctx, logger, c))
		}
		turns = append(turns, Turn{Role: RoleUser, Results: results})
	}

	logger.Info("run completed", "replies", len(replies))
	return replies, nil
}

func (r *Runner) call(ctx context.Context, logger *slog.Logger, c ToolCall) ToolResult {
	logger.Info("calling tool", "tool", c.Name)

	out, err := r.tools.Call(ctx, c.Name, c.Args)
	if err != nil {
		logger.Warn("tool call failed", "tool", c.Name, "error", err)
		b, _ := json.Marshal(map[string]string{"status": "error", "message": err.Error()})
		return ToolResult{CallID: c.ID, Name: c.Name, Content: string(b), IsError: true}
	}
	return ToolResult{CallID: c.ID, Name: c.Name, Content: out}
}

func (r *Runner) remember(ctx context.Context, logger *slog.Logger, userID, message string, texts []string) {
	msgs := []Message{{Role: RoleUser, Text: message}}
	if len(texts) > 0 {
		msgs = append(msgs, Message{Role: RoleAssistant, Text: strings.Join(texts, "\n\n")})
	}
	if err := r.history.AppendHistory(context.WithoutCancel(ctx), userID, msgs...); err != nil {
		logger.Warn("failed to save history", "error", err)
	}
}

// MemoryHistory keeps conversations in process memory.
type MemoryHistory struct {
	mu    sync.Mutex
	users map[string][]Message
}

var _ HistoryStore = (*MemoryHistory)(nil)

// NewMemoryHistory returns an empty store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{users: make(map[string][]Message)}
}

// History implements HistoryStore.
func (h *MemoryHistory) History(_ context.Context, userID string) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.users[userID]...), nil
}

// AppendHistory implements HistoryStore.
func (h *MemoryHistory) AppendHistory(_ context.Context, userID string, msgs ...Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users[userID] = slices.Clone(Trim(append(h.users[userID], msgs...), MaxHistory))
	return nil
}
