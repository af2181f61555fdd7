package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// DefaultChatModel is used when no model is configured.
const DefaultChatModel = "gpt-4o"

// retryBackoff is the delay before the single retry on a transient failure.
const retryBackoff = 2 * time.Second

var _ ReasoningClient = (*OpenAIClient)(nil)

// OpenAIClient implements ReasoningClient on the OpenAI chat completions API.
type OpenAIClient struct {
	client oai.Client
	model  string
	logger *slog.Logger
}

// OpenAIConfig configures the OpenAI reasoning client.
type OpenAIConfig struct {
	// APIKey for the OpenAI API (required).
	APIKey string

	// Model name (default: gpt-4o).
	Model string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// Timeout is the per-request HTTP timeout (default 120s).
	Timeout time.Duration

	// Logger for request diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewOpenAIClient constructs a reasoning client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: apiKey must not be empty")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultChatModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client: oai.NewClient(reqOpts...),
		model:  model,
		logger: logger.With("component", "llm.openai"),
	}, nil
}

// Chat implements ReasoningClient. Transient API failures get one retry
// after a short backoff.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.Warn("chat completion failed, retrying once", "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
		completion, err = c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("llm: chat completion: %w", err)
		}
	}

	if len(completion.Choices) == 0 {
		return nil, ErrNoChoices
	}
	choice := completion.Choices[0]

	resp := &ChatResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("llm: decode tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

func (c *OpenAIClient) buildParams(req ChatRequest) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		converted, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, converted)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}
	return params, nil
}

func convertMessage(m Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case RoleUser:
		return oai.UserMessage(m.Content), nil
	case RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	case RoleAssistant:
		assistant := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			assistant.Content.OfString = param.NewOpt(m.Content)
		}
		for _, tc := range m.ToolCalls {
			raw, err := json.Marshal(tc.Arguments)
			if err != nil {
				return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("llm: encode tool arguments for %s: %w", tc.Name, err)
			}
			assistant.ToolCalls = append(assistant.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(raw),
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("llm: unsupported message role %q", m.Role)
	}
}
