package openai

import (
	"context"
	"errors"
	"io"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/core/providers/llm"
	"voxloop-server-go/internal/domain/conversation"
	"voxloop-server-go/internal/domain/tools"
	"voxloop-server-go/internal/platform/config"
	platformerrors "voxloop-server-go/internal/platform/errors"
)

func init() {
	llm.Register("openai", NewProvider)
}

// Provider streams chat completions from an OpenAI-compatible endpoint.
type Provider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	topP        float32
}

func NewProvider(cfg config.LLMConfig) (llm.Provider, error) {
	if cfg.APIKey == "" {
		return nil, platformerrors.New(platformerrors.KindConfig, "llm.openai",
			"missing API key")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	return &Provider{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.ModelName,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
		topP:        float32(cfg.TopP),
	}, nil
}

// Stream starts a completion and returns the chunk channel. Text deltas flow
// as they arrive; tool-call deltas are accumulated across chunks and emitted
// complete in one terminal chunk, so the turn loop never sees a half-built
// call.
func (p *Provider) Stream(ctx context.Context, messages []conversation.Message, specs []tools.Spec) (<-chan providers.Chunk, error) {
	request := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertMessages(messages),
		Tools:       convertSpecs(specs),
		Stream:      true,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		TopP:        p.topP,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindProvider, "llm.openai",
			"create completion stream", err)
	}

	out := make(chan providers.Chunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		// tool-call fragments arrive keyed by index; id and name in the first
		// fragment, argument text spread across the rest
		pending := map[int]*conversation.ToolCall{}
		order := []int{}
		thinking := false

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				out <- providers.Chunk{Err: platformerrors.Wrap(
					platformerrors.KindProvider, "llm.openai", "stream recv", err)}
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta

			if content, ok := filterThinkTags(delta.Content, &thinking); ok {
				select {
				case out <- providers.Chunk{Delta: content}:
				case <-ctx.Done():
					return
				}
			}

			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				call, ok := pending[idx]
				if !ok {
					call = &conversation.ToolCall{}
					pending[idx] = call
					order = append(order, idx)
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}
		}

		if len(order) > 0 {
			calls := make([]conversation.ToolCall, 0, len(order))
			for _, idx := range order {
				calls = append(calls, *pending[idx])
			}
			select {
			case out <- providers.Chunk{ToolCalls: calls}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func convertMessages(messages []conversation.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.ToolCallID != "" {
			m.ToolCallID = msg.ToolCallID
			if msg.Error != nil {
				if data, err := sonic.Marshal(msg.Error); err == nil {
					m.Content = string(data)
				}
			}
		}
		if len(msg.ToolCalls) > 0 {
			calls := make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				calls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			m.ToolCalls = calls
		}
		out = append(out, m)
	}
	return out
}

func convertSpecs(specs []tools.Spec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		}
	}
	return out
}

// filterThinkTags drops reasoning-model <think> blocks from spoken output.
func filterThinkTags(content string, thinking *bool) (string, bool) {
	switch content {
	case "":
		return "", false
	case "<think>":
		*thinking = true
		return "", false
	case "</think>":
		*thinking = false
		return "", false
	}
	if *thinking {
		return "", false
	}
	return content, true
}
