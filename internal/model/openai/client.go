// Package openai implements the model.Client capability (spec.md §6.2)
// against the OpenAI Chat Completions API using
// github.com/openai/openai-go, adapting its streaming chunks into the
// kernel's model.StreamEvent tagged union.
package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/model"
)

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  *openai.ChatCompletionService
	model string
}

// New builds a Client wrapping an existing OpenAI chat completion service.
func New(chat *openai.ChatCompletionService, defaultModel string) (*Client, error) {
	if chat == nil {
		return nil, kernelerrors.New(kernelerrors.KindValidation, "openai: chat completion service is required")
	}
	if defaultModel == "" {
		return nil, kernelerrors.New(kernelerrors.KindValidation, "openai: default model is required")
	}
	return &Client{chat: chat, model: defaultModel}, nil
}

// NewFromAPIKey constructs a Client from a raw OpenAI API key.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	sdkClient := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Chat.Completions, defaultModel)
}

// Stream performs a streaming chat completion and adapts it to model.Streamer.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := c.chat.NewStreaming(ctx, *params)
	if stream == nil {
		return nil, kernelerrors.New(kernelerrors.KindStreamInterrupt, "openai: nil stream returned")
	}
	return newStreamer(ctx, stream), nil
}

func (c *Client) prepareRequest(req model.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, kernelerrors.New(kernelerrors.KindValidation, "openai: messages are required")
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case model.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case model.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			return nil, kernelerrors.Newf(kernelerrors.KindValidation, "openai: unknown message role %q", m.Role)
		}
	}

	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  rawSchemaToParameters(t.ParamSchema),
				},
			})
		}
		params.Tools = tools
	}
	return &params, nil
}
