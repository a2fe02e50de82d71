// Package anthropic implements the model.Client capability (spec.md §6.2)
// against the Anthropic Claude Messages API using
// github.com/anthropics/anthropic-sdk-go. It translates the kernel's
// provider-agnostic Request into an Anthropic streaming call and adapts the
// resulting SSE stream into the model.StreamEvent tagged union.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/model"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService so tests can substitute a fake.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures default model selection and sampling parameters used
// when a Request leaves them unset.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client adapts MessagesClient to model.Client.
type Client struct {
	msg   MessagesClient
	model string
	maxTok int
	temp   float32
}

// New constructs a Client wrapping an existing MessagesClient.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, kernelerrors.New(kernelerrors.KindValidation, "anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, kernelerrors.New(kernelerrors.KindValidation, "anthropic: default model is required")
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client from a raw Anthropic API key.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Messages, Options{DefaultModel: defaultModel, MaxTokens: 4096})
}

// Stream performs a streaming Messages call and adapts it to model.Streamer.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if stream == nil {
		return nil, kernelerrors.New(kernelerrors.KindStreamInterrupt, "anthropic: nil stream returned")
	}
	if err := stream.Err(); err != nil {
		return nil, translateErr(err)
	}
	return newStreamer(ctx, stream, nameMap), nil
}

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, kernelerrors.New(kernelerrors.KindValidation, "anthropic: messages are required")
	}

	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	var system string
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case model.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case model.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			return nil, nil, kernelerrors.Newf(kernelerrors.KindValidation, "anthropic: unknown message role %q", m.Role)
		}
	}

	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if temp > 0 {
		params.Temperature = sdk.Float(float64(temp))
	}

	nameMap := make(map[string]string, len(req.Tools))
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			sanitized := sanitizeToolName(t.Name)
			nameMap[sanitized] = t.Name
			tools = append(tools, sdk.ToolUnionParamOfTool(rawSchemaToInputSchema(t.ParamSchema), sanitized))
		}
		params.Tools = tools
	}

	if req.Cache != nil && req.Cache.AfterSystem && len(params.System) > 0 {
		params.System[len(params.System)-1].CacheControl = sdk.NewCacheControlEphemeralParam()
	}

	return &params, nameMap, nil
}

// sanitizeToolName maps a tool identifier to characters Anthropic's tool
// naming constraints allow, replacing any disallowed rune with '_'.
func sanitizeToolName(in string) string {
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func translateErr(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return kernelerrors.Wrap(kernelerrors.KindStreamInterrupt, "anthropic: rate limited", err)
	}
	return kernelerrors.Wrap(kernelerrors.KindStreamInterrupt, fmt.Sprintf("anthropic: %v", err), err)
}
