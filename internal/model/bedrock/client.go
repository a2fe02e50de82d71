// Package bedrock implements the model.Client capability (spec.md §6.2)
// against the AWS Bedrock Converse API using
// github.com/aws/aws-sdk-go-v2/service/bedrockruntime, translating
// ConverseStream events into the kernel's model.StreamEvent tagged union.
package bedrock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter needs, satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements model.Client via the Bedrock Converse API.
type Client struct {
	rt    RuntimeClient
	model string
	maxTok int
	temp   float32
}

// New constructs a Client wrapping an existing RuntimeClient.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, kernelerrors.New(kernelerrors.KindValidation, "bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, kernelerrors.New(kernelerrors.KindValidation, "bedrock: default model is required")
	}
	return &Client{rt: opts.Runtime, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// Stream performs a ConverseStream call and adapts it to model.Streamer.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	input, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.rt.ConverseStream(ctx, input)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindStreamInterrupt, "bedrock: converse stream", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, kernelerrors.New(kernelerrors.KindStreamInterrupt, "bedrock: nil event stream")
	}
	return newStreamer(ctx, stream, nameMap), nil
}

func (c *Client) prepareRequest(req model.Request) (*bedrockruntime.ConverseStreamInput, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, kernelerrors.New(kernelerrors.KindValidation, "bedrock: messages are required")
	}

	var system []brtypes.SystemContentBlock
	msgs := make([]brtypes.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case model.RoleUser:
			msgs = append(msgs, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case model.RoleAssistant:
			msgs = append(msgs, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		default:
			return nil, nil, kernelerrors.Newf(kernelerrors.KindValidation, "bedrock: unknown message role %q", m.Role)
		}
	}

	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	cfg := &brtypes.InferenceConfiguration{}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		mt := int32(maxTokens)
		cfg.MaxTokens = &mt
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		t := temp
		cfg.Temperature = &t
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         &modelID,
		Messages:        msgs,
		System:          system,
		InferenceConfig: cfg,
	}

	nameMap := make(map[string]string, len(req.Tools))
	if len(req.Tools) > 0 {
		toolConfig := &brtypes.ToolConfiguration{}
		for _, t := range req.Tools {
			nameMap[t.Name] = t.Name
			toolConfig.Tools = append(toolConfig.Tools, &brtypes.ToolMemberToolSpec{
				Value: brtypes.ToolSpec{
					Name:        &t.Name,
					Description: &t.Description,
					InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: documentFromRaw(t.ParamSchema)},
				},
			})
		}
		input.ToolConfig = toolConfig
	}

	return input, nameMap, nil
}
