package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/refaxbot/refaxbot/internal/config"
	"github.com/refaxbot/refaxbot/internal/functions"
)

// EinoClient implements Client over an eino tool-calling chat model.
type EinoClient struct {
	model model.ToolCallingChatModel
}

// NewEinoClient wraps an existing chat model.
func NewEinoClient(m model.ToolCallingChatModel) *EinoClient {
	return &EinoClient{model: m}
}

// NewOpenAIClient creates a client backed by an OpenAI-compatible endpoint.
func NewOpenAIClient(ctx context.Context, cfg config.LLMConfig) (*EinoClient, error) {
	maxTokens := cfg.MaxTokens
	temperature := cfg.Temperature

	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat model: %w", err)
	}

	slog.Info("llm client ready", "model", cfg.Model, "base_url", cfg.BaseURL)
	return NewEinoClient(cm), nil
}

func (c *EinoClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("llm: request has no messages")
	}

	var cm model.BaseChatModel = c.model
	if req.FunctionCallMode != FunctionCallNone && len(req.Functions) > 0 {
		bound, err := c.model.WithTools(toToolInfos(req.Functions))
		if err != nil {
			return nil, fmt.Errorf("binding tools: %w", err)
		}
		cm = bound
	}

	var opts []model.Option
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	out, err := cm.Generate(ctx, toSchemaMessages(req.Messages), opts...)
	if err != nil {
		return nil, fmt.Errorf("generating completion: %w", err)
	}
	if out == nil {
		return nil, errors.New("llm: empty completion")
	}

	resp := &Response{Content: out.Content}
	if len(out.ToolCalls) > 0 {
		tc := out.ToolCalls[0]
		resp.FunctionCall = &FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		if len(out.ToolCalls) > 1 {
			slog.Debug("llm: ignoring extra tool calls", "count", len(out.ToolCalls)-1)
		}
	}
	return resp, nil
}

func toSchemaMessages(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

var paramTypes = map[functions.ParamType]schema.DataType{
	functions.TypeString:  schema.String,
	functions.TypeInteger: schema.Integer,
	functions.TypeNumber:  schema.Number,
	functions.TypeBoolean: schema.Boolean,
}

func toToolInfos(defs []functions.Definition) []*schema.ToolInfo {
	tools := make([]*schema.ToolInfo, 0, len(defs))
	for _, d := range defs {
		params := make(map[string]*schema.ParameterInfo, len(d.Params))
		for _, p := range d.Params {
			typ, ok := paramTypes[p.Type]
			if !ok {
				typ = schema.String
			}
			params[p.Name] = &schema.ParameterInfo{Type: typ, Desc: p.Description, Required: p.Required}
		}
		tools = append(tools, &schema.ToolInfo{
			Name:        d.Name,
			Desc:        d.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return tools
}
