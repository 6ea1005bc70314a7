package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refaxbot/refaxbot/internal/functions"
)

type fakeChatModel struct {
	out       *schema.Message
	err       error
	gotMsgs   []*schema.Message
	gotOpts   []model.Option
	boundWith []*schema.ToolInfo
	bound     bool
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.gotMsgs = input
	f.gotOpts = opts
	return f.out, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.boundWith = tools
	f.bound = true
	return f, nil
}

func TestEinoClient_TextResponse(t *testing.T) {
	fake := &fakeChatModel{out: schema.AssistantMessage("hola, ¿qué refacción buscas?", nil)}
	c := NewEinoClient(fake)

	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "sistema"},
			{Role: RoleUser, Content: "hola"},
			{Role: RoleAssistant, Content: "antes"},
		},
		Temperature: 0.3,
		MaxTokens:   200,
	})
	require.NoError(t, err)
	assert.Equal(t, "hola, ¿qué refacción buscas?", resp.Content)
	assert.Nil(t, resp.FunctionCall)
	assert.False(t, fake.bound, "no functions means no tool binding")

	require.Len(t, fake.gotMsgs, 3)
	assert.Equal(t, schema.System, fake.gotMsgs[0].Role)
	assert.Equal(t, schema.User, fake.gotMsgs[1].Role)
	assert.Equal(t, schema.Assistant, fake.gotMsgs[2].Role)

	opts := model.GetCommonOptions(nil, fake.gotOpts...)
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.3, *opts.Temperature, 1e-6)
	require.NotNil(t, opts.MaxTokens)
	assert.Equal(t, 200, *opts.MaxTokens)
}

func TestEinoClient_FunctionCall(t *testing.T) {
	fake := &fakeChatModel{out: &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "1", Function: schema.FunctionCall{Name: functions.ConsultarInventario, Arguments: `{"producto":"balatas"}`}},
			{ID: "2", Function: schema.FunctionCall{Name: functions.EscalarAHumano, Arguments: `{}`}},
		},
	}}
	c := NewEinoClient(fake)

	resp, err := c.Complete(context.Background(), Request{
		Messages:         []Message{{Role: RoleUser, Content: "tienen balatas"}},
		Functions:        functions.Definitions([]string{functions.ConsultarInventario, functions.EscalarAHumano}),
		FunctionCallMode: FunctionCallAuto,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.FunctionCall)
	assert.Equal(t, functions.ConsultarInventario, resp.FunctionCall.Name)
	assert.Equal(t, `{"producto":"balatas"}`, resp.FunctionCall.Arguments)

	require.True(t, fake.bound)
	require.Len(t, fake.boundWith, 2)
	assert.Equal(t, functions.ConsultarInventario, fake.boundWith[0].Name)
	assert.NotNil(t, fake.boundWith[0].ParamsOneOf)
}

func TestEinoClient_FunctionCallModeNone(t *testing.T) {
	fake := &fakeChatModel{out: schema.AssistantMessage("ok", nil)}
	c := NewEinoClient(fake)

	_, err := c.Complete(context.Background(), Request{
		Messages:         []Message{{Role: RoleUser, Content: "x"}},
		Functions:        functions.Definitions([]string{functions.EscalarAHumano}),
		FunctionCallMode: FunctionCallNone,
	})
	require.NoError(t, err)
	assert.False(t, fake.bound)
}

func TestEinoClient_Errors(t *testing.T) {
	c := NewEinoClient(&fakeChatModel{err: errors.New("429 too many requests")})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorContains(t, err, "429")

	_, err = c.Complete(context.Background(), Request{})
	assert.Error(t, err)

	c = NewEinoClient(&fakeChatModel{})
	_, err = c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.Error(t, err, "a nil message is an error")
}

func TestToToolInfos(t *testing.T) {
	tools := toToolInfos([]functions.Definition{{
		Name:        "f",
		Description: "d",
		Params: []functions.Param{
			{Name: "a", Type: functions.TypeInteger, Required: true},
			{Name: "b", Type: "weird"},
		},
	}})
	require.Len(t, tools, 1)
	assert.Equal(t, "f", tools[0].Name)
	assert.Equal(t, "d", tools[0].Desc)
	assert.NotNil(t, tools[0].ParamsOneOf)
}
