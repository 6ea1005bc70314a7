// Package llm is the boundary to the chat-completion provider.
package llm

import (
	"context"

	"github.com/refaxbot/refaxbot/internal/functions"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FunctionCallMode controls whether the model may answer with a function call.
type FunctionCallMode string

const (
	FunctionCallAuto FunctionCallMode = "auto"
	FunctionCallNone FunctionCallMode = "none"
)

type Message struct {
	Role    Role
	Content string
}

// Request is one chat-completion call. Zero Temperature, MaxTokens or Model
// leave the client's configured defaults in place.
type Request struct {
	Model            string
	Messages         []Message
	Functions        []functions.Definition
	FunctionCallMode FunctionCallMode
	Temperature      float32
	MaxTokens        int
}

// FunctionCall is a structured call the model asked for instead of, or
// alongside, text.
type FunctionCall struct {
	Name      string
	Arguments string
}

type Response struct {
	Content      string
	FunctionCall *FunctionCall
}

// Client completes chat requests.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
