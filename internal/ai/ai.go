// Package ai forwards text and image prompts to a generative language model.
package ai

import (
	"context"
	"errors"
)

var (
	ErrUpstream       = errors.New("language model request failed")
	ErrEmptyResponse  = errors.New("language model returned no text")
	ErrInvalidJSON    = errors.New("language model returned invalid JSON")
	ErrPromptTooLarge = errors.New("prompt too large")
)

// Conversation roles for History turns.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one earlier message in a multi-turn exchange.
type Turn struct {
	Role string
	Text string
}

// Image is inline image data sent with a prompt.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is a single generation call. JSON asks the model for a JSON
// document instead of prose.
type Request struct {
	System  string
	History []Turn
	Prompt  string
	Images  []Image
	JSON    bool
}

type Response struct {
	Text  string
	Model string
}

// Generator produces a model response for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
