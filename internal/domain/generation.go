package domain

import "context"

// Completer is the text-generation capability: one prompt in, raw model text out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// Completion is the raw output of one completion call.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}
