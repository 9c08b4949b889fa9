package classifier

import (
	"context"

	"github.com/vitalhub/topicsync/pkg/anthropic"
)

// fakeClient is a function-field fake for the message API.
type fakeClient struct {
	createMessage func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
	calls         int
}

func (f *fakeClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	return f.createMessage(ctx, req)
}

// textResponse wraps a reply string in a minimal message response.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func newTestClassifier(client anthropic.Client) *Anthropic {
	return New(client, Options{
		Model:           "claude-haiku-4-5-20251001",
		RequestInterval: 1, // effectively no throttle in tests
	})
}
