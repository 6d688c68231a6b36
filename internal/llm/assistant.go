package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// Assistant reads and writes the instructions of one remote assistant.
type Assistant struct {
	client *Client
	id     string
}

func (c *Client) Assistant(id string) *Assistant {
	return &Assistant{client: c, id: id}
}

// Instructions returns the assistant's current instructions text.
func (a *Assistant) Instructions(ctx context.Context) (string, error) {
	asst, err := a.client.api.RetrieveAssistant(ctx, a.id)
	if err != nil {
		return "", transportError("retrieve assistant", err)
	}
	if asst.Instructions == nil {
		return "", nil
	}
	return *asst.Instructions, nil
}

// UpdateInstructions replaces the instructions text in one modify call. The
// model and tools are read first and sent back unchanged.
func (a *Assistant) UpdateInstructions(ctx context.Context, text string) error {
	asst, err := a.client.api.RetrieveAssistant(ctx, a.id)
	if err != nil {
		return transportError("retrieve assistant", err)
	}

	_, err = a.client.api.ModifyAssistant(ctx, a.id, openai.AssistantRequest{
		Model:        asst.Model,
		Instructions: &text,
		Tools:        asst.Tools,
	})
	if err != nil {
		return transportError("update assistant", err)
	}
	return nil
}
