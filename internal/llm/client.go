package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/MikeSquared-Agency/verdict/internal/faults"
)

// ErrRefused means the model declined to answer. Callers must not retry it.
var ErrRefused = errors.New("model refused the request")

// Config describes how to reach an OpenAI-compatible API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

type Client struct {
	api            *openai.Client
	model          string
	embeddingModel string
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:            openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}
}

type Message struct {
	Role    string
	Content string
}

// Request is a single chat completion. JSON constrains the output to a JSON object.
type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	JSON        bool
}

// Complete sends a chat completion and returns the text of the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Temperature,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.api.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", transportError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response choices")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter || choice.Message.Refusal != "" {
		return "", fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	}
	return choice.Message.Content, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, transportError("create embedding", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

func transportError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &faults.TransportError{Op: op, Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &faults.TransportError{Op: op, Status: reqErr.HTTPStatusCode, Err: err}
	}
	return &faults.TransportError{Op: op, Err: err}
}
