package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// MockGeminiClient is a scripted GeminiClient.
type MockGeminiClient struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	calls               atomic.Int32
}

func (m *MockGeminiClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls.Add(1)
	return m.GenerateContentFunc(ctx, model, contents, config)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

func fastTransport(client GeminiClient, retries int) *Transport {
	return NewTransport(client, TransportOptions{
		Model:             "test-model",
		MaxRetries:        retries,
		RequestsPerSecond: 1000,
		RequestTimeout:    time.Second,
	})
}

func TestTransportSendsModelAndConfig(t *testing.T) {
	client := &MockGeminiClient{
		GenerateContentFunc: func(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			assert.Equal(t, "test-model", model)
			require.Len(t, contents, 1)
			assert.Equal(t, "the prompt", contents[0].Parts[0].Text)
			assert.Equal(t, "application/json", config.ResponseMIMEType)
			require.NotNil(t, config.SystemInstruction)
			assert.Equal(t, "the system", config.SystemInstruction.Parts[0].Text)
			return textResponse(`{"final_answer":"ok"}`), nil
		},
	}

	text, err := fastTransport(client, 0).Generate(context.Background(), "the system", "the prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"final_answer":"ok"}`, text)
}

func TestTransportRetriesTransientFailures(t *testing.T) {
	client := &MockGeminiClient{}
	client.GenerateContentFunc = func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		if client.calls.Load() < 3 {
			return nil, errors.New("connection reset")
		}
		return textResponse("{}"), nil
	}

	text, err := fastTransport(client, 2).Generate(context.Background(), "", "p")
	require.NoError(t, err)
	assert.Equal(t, "{}", text)
	assert.EqualValues(t, 3, client.calls.Load())
}

func TestTransportGivesUpAfterRetries(t *testing.T) {
	client := &MockGeminiClient{
		GenerateContentFunc: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("service unavailable")
		},
	}

	_, err := fastTransport(client, 1).Generate(context.Background(), "", "p")
	require.Error(t, err)
	assert.EqualValues(t, 2, client.calls.Load())
}

func TestTransportBreakerOpens(t *testing.T) {
	client := &MockGeminiClient{
		GenerateContentFunc: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("down")
		},
	}
	tr := fastTransport(client, 0)

	for i := 0; i < 5; i++ {
		_, err := tr.Generate(context.Background(), "", "p")
		require.Error(t, err)
	}
	_, err := tr.Generate(context.Background(), "", "p")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 5, client.calls.Load())
}

func TestTransportReturnsContextError(t *testing.T) {
	client := &MockGeminiClient{
		GenerateContentFunc: func(ctx context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, ctx.Err()
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fastTransport(client, 2).Generate(ctx, "", "p")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, "", responseText(nil))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "{\"a\":"}, {Text: "1}"}}}},
		},
	}
	assert.Equal(t, `{"a":1}`, responseText(resp))
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
