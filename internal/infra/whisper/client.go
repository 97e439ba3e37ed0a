package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"voice-session/internal/domain"
	"voice-session/internal/infra"
)

const uploadName = "utterance.wav"

// Client transcribes WAV utterances with an OpenAI-compatible
// /audio/transcriptions endpoint.
type Client struct {
	client   *openai.Client
	model    string
	language string
	retry    infra.RetryConfig
}

func NewClient(apiKey, baseURL, model, language string, timeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	if model == "" {
		model = openai.Whisper1
	}

	return &Client{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		language: language,
		retry:    infra.DefaultRetryConfig(),
	}
}

// Transcribe returns the recognized text. An utterance without speech yields
// an empty string and no error.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var text string

	err := infra.WithRetry(ctx, c.retry, func() error {
		resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    c.model,
			Reader:   bytes.NewReader(audio),
			FilePath: uploadName,
			Language: c.language,
		})
		if err != nil {
			return classify(err)
		}
		text = resp.Text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTranscriptionFailure, err)
	}

	return text, nil
}

func classify(err error) error {
	status := 0

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status == 0 {
		return fmt.Errorf("sending request: %w", err)
	}
	if infra.IsRetryableHTTPStatus(status) {
		return fmt.Errorf("whisper API error %d (retryable): %w", status, err)
	}
	return infra.Permanent(fmt.Errorf("whisper API error %d: %w", status, err))
}
