package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"voice-session/internal/infra"
)

// Client fetches synthesized speech from an HTTP endpoint that takes the text
// as a query parameter and streams back audio.
type Client struct {
	endpoint   string
	voice      string
	authToken  string
	httpClient *http.Client
	retry      infra.RetryConfig
}

// NewClient builds a TTS client. timeout bounds the response headers only so
// long answers can keep streaming.
func NewClient(endpoint, voice, authToken string, timeout time.Duration) *Client {
	return &Client{
		endpoint:  endpoint,
		voice:     voice,
		authToken: authToken,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: timeout,
			},
		},
		retry: infra.DefaultRetryConfig(),
	}
}

// Synthesize returns the audio body. The caller closes it.
func (c *Client) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing tts url: %w", err)
	}
	q := u.Query()
	q.Set("text", text)
	if c.voice != "" {
		q.Set("voice", c.voice)
	}
	u.RawQuery = q.Encode()

	var body io.ReadCloser

	retryErr := infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Accept", "audio/mpeg, audio/wav")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if infra.IsRetryableHTTPStatus(resp.StatusCode) {
				return fmt.Errorf("tts API error %d: %s (retryable)", resp.StatusCode, string(respBody))
			}
			return infra.Permanent(fmt.Errorf("tts API error %d: %s", resp.StatusCode, string(respBody)))
		}

		body = resp.Body
		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return body, nil
}
