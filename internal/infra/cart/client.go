package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-session/internal/infra"
)

// Client forwards recognized transcripts to the shopping backend, which turns
// them into cart updates.
type Client struct {
	baseURL    string
	userID     string
	sessionID  string
	aiMode     string
	httpClient *http.Client
	retry      infra.RetryConfig
	logger     *slog.Logger
}

type queryRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	AIMode    string `json:"ai_mode,omitempty"`
}

// Response mirrors the backend's reply to a query.
type Response struct {
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	AddedItems  []map[string]any `json:"added_items,omitempty"`
	ReviewItems []map[string]any `json:"review_items,omitempty"`
}

func NewClient(baseURL, userID, aiMode string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		sessionID:  uuid.NewString(),
		aiMode:     aiMode,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      infra.DefaultRetryConfig(),
		logger:     logger,
	}
}

func (c *Client) SessionID() string {
	return c.sessionID
}

// Consume implements application.TranscriptSink.
func (c *Client) Consume(ctx context.Context, transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	resp, err := c.Query(ctx, transcript)
	if err != nil {
		return err
	}

	c.logger.Info("cart updated",
		"status", resp.Status,
		"message", resp.Message,
		"added", len(resp.AddedItems),
		"review", len(resp.ReviewItems),
	)
	return nil
}

// Query posts one transcript to /process_query.
func (c *Client) Query(ctx context.Context, transcript string) (*Response, error) {
	payload, err := json.Marshal(queryRequest{
		Query:     transcript,
		UserID:    c.userID,
		SessionID: c.sessionID,
		AIMode:    c.aiMode,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling query: %w", err)
	}

	var result Response

	retryErr := infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process_query", bytes.NewReader(payload))
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending query: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if infra.IsRetryableHTTPStatus(resp.StatusCode) {
				return fmt.Errorf("cart API error %d: %s (retryable)", resp.StatusCode, string(respBody))
			}
			return infra.Permanent(fmt.Errorf("cart API error %d: %s", resp.StatusCode, string(respBody)))
		}

		result = Response{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return infra.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return &result, nil
}
