package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/models"
)

// okReply is the plain-text sentinel the website returns when a report was
// applied.
const okReply = "OK"

// Reporter is the runner-side view of the website handin API.
type Reporter interface {
	Start(ctx context.Context, handinID string) error
	Report(ctx context.Context, score *models.Score) error
	Proclog(ctx context.Context, handinID string, exitcode int, stdout, stderr *string) error
}

type client struct {
	baseURL string
	key     []byte
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient builds a Reporter posting encrypted payloads to baseURL.
func NewClient(baseURL, key string, timeout time.Duration, logger zerolog.Logger) Reporter {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     []byte(key),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Start flips the handin to Running before execution begins.
func (c *client) Start(ctx context.Context, handinID string) error {
	return c.post(ctx, fmt.Sprintf("/handin/start/%s/", handinID),
		models.StartRequest{UUID: handinID})
}

// Report delivers the final score. The website enforces at-most-once
// semantics, so a duplicate delivery fails with a sentinel error.
func (c *client) Report(ctx context.Context, score *models.Score) error {
	return c.post(ctx, fmt.Sprintf("/handin/report/%s/", score.UUID), score)
}

// Proclog attaches the raw process outcome to the handin. It is sent for
// every execution, successful or not.
func (c *client) Proclog(ctx context.Context, handinID string, exitcode int, stdout, stderr *string) error {
	return c.post(ctx, fmt.Sprintf("/handin/proclog/%s/", handinID), models.ProclogRequest{
		UUID:     handinID,
		Exitcode: exitcode,
		Stdout:   stdout,
		Stderr:   stderr,
	})
}

func (c *client) post(ctx context.Context, action string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", action, err)
	}
	enc, err := Encrypt(raw, c.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt payload for %s: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+action, bytes.NewReader(enc))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read reply of %s: %w", action, err)
	}
	reply := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK || reply != okReply {
		c.logger.Warn().Str("action", action).Int("status", resp.StatusCode).
			Str("reply", reply).Msg("Report was not accepted by website")
		return fmt.Errorf("website rejected %s: %s", action, reply)
	}
	return nil
}
