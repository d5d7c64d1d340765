// Package slack provides a Slack API client and notification service.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/arome3/vigil/pkg/breaker"
	"github.com/arome3/vigil/pkg/metrics"
)

// Client is a thin wrapper around the slack-go SDK, with an
// IntegrationBreaker around PostMessage so a Slack outage degrades the
// same way a PagerDuty outage does: fast-failing notifications instead of
// piling up blocked goroutines against a down API.
type Client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
	breaker   *breaker.IntegrationBreaker
}

// NewClient creates a new Slack API client.
func NewClient(token, channelID string) *Client {
	return &Client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack-client"),
		breaker:   breaker.NewIntegrationBreaker(breaker.DefaultIntegrationBreakerConfig("slack")),
	}
}

// NewClientWithAPIURL creates a Slack API client that targets a custom API URL.
// Useful for testing with a mock server.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	return &Client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack-client"),
		breaker:   breaker.NewIntegrationBreaker(breaker.DefaultIntegrationBreakerConfig("slack")),
	}
}

// PostMessage sends a message to the configured channel.
// If threadTS is non-empty, the message is posted as a threaded reply.
func (c *Client) PostMessage(ctx context.Context, blocks []goslack.Block, threadTS string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	_, err := c.breaker.Call(ctx, func(ctx context.Context) (any, error) {
		_, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
		return nil, err
	}, func(error) bool { return true })
	metrics.Get().SetBreakerState("slack", float64(c.breaker.State()))

	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
