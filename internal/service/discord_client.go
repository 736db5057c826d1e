package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DiscordEmbedField is one field row inside an embed.
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordEmbed is the embed payload the monitor posts to webhooks.
type DiscordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

// DiscordClient posts embeds to Discord webhooks.
type DiscordClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewDiscordClient(logger *zap.Logger) *DiscordClient {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &DiscordClient{
		httpClient: client,
		logger:     logger,
	}
}

// SendEmbed delivers one embed to the webhook URL. Discord answers 204
// on success; anything outside 2xx is a delivery failure.
func (c *DiscordClient) SendEmbed(ctx context.Context, webhookURL string, embed DiscordEmbed) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook url is required")
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(discordPayload{Embeds: []DiscordEmbed{embed}}).
		Post(webhookURL)
	if err != nil {
		return fmt.Errorf("discord webhook request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("discord webhook failed: status %d", resp.StatusCode())
	}

	return nil
}
