package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
)

func TestIsQuietHours(t *testing.T) {
	at := func(hour, minute int) time.Time {
		return time.Date(2026, 3, 1, hour, minute, 0, 0, time.UTC)
	}

	daytime := &domain.QuietHours{Enabled: true, Start: "09:00", End: "17:00"}
	overnight := &domain.QuietHours{Enabled: true, Start: "22:00", End: "07:00"}

	tests := []struct {
		name string
		qh   *domain.QuietHours
		now  time.Time
		want bool
	}{
		{"nil config", nil, at(12, 0), false},
		{"disabled", &domain.QuietHours{Enabled: false, Start: "00:00", End: "23:59"}, at(12, 0), false},
		{"inside daytime window", daytime, at(12, 0), true},
		{"at start boundary", daytime, at(9, 0), true},
		{"at end boundary", daytime, at(17, 0), false},
		{"before daytime window", daytime, at(8, 59), false},
		{"overnight late evening", overnight, at(23, 30), true},
		{"overnight early morning", overnight, at(3, 0), true},
		{"overnight midday", overnight, at(12, 0), false},
		{"overnight just before end", overnight, at(6, 59), true},
		{"malformed times", &domain.QuietHours{Enabled: true, Start: "late", End: "early"}, at(12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isQuietHours(tt.qh, tt.now))
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		minutes int
		ok      bool
	}{
		{"00:00", 0, true},
		{"09:30", 570, true},
		{"23:59", 1439, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"12", 0, false},
		{"", 0, false},
		{"ab:cd", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseClock(tt.input)
		assert.Equal(t, tt.ok, ok, "parseClock(%q) ok", tt.input)
		if tt.ok {
			assert.Equal(t, tt.minutes, got, "parseClock(%q) minutes", tt.input)
		}
	}
}

func TestFindWebhook(t *testing.T) {
	webhooks := []domain.Webhook{
		{Type: "general", URL: "https://discord.example/general"},
		{Type: "chain", URL: "https://discord.example/chain"},
	}

	hit := findWebhook(webhooks, "chain")
	assert.NotNil(t, hit)
	assert.Equal(t, "https://discord.example/chain", hit.URL)

	// Unmatched types fall back to the general webhook.
	fallback := findWebhook(webhooks, "oc_ready")
	assert.NotNil(t, fallback)
	assert.Equal(t, "general", fallback.Type)

	assert.Nil(t, findWebhook(nil, "chain"))
	assert.Nil(t, findWebhook([]domain.Webhook{{Type: "chain", URL: "x"}}, "oc_ready"))
}
