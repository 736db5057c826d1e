package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TornCrime is one organized crime slot from the faction selection.
type TornCrime struct {
	CrimeName string `json:"crime_name"`
	Initiated int    `json:"initiated"`
	TimeReady int64  `json:"time_ready"` // unix seconds
	Planned   int64  `json:"time_started"`
}

// TornChain is the faction's current attack chain.
type TornChain struct {
	Current int   `json:"current"`
	Timeout int64 `json:"timeout"`
}

// TornFaction is the subset of the faction selections the monitor reads.
type TornFaction struct {
	ID     int64                `json:"ID"`
	Name   string               `json:"name"`
	Chain  TornChain            `json:"chain"`
	Crimes map[string]TornCrime `json:"crimes"`
}

type tornError struct {
	Error *struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	} `json:"error"`
}

// TornClient fetches faction data from the Torn API.
type TornClient struct {
	httpClient *resty.Client
	apiKey     string
	logger     *zap.Logger
}

func NewTornClient(baseURL, apiKey string, logger *zap.Logger) *TornClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")

	return &TornClient{
		httpClient: client,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// FetchFaction pulls the basic/crimes/chain selections for one faction.
func (c *TornClient) FetchFaction(ctx context.Context, factionID int64) (*TornFaction, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("selections", "basic,crimes,chain").
		SetQueryParam("key", c.apiKey).
		Get(fmt.Sprintf("/faction/%d", factionID))
	if err != nil {
		return nil, fmt.Errorf("torn api request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("torn api returned status %d", resp.StatusCode())
	}

	// Torn reports errors inside a 200 body.
	var apiErr tornError
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Error != nil {
		return nil, fmt.Errorf("torn api error %d: %s", apiErr.Error.Code, apiErr.Error.Error)
	}

	var faction TornFaction
	if err := json.Unmarshal(resp.Body(), &faction); err != nil {
		return nil, fmt.Errorf("failed to parse faction data: %w", err)
	}

	return &faction, nil
}
