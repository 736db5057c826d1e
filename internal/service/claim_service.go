package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/config"
	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
	"github.com/wiber2065939-droid/torn-extension-server/internal/repository"
)

// Rejection/outcome reasons. These are protocol states, not errors:
// a cooldown-gated stake or an empty race window is a successful call.
const (
	ReasonCooldown       = "cooldown"
	ReasonNoActiveClaims = "no_active_claims"
)

// ClaimService implements the claim-based election protocol: many
// extension instances race to deliver one alert, exactly one wins.
type ClaimService interface {
	StakeClaim(ctx context.Context, req StakeClaimRequest) (*StakeClaimResponse, error)
	ResolveWinner(ctx context.Context, req ResolveWinnerRequest) (*ResolveWinnerResponse, error)
	ConfirmDelivery(ctx context.Context, req ConfirmDeliveryRequest) (*ConfirmDeliveryResponse, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type claimService struct {
	claims repository.ClaimsRepository
	cfg    config.ClaimsConfig
	logger *zap.Logger
}

func NewClaimService(claims repository.ClaimsRepository, cfg config.ClaimsConfig, logger *zap.Logger) ClaimService {
	return &claimService{
		claims: claims,
		cfg:    cfg,
		logger: logger,
	}
}

// ============================================
// Request/Response DTOs
// ============================================

type StakeClaimRequest struct {
	FactionID       int64
	AlertType       string
	ClientID        string
	CooldownMinutes int
}

type StakeClaimResponse struct {
	Accepted bool   `json:"claimAccepted"`
	Message  string `json:"message,omitempty"`

	// Set when accepted.
	ClaimID         int64      `json:"claimId,omitempty"`
	ClaimedAt       *time.Time `json:"claimedAt,omitempty"`
	WaitSeconds     int        `json:"waitSeconds,omitempty"`
	CompetingClaims int        `json:"competingClaims"`

	// Set when rejected.
	Reason           string     `json:"reason,omitempty"`
	LastSent         *time.Time `json:"lastSent,omitempty"`
	CooldownExpires  *time.Time `json:"cooldownExpires,omitempty"`
	MinutesRemaining int        `json:"minutesRemaining,omitempty"`
}

type ResolveWinnerRequest struct {
	FactionID int64
	AlertType string
	ClientID  string
}

type ResolveWinnerResponse struct {
	IsWinner       bool   `json:"isWinner"`
	WinnerClientID string `json:"winnerId,omitempty"`
	TotalClaims    int    `json:"totalClaims,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message,omitempty"`
}

type ConfirmDeliveryRequest struct {
	FactionID int64
	AlertType string
	ClientID  string
	Success   bool
}

type ConfirmDeliveryResponse struct {
	Found     bool   `json:"-"`
	Confirmed bool   `json:"confirmed"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
}

// ============================================
// Stake
// ============================================

// StakeClaim records a client's intent to send an alert. The cooldown
// check, competing-claim count and insert are three separate store calls
// on purpose: two clients may both pass the gate and both insert, and
// that is fine because resolution is the single arbiter of the race.
func (s *claimService) StakeClaim(ctx context.Context, req StakeClaimRequest) (*StakeClaimResponse, error) {
	if err := validateClaimKey(req.FactionID, req.AlertType, req.ClientID); err != nil {
		return nil, err
	}
	if req.CooldownMinutes <= 0 {
		return nil, fmt.Errorf("cooldown_minutes must be positive")
	}

	cooldown := time.Duration(req.CooldownMinutes) * time.Minute

	last, err := s.claims.LastDelivered(ctx, req.FactionID, req.AlertType, cooldown)
	if err != nil {
		return nil, err
	}
	if last != nil {
		expires := last.ClaimedAt.Add(cooldown)
		remaining := int(math.Round(time.Until(expires).Seconds() / 60))
		if remaining < 0 {
			remaining = 0
		}

		s.logger.Info("Claim rejected by cooldown",
			zap.Int64("faction_id", req.FactionID),
			zap.String("alert_type", req.AlertType),
			zap.Int("minutes_remaining", remaining),
		)

		return &StakeClaimResponse{
			Accepted:         false,
			Reason:           ReasonCooldown,
			Message:          "Alert was recently sent",
			LastSent:         &last.ClaimedAt,
			CooldownExpires:  &expires,
			MinutesRemaining: remaining,
		}, nil
	}

	competing, err := s.claims.CountUnresolved(ctx, req.FactionID, req.AlertType, s.raceWindow())
	if err != nil {
		return nil, err
	}

	claim, err := s.claims.InsertClaim(ctx, req.FactionID, req.AlertType, req.ClientID)
	if err != nil {
		return nil, err
	}

	message := "Claim staked - you may be the winner"
	if competing > 0 {
		message = "Multiple claims detected - waiting for resolution"
	}

	return &StakeClaimResponse{
		Accepted:        true,
		ClaimID:         claim.ID,
		ClaimedAt:       &claim.ClaimedAt,
		WaitSeconds:     s.cfg.WaitSeconds,
		CompetingClaims: competing,
		Message:         message,
	}, nil
}

// ============================================
// Resolve
// ============================================

// ResolveWinner settles the active race window, or reads back the
// outcome when another caller already settled it. Safe to call
// concurrently and repeatedly: the winner of a window never changes
// once committed.
func (s *claimService) ResolveWinner(ctx context.Context, req ResolveWinnerRequest) (*ResolveWinnerResponse, error) {
	if err := validateClaimKey(req.FactionID, req.AlertType, req.ClientID); err != nil {
		return nil, err
	}

	outcome, err := s.claims.ResolveRace(ctx, req.FactionID, req.AlertType, s.raceWindow(), s.pickWinner)
	if err != nil {
		return nil, err
	}

	if outcome == nil {
		// The window may have been settled by a faster caller; a late
		// resolver still deserves the true outcome.
		outcome, err = s.claims.SettledOutcome(ctx, req.FactionID, req.AlertType, s.raceWindow())
		if err != nil {
			return nil, err
		}
	}

	if outcome == nil {
		return &ResolveWinnerResponse{
			IsWinner: false,
			Reason:   ReasonNoActiveClaims,
			Message:  "No active claim window found",
		}, nil
	}

	isWinner := outcome.WinnerClientID == req.ClientID
	message := fmt.Sprintf("Another client (%s) will handle this alert.", outcome.WinnerClientID)
	if isWinner {
		message = "You won! Send the alert."
	}

	if !outcome.AlreadySettled {
		s.logger.Info("Race window resolved",
			zap.Int64("faction_id", req.FactionID),
			zap.String("alert_type", req.AlertType),
			zap.String("winner", outcome.WinnerClientID),
			zap.Int("total_claims", outcome.TotalClaims),
		)
	}

	return &ResolveWinnerResponse{
		IsWinner:       isWinner,
		WinnerClientID: outcome.WinnerClientID,
		TotalClaims:    outcome.TotalClaims,
		Message:        message,
	}, nil
}

// pickWinner chooses among the locked claims of one race window. Claims
// arrive ordered by claimed_at ascending. The earliest claim wins unless
// others landed within the simultaneity threshold of it; clock and
// network jitter at that granularity says nothing about intent, so true
// near-ties are broken uniformly at random.
func (s *claimService) pickWinner(claims []domain.AlertClaim) string {
	if len(claims) == 1 {
		return claims[0].ClientID
	}

	threshold := time.Duration(s.cfg.SimultaneousThresholdMs) * time.Millisecond
	t0 := claims[0].ClaimedAt

	simultaneous := []domain.AlertClaim{}
	for _, c := range claims {
		if c.ClaimedAt.Sub(t0) < threshold {
			simultaneous = append(simultaneous, c)
		}
	}

	if len(simultaneous) == 1 {
		return simultaneous[0].ClientID
	}
	return simultaneous[rand.Intn(len(simultaneous))].ClientID
}

// ============================================
// Confirm
// ============================================

// ConfirmDelivery closes the loop: the elected winner reports whether
// the webhook call succeeded, which feeds the cooldown gate for the
// next cycle.
func (s *claimService) ConfirmDelivery(ctx context.Context, req ConfirmDeliveryRequest) (*ConfirmDeliveryResponse, error) {
	if err := validateClaimKey(req.FactionID, req.AlertType, req.ClientID); err != nil {
		return nil, err
	}

	found, err := s.claims.ConfirmDelivery(ctx, req.FactionID, req.AlertType, req.ClientID, req.Success)
	if err != nil {
		return nil, err
	}

	if !found {
		return &ConfirmDeliveryResponse{
			Found:   false,
			Message: "You may not have won the claim, or it was already confirmed",
		}, nil
	}

	message := "Alert confirmation recorded successfully"
	if !req.Success {
		message = "Alert failure recorded"
	}

	return &ConfirmDeliveryResponse{
		Found:     true,
		Confirmed: req.Success,
		Success:   true,
		Message:   message,
	}, nil
}

// ============================================
// Sweep
// ============================================

// SweepExpired deletes claims past the retention horizon. Run from the
// external scheduler, never from protocol traffic.
func (s *claimService) SweepExpired(ctx context.Context) (int64, error) {
	horizon := time.Duration(s.cfg.RetentionHours) * time.Hour
	return s.claims.DeleteOlderThan(ctx, horizon)
}

func (s *claimService) raceWindow() time.Duration {
	return time.Duration(s.cfg.RaceWindowSeconds) * time.Second
}

func validateClaimKey(factionID int64, alertType, clientID string) error {
	if factionID <= 0 {
		return fmt.Errorf("faction_id is required")
	}
	if alertType == "" {
		return fmt.Errorf("alert_type is required")
	}
	if clientID == "" {
		return fmt.Errorf("client_id is required")
	}
	return nil
}
