// Package engine runs trading campaigns. The API layer should only interact
// with campaigns through Service.
package engine

import (
	"context"
	"errors"
	"iter"

	"signal-trader/internal/campaign"
)

var (
	// ErrCampaignNotFound is returned when stopping or reading an unknown campaign.
	ErrCampaignNotFound = campaign.ErrNotFound
	// ErrNoInstruments means the universe mode resolved to no tradeable swaps.
	ErrNoInstruments = errors.New("no tradeable instruments for campaign")
	// ErrInvalidConfig wraps campaign configuration validation failures.
	ErrInvalidConfig = errors.New("invalid campaign config")
)

// Service defines campaign lifecycle operations.
type Service interface {
	// Start launches a campaign. It fails with campaign.ErrDuplicateCampaign
	// when id is already running, leaving that campaign untouched.
	Start(ctx context.Context, id string, cfg campaign.Config) error
	Stop(ctx context.Context, id string) error
	StopAll(ctx context.Context) int

	// List yields a summary per running campaign. The sequence is lazy and can
	// be iterated more than once.
	List(ctx context.Context) iter.Seq[campaign.Summary]
	Get(ctx context.Context, id string) (campaign.Summary, error)

	GetSystemStatus(ctx context.Context) *SystemStatus
}
