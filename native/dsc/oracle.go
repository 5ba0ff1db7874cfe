package dsc

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// OracleAdapter wraps price feeds with a staleness check so a feed that stops
// updating cannot freeze a price.
type OracleAdapter struct {
	timeout time.Duration
	nowFn   func() time.Time
}

// NewOracleAdapter constructs an adapter rejecting rounds older than timeout.
func NewOracleAdapter(timeout time.Duration) *OracleAdapter {
	return &OracleAdapter{timeout: timeout, nowFn: time.Now}
}

// SetNowFunc overrides the clock. Nil restores time.Now.
func (o *OracleAdapter) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	o.nowFn = now
}

// Timeout returns the configured staleness timeout.
func (o *OracleAdapter) Timeout() time.Duration { return o.timeout }

// StaleCheckLatestRoundData fetches the latest round from feed and fails with
// ErrStalePrice when it was last updated more than the timeout ago. The round
// is otherwise returned unchanged.
func (o *OracleAdapter) StaleCheckLatestRoundData(ctx context.Context, feed PriceFeed) (RoundData, error) {
	if feed == nil {
		return RoundData{}, ErrAssetNotAllowed
	}
	round, err := feed.LatestRoundData(ctx)
	if err != nil {
		return RoundData{}, fmt.Errorf("latest round data: %w", err)
	}
	updatedAt := round.UpdatedAt
	if updatedAt == nil {
		updatedAt = new(big.Int)
	}
	now := big.NewInt(o.nowFn().Unix())
	if updatedAt.Cmp(now) > 0 {
		return RoundData{}, fmt.Errorf("%w: round updated in the future", ErrInvalidPrice)
	}
	elapsed := new(big.Int).Sub(now, updatedAt)
	elapsed.Mul(elapsed, big.NewInt(int64(time.Second)))
	if elapsed.Cmp(big.NewInt(int64(o.timeout))) > 0 {
		return RoundData{}, ErrStalePrice
	}
	return round, nil
}
