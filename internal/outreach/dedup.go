package outreach

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/phone"
)

// DedupGuard blocks repeat outreach to a phone already present in history.
type DedupGuard struct {
	index    DedupIndex
	failOpen bool
	logger   *zap.Logger
}

// NewDedupGuard builds a guard. With failOpen a lookup error admits the send;
// otherwise it blocks.
func NewDedupGuard(index DedupIndex, failOpen bool, logger *zap.Logger) *DedupGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DedupGuard{index: index, failOpen: failOpen, logger: logger}
}

// IsAlreadyContacted looks the normalized phone up across all history and
// returns the raw lookup result.
func (g *DedupGuard) IsAlreadyContacted(ctx context.Context, rawPhone string) (bool, error) {
	contacted, err := g.index.AlreadyContacted(ctx, phone.Normalize(rawPhone))
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return contacted, nil
}

// Blocked applies the guard's failure policy on top of IsAlreadyContacted.
// A non-nil error means the lookup failed and blocked reflects the policy.
func (g *DedupGuard) Blocked(ctx context.Context, rawPhone string) (bool, error) {
	contacted, err := g.IsAlreadyContacted(ctx, rawPhone)
	if err != nil {
		g.logger.Warn("dedup lookup failed", zap.Bool("fail_open", g.failOpen), zap.Error(err))
		return !g.failOpen, err
	}
	return contacted, nil
}
