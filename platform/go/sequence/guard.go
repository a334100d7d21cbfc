package sequence

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultProbeLimit bounds how far the guard probes forward before declaring
// the counter desynchronized. Under a correctly seeded counter the loop exits
// on the first iteration.
const DefaultProbeLimit = 50

// Guard verifies that a candidate identifier is not already bound to an
// existing record. It is a safety net for under-seeded counters (restored
// backups, data migrations, manual edits), not the primary concurrency
// mechanism; steady state never collides.
type Guard struct {
	lookup EntityLookup
	limit  int
	logger *zap.Logger
}

// NewGuard constructs a Guard with DefaultProbeLimit.
func NewGuard(lookup EntityLookup, logger *zap.Logger) *Guard {
	if lookup == nil {
		panic("entity lookup is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{lookup: lookup, limit: DefaultProbeLimit, logger: logger}
}

// VerifyOrAdvance returns candidate unchanged when it is free, otherwise
// probes forward one suffix at a time until a free identifier is found.
// Every skipped identifier is an anomaly and is logged as such.
func (g *Guard) VerifyOrAdvance(ctx context.Context, ns Namespace, tenantID, candidate string) (string, error) {
	id := candidate
	for probe := 0; probe <= g.limit; probe++ {
		taken, err := g.lookup.IdentifierExists(ctx, tenantID, id)
		if err != nil {
			return "", fmt.Errorf("verify identifier %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}

		g.logger.Warn("identifier collision skipped",
			zap.String("namespace", ns.Name),
			zap.String("tenant_id", tenantID),
			zap.String("identifier", id),
			zap.Int("probe", probe),
		)

		seq, err := ns.SuffixOf(id)
		if err != nil {
			return "", err
		}
		id = ns.Format(seq + 1)
	}

	return "", fmt.Errorf("%w: %d probes from %s (tenant %s)", ErrCollisionExhausted, g.limit, candidate, tenantID)
}
