package gateway

import (
	"context"
	"time"

	apperrors "github.com/color2333/vibingu/internal/errors"
)

const (
	initialAcquireTimeout = 1 * time.Second
	upgradedAcquireTimeout = 90 * time.Second
)

// acquireWithUpgrade implements spec.md §4.1's layer (a): try the requested
// model with a 1s timeout; on timeout, try its upgrade target (flash→premium)
// with a 90s timeout; on further failure, retry the original model with a
// 90s timeout. It returns the concrete model key that was actually acquired,
// which may differ from requested, plus a release func that must be called
// exactly once on every exit path.
func (g *Gateway) acquireWithUpgrade(ctx context.Context, requested ModelKey) (ModelKey, func(), error) {
	if release, err := g.sems.acquire(ctx, requested, initialAcquireTimeout); err == nil {
		return requested, release, nil
	}

	if upgrade, ok := upgradeMap[requested]; ok {
		if release, err := g.sems.acquire(ctx, upgrade, upgradedAcquireTimeout); err == nil {
			return upgrade, release, nil
		}
	}

	if release, err := g.sems.acquire(ctx, requested, upgradedAcquireTimeout); err == nil {
		return requested, release, nil
	}

	return "", nil, apperrors.New(apperrors.KindConcurrencyExhaust,
		"no permit available for "+string(requested)+" after upgrade and fallback")
}
