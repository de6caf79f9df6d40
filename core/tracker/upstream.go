package tracker

import (
	"context"

	"resetwatch/core/pnw"
)

// Upstream is the fetch capability the tracker consumes. *pnw.Client
// satisfies it; tests provide fakes.
type Upstream interface {
	FetchEntityBatch(ctx context.Context, page, size int) (pnw.NationPage, error)
	FetchEntityStatus(ctx context.Context, id int64) (pnw.Nation, error)
	FetchEntitiesSince(ctx context.Context, watermark int64) ([]pnw.Nation, error)
}

var _ Upstream = (*pnw.Client)(nil)
