package domain

import "context"

// ReserveReader reads a pool snapshot at a fixed block. Failures wrap
// ErrSnapshotUnavailable.
type ReserveReader interface {
	ReadReserves(ctx context.Context, token TokenBinding, block uint64) (ReserveSnapshot, error)
}

// PriceFeedReader reads one reference feed at a fixed block. A feed with no
// data returns an invalid ReferencePrice and a nil error.
type PriceFeedReader interface {
	ReadPrice(ctx context.Context, feed FeedRef, block uint64) (ReferencePrice, error)
}

// BlockSource reports the chain head used to pin a query.
type BlockSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
}
