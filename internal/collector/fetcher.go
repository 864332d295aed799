package collector

import (
	"context"

	"QDIIRadar/internal/model"
)

// Fetcher retrieves current fund snapshots from a data source.
// Codes the source knows nothing about are omitted from the result.
type Fetcher interface {
	FetchSnapshots(ctx context.Context, codes []string) ([]model.FundSnapshot, error)
	Name() string
}
