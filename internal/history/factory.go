package history

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when a database URL is configured,
// otherwise per-project JSON files under dataDir.
func NewStore(ctx context.Context, databaseURL, dataDir string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewFileStore(dataDir), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
