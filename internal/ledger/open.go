package ledger

import (
	"context"
	"fmt"
	"strings"
)

// OpenStore picks a Store implementation from url:
//
//	file:///var/lib/gateway/costs  or a plain path  -> FileStore
//	sqlite:///costs.db (relative), sqlite:////abs/costs.db -> SQLiteStore
//	postgres://... or postgresql://...              -> PostgresStore
func OpenStore(ctx context.Context, url string) (Store, error) {
	switch {
	case url == "":
		return nil, fmt.Errorf("ledger: empty storage url")
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url)
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			return nil, fmt.Errorf("ledger: sqlite url has no path: %s", url)
		}
		return NewSQLiteStore(ctx, path)
	case strings.HasPrefix(url, "file://"):
		return NewFileStore(strings.TrimPrefix(url, "file://"))
	case strings.Contains(url, "://"):
		return nil, fmt.Errorf("ledger: unsupported storage url: %s", url)
	default:
		return NewFileStore(url)
	}
}
