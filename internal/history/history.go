// Package history stores conversations per session. Each session is exposed
// as a chat.History so the orchestrator never sees the backing store.
package history

import (
	"context"
	"fmt"

	"relay/internal/chat"
)

type Store interface {
	Session(id string) chat.History
	Sessions(ctx context.Context) ([]string, error)
	Close() error
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver. path is only used by sqlite.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		if path == "" {
			return nil, fmt.Errorf("history: sqlite driver needs a path")
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("history: unknown driver %q", driver)
	}
}
