package emailverification

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-verify/pkg/account"
)

// StoreConfig contains what is needed to build a verification store
type StoreConfig struct {
	// Pool is required for PostgreSQL stores
	Pool *pgxpool.Pool
	// Accounts is required for in-memory stores
	Accounts account.Store
}

// NewStore creates a verification store for the persistence type
func NewStore(persistenceType string, config StoreConfig) (Store, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return nil, fmt.Errorf("pool required for postgres store")
		}
		return NewPostgresStore(config.Pool), nil
	case "memory":
		if config.Accounts == nil {
			return nil, fmt.Errorf("account store required for memory store")
		}
		return NewMemoryStore(config.Accounts), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, memory)", persistenceType)
	}
}
