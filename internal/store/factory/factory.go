package factory

import (
	"fmt"

	"github.com/loykin/pm2ctl/internal/store"
	"github.com/loykin/pm2ctl/internal/store/postgres"
	"github.com/loykin/pm2ctl/internal/store/sqlite"
)

// New builds a store from config. Supported types: sqlite, postgres.
func New(cfg store.Config) (store.Store, error) {
	switch cfg.Type {
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "postgres", "postgresql":
		return postgres.New(cfg.DSN)
	case "":
		return nil, fmt.Errorf("store type is required")
	default:
		return nil, fmt.Errorf("unsupported store type %q", cfg.Type)
	}
}
