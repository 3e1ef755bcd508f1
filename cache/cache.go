package cache

import (
	"fmt"

	"github.com/technoratimedia/pbs-technorati/config"
)

// Account is a publisher account allowed to run auctions.
type Account struct {
	ID string
}

// Cache looks up the data an auction needs before it fans out to the bidders.
// GetConfig returns the stored bid list (a JSON array of bids) for an ad unit config_id.
type Cache interface {
	GetAccount(id string) (*Account, error)
	GetConfig(id string) (string, error)
	Close() error
}

// NotFound is returned when the key has no entry in the cache.
type NotFound struct {
	Kind string
	Key  string
}

func (err *NotFound) Error() string {
	return fmt.Sprintf("%s %s not found", err.Kind, err.Key)
}

// New builds the Cache described by the datacache config section.
func New(cfg *config.DataCache) (Cache, error) {
	switch cfg.Type {
	case "dummy":
		return NewDummyCache(), nil
	case "filecache":
		fc, err := NewFileCache(cfg.Filename)
		if err != nil {
			return nil, err
		}
		return fc, nil
	case "postgres":
		pc, err := NewPostgresDataCache(&PostgresDataCacheConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Dbname:   cfg.Database,
			User:     cfg.Username,
			Password: cfg.Password,
			Size:     cfg.CacheSize,
			TTL:      cfg.TTLSeconds,
		})
		if err != nil {
			return nil, err
		}
		return pc, nil
	default:
		return nil, fmt.Errorf("unknown datacache type %q", cfg.Type)
	}
}
