package storage

import (
	"fmt"
	"log/slog"

	"github.com/mikhailv/syncslides/syncslides/internal/config"
)

func Open(cfg config.Storage, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return NewMemory(cfg.Memory.ChangelogSize), nil
	case config.StorageBolt:
		return OpenBolt(cfg.Bolt, logger)
	case config.StorageRedis:
		return NewRedis(cfg.Redis, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", string(cfg.Driver))
	}
}
