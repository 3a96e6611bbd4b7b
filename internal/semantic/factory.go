package semantic

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ppiankov/nbgrade/internal/cache"
	"github.com/ppiankov/nbgrade/internal/model"
)

// NewService creates the configured backend, wrapped in a cache when enabled
func NewService(cfg *model.Config, logger *slog.Logger) (Service, error) {
	backend := strings.ToLower(cfg.Collaborator.Backend)

	var (
		svc       Service
		namespace string
		err       error
	)

	switch backend {
	case "http", "":
		svc, err = NewHTTPService(cfg.Collaborator, logger)
		namespace = "http|" + cfg.Collaborator.BaseURL
	case "openai":
		svc, err = NewOpenAIService(cfg.Collaborator)
		namespace = "openai|" + cfg.Collaborator.Model + "|" + cfg.Collaborator.EmbeddingModel
	default:
		return nil, fmt.Errorf("unknown collaborator backend: %s (supported: http, openai)", cfg.Collaborator.Backend)
	}
	if err != nil {
		return nil, err
	}

	if !cfg.Cache.Enabled {
		return svc, nil
	}

	// Zero ttl lets each layer apply its own expiry
	layered := cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.DiskDir, cfg.Cache.DiskTTL)
	return NewCachedService(svc, layered, namespace, 0, logger), nil
}
