package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pizzeria-service/internal/models"
	"pizzeria-service/internal/redisclient"
	"pizzeria-service/internal/util"
)

// CatalogClient serves the pizza menu, fronting Postgres with a Redis cache.
// The cache only ever holds catalog reads; captured line item prices come
// from the store at order time.
type CatalogClient struct {
	store  Store
	redis  *redisclient.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalogClient creates a new catalog client
func NewCatalogClient(store Store, redis *redisclient.Client, ttl time.Duration) *CatalogClient {
	return &CatalogClient{
		store:  store,
		redis:  redis,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// GetMenu returns the catalog, from cache when possible
func (cc *CatalogClient) GetMenu(ctx context.Context) ([]models.Pizza, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.GetMenu")
	defer span.End()

	if cc.redis != nil {
		cached, err := cc.redis.GetMenu(ctx)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil {
			cc.logger.Warn("Menu cache read failed, falling back to DB", zap.Error(err))
		}
	}

	pizzas, err := cc.store.GetPizzas(ctx)
	if err != nil {
		return nil, err
	}

	if cc.redis != nil {
		if err := cc.redis.SetMenu(ctx, pizzas, cc.ttl); err != nil {
			cc.logger.Warn("Failed to populate menu cache", zap.Error(err))
		}
	}

	return pizzas, nil
}

// WarmMenuCache loads the catalog into Redis at startup
func (cc *CatalogClient) WarmMenuCache(ctx context.Context) error {
	if cc.redis == nil {
		return nil
	}

	pizzas, err := cc.store.GetPizzas(ctx)
	if err != nil {
		return err
	}

	if err := cc.redis.SetMenu(ctx, pizzas, cc.ttl); err != nil {
		return err
	}

	cc.logger.Info("Menu cache warmed", zap.Int("count", len(pizzas)))
	return nil
}
