package queueaccess

import (
	"context"
	"encoding/json"

	"outbox/internal/api"
	"outbox/internal/apiclient"
	"outbox/internal/queue"
)

// Access provides queue operations regardless of daemon API or direct store backing.
type Access interface {
	List(ctx context.Context, types []string) ([]api.QueueItem, error)
	Stats(ctx context.Context) (api.QueueStatsResponse, error)
	Describe(ctx context.Context, id int64) (*api.QueueItem, error)
	Enqueue(ctx context.Context, itemType string, payload json.RawMessage) (*api.QueueItem, error)
	Health(ctx context.Context) (queue.DatabaseHealth, error)
	// Live reports whether requests go through a running daemon.
	Live() bool
}

// NewAPIAccess returns an Access backed by the daemon HTTP API.
func NewAPIAccess(client *apiclient.Client) Access {
	return &apiAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct DB access.
func NewStoreAccess(store *queue.Store) Access {
	return &storeAccess{store: store, service: api.NewQueueService(store)}
}

type apiAccess struct {
	client *apiclient.Client
}

func (a *apiAccess) List(ctx context.Context, types []string) ([]api.QueueItem, error) {
	return a.client.List(ctx, types)
}

func (a *apiAccess) Stats(ctx context.Context) (api.QueueStatsResponse, error) {
	return a.client.Stats(ctx)
}

func (a *apiAccess) Describe(ctx context.Context, id int64) (*api.QueueItem, error) {
	return a.client.Describe(ctx, id)
}

func (a *apiAccess) Enqueue(ctx context.Context, itemType string, payload json.RawMessage) (*api.QueueItem, error) {
	return a.client.Enqueue(ctx, itemType, payload)
}

func (a *apiAccess) Health(ctx context.Context) (queue.DatabaseHealth, error) {
	return a.client.DatabaseHealth(ctx)
}

func (a *apiAccess) Live() bool { return true }

type storeAccess struct {
	store   *queue.Store
	service *api.QueueService
}

func (a *storeAccess) List(ctx context.Context, types []string) ([]api.QueueItem, error) {
	items, err := a.service.List(ctx)
	if err != nil {
		return nil, err
	}
	return api.FilterByType(items, types...), nil
}

func (a *storeAccess) Stats(ctx context.Context) (api.QueueStatsResponse, error) {
	return a.service.Stats(ctx)
}

func (a *storeAccess) Describe(ctx context.Context, id int64) (*api.QueueItem, error) {
	return a.service.Describe(ctx, id)
}

func (a *storeAccess) Enqueue(ctx context.Context, itemType string, payload json.RawMessage) (*api.QueueItem, error) {
	item, err := a.store.Enqueue(ctx, itemType, payload)
	if err != nil {
		return nil, err
	}
	dto := api.FromQueueItem(*item)
	return &dto, nil
}

func (a *storeAccess) Health(ctx context.Context) (queue.DatabaseHealth, error) {
	return a.store.CheckHealth(ctx)
}

func (a *storeAccess) Live() bool { return false }
