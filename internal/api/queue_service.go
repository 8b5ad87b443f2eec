package api

import (
	"context"

	"outbox/internal/queue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context) ([]queue.Item, error)
	Stats(ctx context.Context) (queue.Stats, error)
	GetByID(ctx context.Context, id int64) (*queue.Item, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns the pending items in delivery order.
func (s *QueueService) List(ctx context.Context) ([]QueueItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return FromQueueItems(items), nil
}

// Stats summarizes the pending set.
func (s *QueueService) Stats(ctx context.Context) (QueueStatsResponse, error) {
	if s == nil || s.store == nil {
		return FromStats(queue.Stats{}), nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return QueueStatsResponse{}, err
	}
	return FromStats(stats), nil
}

// Describe fetches a single queue item.
func (s *QueueService) Describe(ctx context.Context, id int64) (*QueueItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	item, err := s.store.GetByID(ctx, id)
	if err != nil || item == nil {
		return nil, err
	}
	dto := FromQueueItem(*item)
	return &dto, nil
}
