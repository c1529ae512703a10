// Package jobs publishes opaque job descriptors to the external work queue.
// The core only writes; what the queue's consumers do with a descriptor
// (enrichment, scoring, notifications) is not its concern.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Descriptor is the opaque payload handed to downstream workers after a
// batch's rows become visible as promoted.
type Descriptor struct {
	JobType     string    `json:"job_type"`
	ImportRunID uuid.UUID `json:"import_run_id"`
	Kind        string    `json:"kind"`
	Promoted    int       `json:"promoted"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Publisher enqueues job descriptors.
type Publisher interface {
	Publish(ctx context.Context, d Descriptor) error
}

// RedisPublisher pushes descriptors onto a Redis list consumed by the
// downstream workflow runner.
type RedisPublisher struct {
	client *redis.Client
	queue  string
}

func NewRedisPublisher(client *redis.Client, queue string) *RedisPublisher {
	return &RedisPublisher{client: client, queue: queue}
}

func (p *RedisPublisher) Publish(ctx context.Context, d Descriptor) error {
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal job descriptor: %w", err)
	}
	if err := p.client.LPush(ctx, p.queue, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish job descriptor: %w", err)
	}
	return nil
}

// MemoryPublisher collects descriptors in memory for tests.
type MemoryPublisher struct {
	mu        sync.Mutex
	published []Descriptor
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, d Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = time.Now()
	}
	p.published = append(p.published, d)
	return nil
}

// Published returns a copy of everything enqueued so far.
func (p *MemoryPublisher) Published() []Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Descriptor, len(p.published))
	copy(out, p.published)
	return out
}
