package isolation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Puller is the minimal image operations surface the cache needs.
type Puller interface {
	ImageExists(ctx context.Context, image string) (bool, error)
	PullImage(ctx context.Context, image string) error
}

// pull tracks one in-flight or completed image pull. Waiters block on
// done and then read err.
type pull struct {
	done chan struct{}
	err  error
}

// ImageCache ensures a runtime image is locally available while
// deduplicating concurrent pulls of the same image. It is the one piece
// of shared mutable state in the system; the map is guarded by mu and
// entries are only written while holding it.
type ImageCache struct {
	mu     sync.Mutex
	pulls  map[string]*pull
	puller Puller
}

// NewImageCache creates an image cache backed by the given puller.
func NewImageCache(puller Puller) *ImageCache {
	return &ImageCache{
		pulls:  make(map[string]*pull),
		puller: puller,
	}
}

// EnsureAvailable returns once the image is locally present. If the image
// is being pulled by another caller, it waits for that pull's outcome
// instead of issuing a redundant one. A failed pull surfaces as
// ErrImageUnavailable to every waiter and is forgotten so a later request
// may retry.
func (c *ImageCache) EnsureAvailable(ctx context.Context, image string) error {
	c.mu.Lock()
	if p, ok := c.pulls[image]; ok {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p := &pull{done: make(chan struct{})}
	c.pulls[image] = p
	c.mu.Unlock()

	p.err = c.fetch(ctx, image)
	close(p.done)

	if p.err != nil {
		c.mu.Lock()
		delete(c.pulls, image)
		c.mu.Unlock()
	}
	return p.err
}

func (c *ImageCache) fetch(ctx context.Context, image string) error {
	exists, err := c.puller.ImageExists(ctx, image)
	if err != nil {
		return fmt.Errorf("%w: inspect image %s: %v", ErrInfrastructure, image, err)
	}
	if exists {
		return nil
	}

	slog.Info("pulling image", "image", image)
	if err := c.puller.PullImage(ctx, image); err != nil {
		return fmt.Errorf("%w: pull %s: %v", ErrImageUnavailable, image, err)
	}
	return nil
}
