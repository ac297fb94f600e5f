package isolation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakePuller counts calls and can block pulls until released.
type fakePuller struct {
	exists    bool
	existsErr error
	pullErr   error
	pullGate  chan struct{} // when non-nil, PullImage blocks on it
	inspects  atomic.Int32
	pulls     atomic.Int32
}

func (f *fakePuller) ImageExists(ctx context.Context, image string) (bool, error) {
	f.inspects.Add(1)
	return f.exists, f.existsErr
}

func (f *fakePuller) PullImage(ctx context.Context, image string) error {
	f.pulls.Add(1)
	if f.pullGate != nil {
		<-f.pullGate
	}
	return f.pullErr
}

func TestEnsureAvailableSkipsPullWhenPresent(t *testing.T) {
	p := &fakePuller{exists: true}
	c := NewImageCache(p)

	if err := c.EnsureAvailable(context.Background(), "python:3.12-alpine"); err != nil {
		t.Fatalf("EnsureAvailable unexpected error: %v", err)
	}
	if got := p.pulls.Load(); got != 0 {
		t.Errorf("pulls = %d, want 0", got)
	}
}

func TestEnsureAvailableSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	p := &fakePuller{pullGate: gate}
	c := NewImageCache(p)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.EnsureAvailable(context.Background(), "node:20-alpine")
		}()
	}

	// Let the winner reach the pull and the rest queue up behind it.
	deadline := time.After(2 * time.Second)
	for p.pulls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no pull started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureAvailable unexpected error: %v", err)
		}
	}
	if got := p.pulls.Load(); got != 1 {
		t.Errorf("pulls = %d, want exactly 1", got)
	}
}

func TestEnsureAvailableFailureFansOutAndRetries(t *testing.T) {
	gate := make(chan struct{})
	p := &fakePuller{pullGate: gate, pullErr: errors.New("registry down")}
	c := NewImageCache(p)

	const callers = 4
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.EnsureAvailable(context.Background(), "gcc:13")
		}()
	}

	deadline := time.After(2 * time.Second)
	for p.pulls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no pull started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrImageUnavailable) {
			t.Errorf("EnsureAvailable error = %v, want ErrImageUnavailable", err)
		}
	}

	// The failed entry is forgotten; a later request pulls again and can
	// succeed.
	p.pullErr = nil
	p.pullGate = nil
	if err := c.EnsureAvailable(context.Background(), "gcc:13"); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
	if got := p.pulls.Load(); got != 2 {
		t.Errorf("pulls = %d, want 2 (one failed, one retried)", got)
	}
}

func TestEnsureAvailableInspectFailure(t *testing.T) {
	p := &fakePuller{existsErr: errors.New("daemon gone")}
	c := NewImageCache(p)

	err := c.EnsureAvailable(context.Background(), "golang:1.23-alpine")
	if !errors.Is(err, ErrInfrastructure) {
		t.Errorf("EnsureAvailable error = %v, want ErrInfrastructure", err)
	}
}

func TestEnsureAvailableWaiterHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	p := &fakePuller{pullGate: gate}
	c := NewImageCache(p)

	go c.EnsureAvailable(context.Background(), "eclipse-temurin:21")

	deadline := time.After(2 * time.Second)
	for p.pulls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no pull started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.EnsureAvailable(ctx, "eclipse-temurin:21"); !errors.Is(err, context.Canceled) {
		t.Errorf("waiter error = %v, want context.Canceled", err)
	}
}
