package session

import (
	"context"
	"sync"
	"time"

	"github.com/iotfleet/fleetadmin/credentials"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RefreshFunc calls the remote refresh endpoint and returns a new credential.
type RefreshFunc func(ctx context.Context) (*credentials.Credential, error)

// pendingRefresh is the shared handle for an in-flight refresh. Every caller
// that finds the credential stale while one exists awaits its done channel and
// reads the same result. At most one exists at any instant.
type pendingRefresh struct {
	done chan struct{}
	cred *credentials.Credential
	err  error
}

// Coordinator guarantees at most one refresh network call is in flight
// system-wide. Callers whose credential is still valid pass straight through;
// concurrent callers with a stale credential all join the same refresh episode
// and observe the same new credential or the same failure.
type Coordinator struct {
	store   *credentials.Store
	refresh RefreshFunc
	nowFunc func() time.Time
	log     zerolog.Logger

	lock    sync.Mutex
	pending *pendingRefresh
}

// CoordinatorOption defines a function type to modify the Coordinator instance.
type CoordinatorOption func(*Coordinator)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

// WithCoordinatorLogger sets the logger used for refresh episode events.
func WithCoordinatorLogger(log zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = log
	}
}

func NewCoordinator(store *credentials.Store, refresh RefreshFunc, options ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[NewCoordinator] store is required")
	}
	if refresh == nil {
		return nil, errors.New("[NewCoordinator] refresh func is required")
	}

	c := &Coordinator{
		store:   store,
		refresh: refresh,
		nowFunc: time.Now,
		log:     zerolog.Nop(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// EnsureFresh returns a credential that is safe to attach to a request,
// refreshing first when the held one is expiring or missing. Exactly one
// refresh network call is made per episode regardless of how many callers
// arrive while it is outstanding.
func (c *Coordinator) EnsureFresh(ctx context.Context) (*credentials.Credential, error) {
	if cred, ok := c.store.Current(); ok {
		if credentials.Classify(&cred, c.nowFunc()) == credentials.StateValid {
			return &cred, nil
		}
	}

	c.lock.Lock()

	// Re-check under the lock: a refresh episode may have completed between
	// the classify above and acquiring the lock.
	if cred, ok := c.store.Current(); ok {
		if credentials.Classify(&cred, c.nowFunc()) == credentials.StateValid {
			c.lock.Unlock()
			return &cred, nil
		}
	}

	if p := c.pending; p != nil {
		c.lock.Unlock()
		return c.await(ctx, p)
	}

	p := &pendingRefresh{done: make(chan struct{})}
	c.pending = p
	c.lock.Unlock()

	c.log.Debug().Msg("starting credential refresh")
	cred, err := c.refresh(ctx)

	if err == nil {
		c.store.Replace(cred)
	} else {
		c.log.Warn().Err(err).Msg("credential refresh failed")
	}

	c.lock.Lock()
	p.cred, p.err = cred, err
	c.pending = nil
	c.lock.Unlock()
	close(p.done)

	if err != nil {
		return nil, errors.Wrap(err, "[Coordinator.EnsureFresh] refresh")
	}
	return cred, nil
}

func (c *Coordinator) await(ctx context.Context, p *pendingRefresh) (*credentials.Credential, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "[Coordinator.EnsureFresh] canceled awaiting refresh")
	case <-p.done:
	}

	if p.err != nil {
		return nil, errors.Wrap(p.err, "[Coordinator.EnsureFresh] shared refresh failed")
	}
	return p.cred, nil
}
