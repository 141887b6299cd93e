package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/iotfleet/fleetadmin/credentials"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Doer dispatches a prepared HTTP request. Satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CSRFFunc fetches a fresh anti-forgery token for one mutating request.
type CSRFFunc func(ctx context.Context) (string, error)

// Invalidator is anything whose contents must be dropped when the session
// ends. The entity caches register themselves here.
type Invalidator interface {
	Invalidate()
}

// SessionEndedFunc receives the path the user was on when the session was
// torn down; the navigation layer redirects to the login surface with it.
type SessionEndedFunc func(path string)

// Gateway wraps every outbound API call: it obtains an anti-forgery token for
// mutating verbs, guarantees a fresh bearer credential via the refresh
// coordinator, and on a terminal auth failure tears down all client session
// state. It never retries a request after a refresh; a rejection of the
// refreshed credential is terminal, not a reason to refresh again.
type Gateway struct {
	client Doer
	coord  *Coordinator
	store  *credentials.Store
	csrf   CSRFFunc
	log    zerolog.Logger

	lock    sync.Mutex
	caches  []Invalidator
	onEnded SessionEndedFunc
}

// GatewayOption defines a function type to modify the Gateway instance.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger used for teardown events.
func WithGatewayLogger(log zerolog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.log = log
	}
}

func NewGateway(client Doer, coord *Coordinator, store *credentials.Store, csrf CSRFFunc, options ...GatewayOption) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("[NewGateway] client is required")
	}
	if coord == nil {
		return nil, errors.New("[NewGateway] coordinator is required")
	}
	if store == nil {
		return nil, errors.New("[NewGateway] store is required")
	}
	if csrf == nil {
		return nil, errors.New("[NewGateway] csrf func is required")
	}

	g := &Gateway{
		client: client,
		coord:  coord,
		store:  store,
		csrf:   csrf,
		log:    zerolog.Nop(),
	}

	for _, opt := range options {
		opt(g)
	}

	return g, nil
}

// RegisterInvalidator adds a cache to be cleared on terminal auth failure.
func (g *Gateway) RegisterInvalidator(inv Invalidator) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.caches = append(g.caches, inv)
}

// OnSessionEnded sets the hook fired when the session is torn down.
func (g *Gateway) OnSessionEnded(fn SessionEndedFunc) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.onEnded = fn
}

// Do sends one API request with session handling applied. Non-auth error
// statuses pass through unmodified for the caller to interpret.
func (g *Gateway) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if isMutating(req.Method) {
		token, err := g.csrf(ctx)
		if err != nil {
			return nil, errors.Wrapf(ErrCSRFUnavailable, "[Gateway.Do] fetch anti-forgery token: %v", err)
		}
		req.Header.Set("X-CSRF-Token", token)
	}

	cred, err := g.coord.EnsureFresh(ctx)
	if err != nil {
		// A canceled or timed-out caller is not a verdict on the session:
		// the refresh endpoint never rejected, and the shared episode may
		// still succeed for other joiners.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(err, "[Gateway.Do] ensure fresh credential")
		}
		// The refresh endpoint itself rejected: session-ending.
		g.endSession(req.URL.Path)
		return nil, errors.Wrapf(ErrSessionEnded, "[Gateway.Do] credential refresh rejected: %v", err)
	}

	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := g.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.Do] dispatch")
	}

	// The credential was fresh when attached, so a 401 here is the server's
	// final word, not a stale token.
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		g.endSession(req.URL.Path)
		return nil, errors.Wrapf(ErrSessionEnded, "[Gateway.Do] %s %s rejected post-refresh", req.Method, req.URL.Path)
	}

	return resp, nil
}

// endSession clears the credential store and every registered cache, then
// signals the navigation layer with the originating path.
func (g *Gateway) endSession(path string) {
	g.store.Clear()

	g.lock.Lock()
	caches := make([]Invalidator, len(g.caches))
	copy(caches, g.caches)
	onEnded := g.onEnded
	g.lock.Unlock()

	for _, c := range caches {
		c.Invalidate()
	}

	g.log.Warn().Str("path", path).Msg("session ended, client state cleared")

	if onEnded != nil {
		onEnded(path)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
