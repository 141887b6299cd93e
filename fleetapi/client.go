// Package fleetapi is the client of the remote fleet administration API. It
// owns the session wiring (credential store, refresh coordinator, session
// gateway) and exposes per-entity caches and mutation operations to the list
// views.
package fleetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/iotfleet/fleetadmin/credentials"
	"github.com/iotfleet/fleetadmin/entities"
	"github.com/iotfleet/fleetadmin/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Client talks to the fleet admin API. Login, refresh and anti-forgery
// issuance go to the server directly; everything else goes through the
// session gateway.
type Client struct {
	baseURL string
	raw     *http.Client
	store   *credentials.Store
	coord   *session.Coordinator
	gateway *session.Gateway
	log     zerolog.Logger

	devices   *entities.Cache[entities.Device]
	sensors   *entities.Cache[entities.Sensor]
	companies *entities.Cache[entities.Company]
	dealers   *entities.Cache[entities.Dealer]
	users     *entities.Cache[entities.User]
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	log        zerolog.Logger
	nowFunc    func() time.Time
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger shared by the client and its session components.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.log = log
	}
}

// WithClientNowFunc sets the now time function (primarily for testing)
func WithClientNowFunc(now func() time.Time) ClientOption {
	return func(c *clientConfig) {
		c.nowFunc = now
	}
}

func New(baseURL string, options ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[fleetapi.New] baseURL is required")
	}

	cfg := clientConfig{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zerolog.Nop(),
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(&cfg)
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		raw:       cfg.httpClient,
		store:     credentials.NewStore(),
		log:       cfg.log,
		devices:   entities.NewCache[entities.Device](),
		sensors:   entities.NewCache[entities.Sensor](),
		companies: entities.NewCache[entities.Company](),
		dealers:   entities.NewCache[entities.Dealer](),
		users:     entities.NewCache[entities.User](),
	}

	coord, err := session.NewCoordinator(c.store, c.RefreshCredential,
		session.WithNowFunc(cfg.nowFunc),
		session.WithCoordinatorLogger(cfg.log),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[fleetapi.New] coordinator")
	}
	c.coord = coord

	gateway, err := session.NewGateway(cfg.httpClient, coord, c.store, c.FetchCSRFToken,
		session.WithGatewayLogger(cfg.log),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[fleetapi.New] gateway")
	}
	c.gateway = gateway

	gateway.RegisterInvalidator(c.devices)
	gateway.RegisterInvalidator(c.sensors)
	gateway.RegisterInvalidator(c.companies)
	gateway.RegisterInvalidator(c.dealers)
	gateway.RegisterInvalidator(c.users)

	return c, nil
}

// OnSessionEnded registers the navigation layer's redirect hook.
func (c *Client) OnSessionEnded(fn session.SessionEndedFunc) {
	c.gateway.OnSessionEnded(fn)
}

// Store exposes the credential store for consumers that need the identity
// (role-based UI visibility).
func (c *Client) Store() *credentials.Store {
	return c.store
}

// Gateway exposes the session gateway for ad hoc authenticated requests.
func (c *Client) Gateway() *session.Gateway {
	return c.gateway
}

type tokenResponse struct {
	Token string `json:"token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates and installs the returned credential.
func (c *Client) Login(ctx context.Context, email, password string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/login", loginRequest{Email: email, Password: password})
	if err != nil {
		return errors.Wrap(err, "[Client.Login] build request")
	}

	var tr tokenResponse
	if err := c.doRaw(req, &tr); err != nil {
		return errors.Wrap(err, "[Client.Login]")
	}

	cred, err := credentials.FromToken(tr.Token)
	if err != nil {
		return errors.Wrap(err, "[Client.Login] decode credential")
	}

	c.store.Replace(cred)
	c.log.Info().Str("user", cred.Identity.ID).Msg("logged in")
	return nil
}

// Logout is the one global cancellation: it clears the credential store and
// every cache immediately. The server call is best-effort; in-flight
// mutations that resolve against the stale session fail at the gateway and
// roll back harmlessly.
func (c *Client) Logout(ctx context.Context) {
	if cred, ok := c.store.Current(); ok {
		if req, err := c.newRequest(ctx, http.MethodPost, "/api/logout", nil); err == nil {
			req.Header.Set("Authorization", "Bearer "+cred.Token)
			if resp, err := c.raw.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}

	c.store.Clear()
	c.devices.Invalidate()
	c.sensors.Invalidate()
	c.companies.Invalidate()
	c.dealers.Invalidate()
	c.users.Invalidate()
	c.log.Info().Msg("logged out")
}

type refreshRequest struct {
	Token string `json:"token"`
}

// RefreshCredential exchanges the held (possibly expired) token for a fresh
// one. Wired into the refresh coordinator; never call it directly from
// request paths, EnsureFresh serializes it.
func (c *Client) RefreshCredential(ctx context.Context) (*credentials.Credential, error) {
	cred, ok := c.store.Current()
	if !ok {
		return nil, errors.New("[Client.RefreshCredential] no credential to refresh")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/refresh", refreshRequest{Token: cred.Token})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.RefreshCredential] build request")
	}

	var tr tokenResponse
	if err := c.doRaw(req, &tr); err != nil {
		return nil, errors.Wrap(err, "[Client.RefreshCredential]")
	}

	return credentials.FromToken(tr.Token)
}

// FetchCSRFToken obtains a single-use anti-forgery token. The gateway calls
// it once per mutating request.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/csrf", nil)
	if err != nil {
		return "", errors.Wrap(err, "[Client.FetchCSRFToken] build request")
	}

	var tr tokenResponse
	if err := c.doRaw(req, &tr); err != nil {
		return "", errors.Wrap(err, "[Client.FetchCSRFToken]")
	}
	return tr.Token, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal body")
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doRaw dispatches outside the gateway (login, refresh, csrf) and decodes the
// response, mapping non-2xx statuses to the mutation error taxonomy.
func (c *Client) doRaw(req *http.Request, out any) error {
	resp, err := c.raw.Do(req)
	if err != nil {
		return errors.Wrap(err, "dispatch")
	}
	defer resp.Body.Close()
	return decodeInto(resp, out)
}
