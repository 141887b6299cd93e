package fleetapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/iotfleet/fleetadmin/entities"
	"github.com/iotfleet/fleetadmin/mutation"
	"github.com/pkg/errors"
)

// resourceOps implements mutation.Ops for one entity collection. The input
// type for creates is the record itself; the server ignores the client key
// and assigns its own.
type resourceOps[T entities.Keyed] struct {
	client *Client
	base   string
}

func (o resourceOps[T]) Edit(ctx context.Context, item T) (T, error) {
	return doJSON[T](ctx, o.client, http.MethodPut, o.base+"/"+url.PathEscape(item.Key()), item)
}

func (o resourceOps[T]) Remove(ctx context.Context, item T) error {
	_, err := doJSON[struct{}](ctx, o.client, http.MethodDelete, o.base+"/"+url.PathEscape(item.Key()), nil)
	return err
}

func (o resourceOps[T]) Add(ctx context.Context, input T) (T, error) {
	return doJSON[T](ctx, o.client, http.MethodPost, o.base, input)
}

// load fetches a full collection into its cache.
func load[T entities.Keyed](ctx context.Context, c *Client, base string, cache *entities.Cache[T]) error {
	items, err := doJSON[[]T](ctx, c, http.MethodGet, base, nil)
	if err != nil {
		return err
	}
	cache.ReplaceAll(items)
	return nil
}

// doJSON sends one request through the session gateway and decodes the JSON
// response, mapping non-2xx statuses to *mutation.APIError.
func doJSON[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return zero, errors.Wrap(err, "[doJSON] build request")
	}

	resp, err := c.gateway.Do(ctx, req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	var out T
	if err := decodeInto(resp, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// decodeInto maps a failure status to *mutation.APIError and otherwise
// decodes the body into out (skipped for empty bodies and nil out).
func decodeInto(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &mutation.APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, &apiErr.Body)
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response body")
	}
	return nil
}

const (
	devicesPath   = "/api/devices"
	sensorsPath   = "/api/sensors"
	companiesPath = "/api/companies"
	dealersPath   = "/api/dealers"
	usersPath     = "/api/users"
)

// Devices returns the device cache consumed by the device list view.
func (c *Client) Devices() *entities.Cache[entities.Device] { return c.devices }

// Sensors returns the sensor cache.
func (c *Client) Sensors() *entities.Cache[entities.Sensor] { return c.sensors }

// Companies returns the company cache.
func (c *Client) Companies() *entities.Cache[entities.Company] { return c.companies }

// Dealers returns the dealer cache.
func (c *Client) Dealers() *entities.Cache[entities.Dealer] { return c.dealers }

// Users returns the user cache.
func (c *Client) Users() *entities.Cache[entities.User] { return c.users }

// DeviceOps returns the network operations for device mutations.
func (c *Client) DeviceOps() mutation.Ops[entities.Device, entities.Device] {
	return resourceOps[entities.Device]{client: c, base: devicesPath}
}

// SensorOps returns the network operations for sensor mutations.
func (c *Client) SensorOps() mutation.Ops[entities.Sensor, entities.Sensor] {
	return resourceOps[entities.Sensor]{client: c, base: sensorsPath}
}

// CompanyOps returns the network operations for company mutations.
func (c *Client) CompanyOps() mutation.Ops[entities.Company, entities.Company] {
	return resourceOps[entities.Company]{client: c, base: companiesPath}
}

// DealerOps returns the network operations for dealer mutations.
func (c *Client) DealerOps() mutation.Ops[entities.Dealer, entities.Dealer] {
	return resourceOps[entities.Dealer]{client: c, base: dealersPath}
}

// UserOps returns the network operations for user mutations.
func (c *Client) UserOps() mutation.Ops[entities.User, entities.User] {
	return resourceOps[entities.User]{client: c, base: usersPath}
}

// LoadDevices fetches the device collection into its cache.
func (c *Client) LoadDevices(ctx context.Context) error {
	return errors.Wrap(load(ctx, c, devicesPath, c.devices), "[Client.LoadDevices]")
}

// LoadSensors fetches the sensor collection into its cache.
func (c *Client) LoadSensors(ctx context.Context) error {
	return errors.Wrap(load(ctx, c, sensorsPath, c.sensors), "[Client.LoadSensors]")
}

// LoadCompanies fetches the company collection into its cache.
func (c *Client) LoadCompanies(ctx context.Context) error {
	return errors.Wrap(load(ctx, c, companiesPath, c.companies), "[Client.LoadCompanies]")
}

// LoadDealers fetches the dealer collection into its cache.
func (c *Client) LoadDealers(ctx context.Context) error {
	return errors.Wrap(load(ctx, c, dealersPath, c.dealers), "[Client.LoadDealers]")
}

// LoadUsers fetches the user collection into its cache.
func (c *Client) LoadUsers(ctx context.Context) error {
	return errors.Wrap(load(ctx, c, usersPath, c.users), "[Client.LoadUsers]")
}

// LoadAll fetches every collection. Used after login.
func (c *Client) LoadAll(ctx context.Context) error {
	for _, loadFn := range []func(context.Context) error{
		c.LoadDevices,
		c.LoadSensors,
		c.LoadCompanies,
		c.LoadDealers,
		c.LoadUsers,
	} {
		if err := loadFn(ctx); err != nil {
			return err
		}
	}
	return nil
}
