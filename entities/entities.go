package entities

import (
	"time"

	"github.com/iotfleet/fleetadmin/credentials"
)

// Keyed is implemented by every managed record. The key is the record's
// stable identifier (id or slug) and must be unique within its cache.
type Keyed interface {
	Key() string
}

// Device is one managed field device.
type Device struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name,omitempty"`
	CompanySlug string    `json:"company_slug,omitempty"` // Owning company, empty when dealer-owned
	DealerSlug  string    `json:"dealer_slug,omitempty"`  // Owning dealer, empty when company-owned
	SensorLimit *int      `json:"sensor_limit,omitempty"` // Nil means unlimited
	Active      bool      `json:"active,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

func (d Device) Key() string { return d.ID }

// Sensor is a measurement channel attached to a device.
type Sensor struct {
	ID                string `json:"id,omitempty"`
	DeviceID          string `json:"device_id,omitempty"`
	Kind              string `json:"kind,omitempty"` // e.g. temperature, humidity, vibration
	Unit              string `json:"unit,omitempty"`
	ReportingInterval int    `json:"reporting_interval,omitempty"` // Seconds between readings
}

func (s Sensor) Key() string { return s.ID }

// Company is a customer organisation that owns devices.
type Company struct {
	Slug         string `json:"slug,omitempty"`
	Name         string `json:"name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

func (c Company) Key() string { return c.Slug }

// Dealer is a reseller responsible for a set of companies and devices.
type Dealer struct {
	Slug        string `json:"slug,omitempty"`
	Name        string `json:"name,omitempty"`
	Region      string `json:"region,omitempty"`
	DeviceQuota int    `json:"device_quota,omitempty"`
}

func (d Dealer) Key() string { return d.Slug }

// User is an admin portal account. Exactly one of CompanySlug and DealerSlug
// is set for scoped roles; both are empty for super admins. That constraint
// is enforced by the form layer before a candidate reaches this package.
type User struct {
	ID          string                 `json:"id,omitempty"`
	Email       string                 `json:"email,omitempty"`
	FirstName   string                 `json:"first_name,omitempty"`
	LastName    string                 `json:"last_name,omitempty"`
	Roles       []credentials.RoleType `json:"roles,omitempty"`
	CompanySlug string                 `json:"company_slug,omitempty"`
	DealerSlug  string                 `json:"dealer_slug,omitempty"`
	Active      bool                   `json:"active,omitempty"`
}

func (u User) Key() string { return u.ID }
