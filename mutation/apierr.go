package mutation

import (
	"fmt"
	"net"
	"net/url"
	"sort"

	"github.com/pkg/errors"
)

// Response is the shape of a failure body from the remote API. Any of the
// three fields may be present; Message picks the most specific one.
type Response struct {
	Error  string              `json:"error,omitempty"`  // General human-readable message
	Errors []string            `json:"errors,omitempty"` // General messages, first one wins
	Fields map[string][]string `json:"fields,omitempty"` // Per-field validation messages
}

// APIError is a non-2xx response from the remote API with its decoded body.
type APIError struct {
	Status int
	Body   Response
}

func (e *APIError) Error() string {
	if msg := e.Body.message(); msg != "" {
		return fmt.Sprintf("api error (status %d): %s", e.Status, msg)
	}
	return fmt.Sprintf("api error (status %d)", e.Status)
}

const (
	networkUnreachableMessage = "server unreachable, check your connection"
	genericFailureMessage     = "something went wrong, please try again"
)

// Message derives the user-facing notification text for a failed mutation.
// Priority order: a field-level message, a general message from the body, a
// network-unreachable message, then a generic fallback.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if msg := apiErr.Body.message(); msg != "" {
			return msg
		}
		return genericFailureMessage
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return networkUnreachableMessage
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return networkUnreachableMessage
	}

	return genericFailureMessage
}

func (r Response) message() string {
	if len(r.Fields) > 0 {
		// Deterministic pick: lowest field name, first message.
		names := make([]string, 0, len(r.Fields))
		for name := range r.Fields {
			if len(r.Fields[name]) > 0 {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			sort.Strings(names)
			return fmt.Sprintf("%s: %s", names[0], r.Fields[names[0]][0])
		}
	}
	if r.Error != "" {
		return r.Error
	}
	if len(r.Errors) > 0 {
		return r.Errors[0]
	}
	return ""
}
