// Package ntp provides NTP servers as clock synchronizer references.
package ntp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// ErrInvalidResponse wraps a server answer that failed validation.
var ErrInvalidResponse = errors.New("ntp: invalid response")

const defaultTimeout = 2 * time.Second

type queryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// Reference queries one NTP server.
type Reference struct {
	host  string
	query queryFunc
}

// New returns a reference for host, with an optional ":port".
func New(host string) *Reference {
	return &Reference{host: host, query: ntp.QueryWithOptions}
}

// References returns one reference per host.
func References(hosts []string) []*Reference {
	out := make([]*Reference, len(hosts))
	for i, h := range hosts {
		out[i] = New(h)
	}
	return out
}

// Name returns the server host.
func (r *Reference) Name() string { return r.host }

// Query returns the server's clock minus the host wall clock. The context
// deadline bounds the exchange.
func (r *Reference) Query(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := defaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
		if timeout <= 0 {
			return 0, context.DeadlineExceeded
		}
	}

	resp, err := r.query(r.host, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("ntp: query %s: %w", r.host, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("%w from %s: %w", ErrInvalidResponse, r.host, err)
	}
	return resp.ClockOffset, nil
}
