// internal/adapters/rentals/client.go
package rentals

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stay_sync/internal/adapters/observability"
	"stay_sync/internal/domain"
)

const maxBody = 16 << 20

type Client struct {
	base    string
	hc      *http.Client
	auth    authentication
	rl      *rate.Limiter
	timeout time.Duration
}

func New(base, user, pass string, rps int, timeout time.Duration) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if rps <= 0 {
		rps = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:    base,
		hc:      &http.Client{Timeout: timeout + 5*time.Second},
		auth:    authentication{UserName: user, Password: pass},
		rl:      rate.NewLimiter(rate.Limit(rps), rps),
		timeout: timeout,
	}, nil
}

// ---- Public API ----

func (c *Client) FetchAvailabilityCalendar(ctx context.Context, propertyID string, from, to time.Time) ([]domain.AvailabilityDay, error) {
	rq := calendarRQ{Authentication: c.auth, PropertyID: propertyID, DateFrom: fmtDate(from), DateTo: fmtDate(to)}
	var rs calendarRS
	if err := c.post(ctx, "availability_calendar", rq, &rs); err != nil {
		return nil, err
	}
	if rs.PropertyCalendar == nil {
		return nil, fmt.Errorf("availability_calendar %s: no PropertyCalendar: %w", propertyID, domain.ErrUpstreamDataMissing)
	}
	if len(rs.PropertyCalendar.CalDays) == 0 {
		return nil, fmt.Errorf("availability_calendar %s: no CalDay: %w", propertyID, domain.ErrUpstreamDataMissing)
	}
	days := toAvailabilityDays(propertyID, rs.PropertyCalendar.CalDays)
	if len(days) == 0 {
		return nil, fmt.Errorf("availability_calendar %s: no usable CalDay: %w", propertyID, domain.ErrUpstreamDataMissing)
	}
	return days, nil
}

// FetchSeasonalPrices returns the unit's seasons in upstream order. A unit
// without pricing yields an empty slice and no error.
func (c *Client) FetchSeasonalPrices(ctx context.Context, propertyID string, from, to time.Time) ([]domain.SeasonPriceInterval, error) {
	rq := pricesRQ{Authentication: c.auth, PropertyID: propertyID, DateFrom: fmtDate(from), DateTo: fmtDate(to)}
	var rs pricesRS
	if err := c.post(ctx, "property_prices", rq, &rs); err != nil {
		return nil, err
	}
	if rs.Prices == nil || len(rs.Prices.Seasons) == 0 {
		return nil, nil
	}
	return toSeasons(propertyID, rs.Prices.Seasons), nil
}

// PushReservation creates a confirmed reservation upstream and returns its id.
func (c *Client) PushReservation(ctx context.Context, r domain.ReservationRequest) (string, error) {
	rq := putReservationRQ{Authentication: c.auth}
	rq.Reservation.StayInfos.StayInfo = []stayInfo{{
		PropertyID:     r.PropertyID,
		DateFrom:       fmtDate(r.DateFrom),
		DateTo:         fmtDate(r.DateTo),
		NumberOfGuests: r.NumberOfGuests,
		Costs: stayCosts{
			RUPrice:           r.RUPrice,
			ClientPrice:       r.ClientPrice,
			AlreadyPaid:       r.AlreadyPaid,
			ChannelCommission: "0.00",
		},
	}}
	rq.Reservation.CustomerInfo = customerInfo{
		Name: r.CustomerName, SurName: r.CustomerSurname, Email: r.CustomerEmail, Phone: r.CustomerPhone,
	}
	rq.Reservation.Comments = r.Comments

	var rs putReservationRS
	if err := c.post(ctx, "put_reservation", rq, &rs); err != nil {
		return "", err
	}
	id := strings.TrimSpace(rs.ReservationID)
	if id == "" {
		return "", fmt.Errorf("put_reservation: no ReservationID: %w", domain.ErrUpstreamDataMissing)
	}
	return id, nil
}

// CancelReservation cancels upstream; cancelTypeID 1 = by owner, 2 = by guest.
func (c *Client) CancelReservation(ctx context.Context, reservationID string, cancelTypeID int) error {
	rq := cancelReservationRQ{Authentication: c.auth, ReservationID: reservationID, CancelTypeID: cancelTypeID}
	var rs cancelReservationRS
	return c.post(ctx, "cancel_reservation", rq, &rs)
}

// ---- Internals ----

// StatusError is a provider-level rejection reported inside a 2xx response.
type StatusError struct {
	Op      string
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rentals %s: status %s: %s", e.Op, e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool { return target == domain.ErrUpstreamUnavailable }

// post sends one XML request with client-side rate limiting and a bounded
// timeout, then decodes the response into out. It does not retry.
func (c *Client) post(ctx context.Context, op string, rq any, out statusCarrier) error {
	if err := c.rl.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUpstreamUnavailable, err)
	}

	body, err := xml.Marshal(rq)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Accept", "application/xml")
	req.Header.Set("User-Agent", "stay-sync/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("rentals", op, 0, time.Since(start))
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal("rentals", op, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// decode below

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: remote %d: %w: %w", op, resp.StatusCode, domain.ErrUpstreamUnavailable, domain.ErrUnauthorized)

	default:
		// read a small error body for diagnostics
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: remote %d: %s: %w", op, resp.StatusCode, strings.TrimSpace(string(b)), domain.ErrUpstreamUnavailable)
	}

	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) || ctx.Err() == nil {
			return fmt.Errorf("%s: decode response: %v: %w", op, err, domain.ErrUpstreamDataMissing)
		}
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUpstreamUnavailable, err)
	}

	st, rserr := out.status()
	if rserr != nil {
		return &StatusError{Op: op, Code: strings.TrimSpace(rserr.ID), Message: strings.TrimSpace(rserr.Message)}
	}
	if !st.ok() {
		return &StatusError{Op: op, Code: strings.TrimSpace(st.ID), Message: strings.TrimSpace(st.Message)}
	}
	return nil
}
