package rentals

import (
	"bytes"
	"crypto/subtle"
	"encoding/xml"
	"fmt"
	"strings"

	"stay_sync/internal/domain"
)

// Webhook methods announced in the RU-RLNM-Method header.
const (
	MethodConfirmed   = "LNM_PutConfirmedReservation_RQ"
	MethodCancelled   = "LNM_CancelReservation_RQ"
	MethodUnconfirmed = "LNM_PutUnconfirmedReservation_RQ"
	MethodLead        = "LNM_PutLeadReservation_RQ"
)

type lnmConfirmed struct {
	Authentication authentication `xml:"Authentication"`
	Reservation    struct {
		ReservationID string `xml:"ReservationID"`
		StayInfos     struct {
			StayInfo []stayInfo `xml:"StayInfo"`
		} `xml:"StayInfos"`
		Creator string `xml:"Creator"`
	} `xml:"Reservation"`
}

type lnmCancelled struct {
	Authentication authentication `xml:"Authentication"`
	ReservationID  string         `xml:"ReservationID"`
}

// Webhook is a parsed push notification from the provider.
type Webhook struct {
	Method   string
	Password string
	Events   []domain.ReservationEvent
}

// Authenticate checks the pushed password against the configured hash.
// An empty hash disables the check.
func (w Webhook) Authenticate(hash string) error {
	if hash == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(w.Password), []byte(hash)) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}

// ParseWebhook decodes a push notification. When method is empty it is taken
// from the document's root element. Unconfirmed and lead reservations come
// back with domain.ErrIgnoredEvent.
func ParseWebhook(method string, body []byte) (Webhook, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		m, err := rootElement(body)
		if err != nil {
			return Webhook{}, err
		}
		method = m
	}
	w := Webhook{Method: method}

	switch method {
	case MethodConfirmed:
		var rq lnmConfirmed
		if err := xml.Unmarshal(body, &rq); err != nil {
			return w, fmt.Errorf("decode %s: %w", method, err)
		}
		w.Password = rq.Authentication.Password
		resID := strings.TrimSpace(rq.Reservation.ReservationID)
		if resID == "" || len(rq.Reservation.StayInfos.StayInfo) == 0 {
			return w, fmt.Errorf("%s: missing ReservationID or StayInfo: %w", method, domain.ErrUpstreamDataMissing)
		}
		for _, si := range rq.Reservation.StayInfos.StayInfo {
			from, ferr := domain.ParseDate(strings.TrimSpace(si.DateFrom))
			to, terr := domain.ParseDate(strings.TrimSpace(si.DateTo))
			if ferr != nil || terr != nil || strings.TrimSpace(si.PropertyID) == "" {
				return w, fmt.Errorf("%s %s: bad stay info: %w", method, resID, domain.ErrUpstreamDataMissing)
			}
			w.Events = append(w.Events, domain.ReservationEvent{
				Kind:               domain.ReservationConfirmed,
				ReservationID:      resID,
				UpstreamPropertyID: strings.TrimSpace(si.PropertyID),
				DateFrom:           from,
				DateTo:             to,
			})
		}
		return w, nil

	case MethodCancelled:
		var rq lnmCancelled
		if err := xml.Unmarshal(body, &rq); err != nil {
			return w, fmt.Errorf("decode %s: %w", method, err)
		}
		w.Password = rq.Authentication.Password
		resID := strings.TrimSpace(rq.ReservationID)
		if resID == "" {
			return w, fmt.Errorf("%s: missing ReservationID: %w", method, domain.ErrUpstreamDataMissing)
		}
		w.Events = []domain.ReservationEvent{{Kind: domain.ReservationCancelled, ReservationID: resID}}
		return w, nil

	case MethodUnconfirmed, MethodLead:
		var rq struct {
			Authentication authentication `xml:"Authentication"`
		}
		_ = xml.Unmarshal(body, &rq)
		w.Password = rq.Authentication.Password
		return w, domain.ErrIgnoredEvent

	default:
		var rq struct {
			Authentication authentication `xml:"Authentication"`
		}
		_ = xml.Unmarshal(body, &rq)
		w.Password = rq.Authentication.Password
		return w, fmt.Errorf("unknown webhook method %q: %w", method, domain.ErrIgnoredEvent)
	}
}

func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("find root element: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}
