package rentals_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"stay_sync/internal/adapters/rentals"
	"stay_sync/internal/domain"
)

const calendarOK = `<?xml version="1.0" encoding="utf-8"?>
<Pull_ListPropertyAvailabilityCalendar_RS>
  <Status ID="0">Success</Status>
  <PropertyCalendar PropertyID="4711">
    <CalDay Date="2024-06-01" Units="1"><IsBlocked>false</IsBlocked></CalDay>
    <CalDay Date="2024-06-02" Units="0"><IsBlocked>false</IsBlocked></CalDay>
    <CalDay Date="2024-06-03" Units="1"><IsBlocked>true</IsBlocked></CalDay>
    <CalDay><Date>2024-06-04</Date><Units>2</Units></CalDay>
    <CalDay Units="1"></CalDay>
  </PropertyCalendar>
</Pull_ListPropertyAvailabilityCalendar_RS>`

const pricesOK = `<?xml version="1.0" encoding="utf-8"?>
<Pull_ListPropertyPrices_RS>
  <Status ID="0">Success</Status>
  <Prices>
    <Season DateFrom="2024-01-01" DateTo="2024-01-31"><Price>100.00</Price></Season>
    <Season DateFrom="2024-03-01" DateTo="2024-03-31">150.50</Season>
    <Season DateFrom="2024-04-01" DateTo="2024-04-30"><Price>n/a</Price></Season>
  </Prices>
</Pull_ListPropertyPrices_RS>`

func newClient(t *testing.T, h http.Handler) *rentals.Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	cl, err := rentals.New(ts.URL, "user", "secret", 100, time.Second) // high RPS for tests
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	return cl
}

func xmlReply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, body)
	}
}

func day(s string) time.Time {
	d, _ := domain.ParseDate(s)
	return d
}

func TestClient_FetchAvailabilityCalendar(t *testing.T) {
	var gotBody string
	cl := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		xmlReply(calendarOK)(w, r)
	}))

	days, err := cl.FetchAvailabilityCalendar(context.Background(), "4711", day("2024-06-01"), day("2024-06-04"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, want := range []string{"<Pull_ListPropertyAvailabilityCalendar_RQ>", "<PropertyID>4711</PropertyID>",
		"<DateFrom>2024-06-01</DateFrom>", "<UserName>user</UserName>", "<Password>secret</Password>"} {
		if !strings.Contains(gotBody, want) {
			t.Fatalf("request body missing %s: %s", want, gotBody)
		}
	}
	// the dateless day is dropped
	if len(days) != 4 {
		t.Fatalf("expected 4 days, got %d: %+v", len(days), days)
	}
	want := []bool{true, false, false, true}
	for i, d := range days {
		if d.IsAvailable != want[i] {
			t.Fatalf("day %s available=%v, want %v", domain.FormatDate(d.Date), d.IsAvailable, want[i])
		}
	}
}

func TestClient_FetchAvailabilityCalendar_MissingCalendar(t *testing.T) {
	cl := newClient(t, xmlReply(`<Pull_ListPropertyAvailabilityCalendar_RS><Status ID="0">Success</Status></Pull_ListPropertyAvailabilityCalendar_RS>`))

	_, err := cl.FetchAvailabilityCalendar(context.Background(), "1", day("2024-06-01"), day("2024-06-02"))
	if !errors.Is(err, domain.ErrUpstreamDataMissing) {
		t.Fatalf("expected ErrUpstreamDataMissing, got %v", err)
	}
}

func TestClient_FetchSeasonalPrices(t *testing.T) {
	cl := newClient(t, xmlReply(pricesOK))

	seasons, err := cl.FetchSeasonalPrices(context.Background(), "4711", day("2024-01-01"), day("2024-06-30"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(seasons) != 2 {
		t.Fatalf("expected 2 valid seasons, got %d", len(seasons))
	}
	if seasons[0].Price.String() != "100" || seasons[1].Price.String() != "150.5" {
		t.Fatalf("unexpected prices: %s, %s", seasons[0].Price, seasons[1].Price)
	}
	if !seasons[1].DateTo.Equal(day("2024-03-31")) {
		t.Fatalf("unexpected DateTo: %v", seasons[1].DateTo)
	}
}

func TestClient_FetchSeasonalPrices_NoSeasonsIsNotAnError(t *testing.T) {
	cl := newClient(t, xmlReply(`<Pull_ListPropertyPrices_RS><Status ID="0">Success</Status><Prices></Prices></Pull_ListPropertyPrices_RS>`))

	seasons, err := cl.FetchSeasonalPrices(context.Background(), "1", day("2024-01-01"), day("2024-01-02"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(seasons) != 0 {
		t.Fatalf("expected no seasons, got %d", len(seasons))
	}
}

func TestClient_ServerErrorIsUpstreamUnavailable_NoRetry(t *testing.T) {
	var hits int32
	cl := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := cl.FetchAvailabilityCalendar(context.Background(), "1", day("2024-06-01"), day("2024-06-02"))
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected exactly one call, got %d", n)
	}
}

func TestClient_ProviderStatusError(t *testing.T) {
	cl := newClient(t, xmlReply(`<Pull_ListPropertyPrices_RS><Status ID="9">Property is not active</Status></Pull_ListPropertyPrices_RS>`))

	_, err := cl.FetchSeasonalPrices(context.Background(), "1", day("2024-01-01"), day("2024-01-02"))
	var se *rentals.StatusError
	if !errors.As(err, &se) || se.Code != "9" {
		t.Fatalf("expected StatusError code 9, got %v", err)
	}
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("StatusError should match ErrUpstreamUnavailable")
	}
}

func TestClient_TimeoutIsUpstreamUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	cl, err := rentals.New(ts.URL, "u", "p", 100, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	_, err = cl.FetchAvailabilityCalendar(context.Background(), "1", day("2024-06-01"), day("2024-06-02"))
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable on timeout, got %v", err)
	}
}

func TestClient_PushAndCancelReservation(t *testing.T) {
	cl := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		switch {
		case strings.Contains(string(b), "<Push_PutConfirmedReservationMulti_RQ>"):
			xmlReply(`<Push_PutConfirmedReservationMulti_RS><Status ID="0">Success</Status><ReservationID>998877</ReservationID></Push_PutConfirmedReservationMulti_RS>`)(w, r)
		case strings.Contains(string(b), "<Push_CancelReservation_RQ>") && strings.Contains(string(b), "<CancelTypeID>2</CancelTypeID>"):
			xmlReply(`<Push_CancelReservation_RS><Status ID="0">Success</Status></Push_CancelReservation_RS>`)(w, r)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))

	id, err := cl.PushReservation(context.Background(), domain.ReservationRequest{
		PropertyID: "4711", DateFrom: day("2024-06-01"), DateTo: day("2024-06-04"), NumberOfGuests: 2,
		RUPrice: "330.00", ClientPrice: "330.00", AlreadyPaid: "330.00", CustomerName: "Ana", CustomerSurname: "Lee",
	})
	if err != nil || id != "998877" {
		t.Fatalf("PushReservation = %q, %v", id, err)
	}
	if err := cl.CancelReservation(context.Background(), id, 2); err != nil {
		t.Fatalf("CancelReservation: %v", err)
	}
}
