// internal/adapters/http_server/handlers.go
package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"stay_sync/internal/adapters/rentals"
	"stay_sync/internal/app"
	"stay_sync/internal/domain"
	"stay_sync/internal/scheduler"
)

const maxWebhookBody = 1 << 20

// Syncer runs and reports sync passes; *scheduler.Daily satisfies it.
type Syncer interface {
	Trigger(ctx context.Context) (domain.SyncRunResult, error)
	LastRun() *scheduler.RunReport
	IsStale(now time.Time) bool
}

type StatusReporter interface {
	Status(ctx context.Context) (domain.SyncStatus, error)
}

type Handlers struct {
	Q           *app.QueryService
	Inv         *app.Invalidator
	Sync        Syncer
	Status      StatusReporter
	WebhookHash string

	validate *validator.Validate
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	h.validate = validator.New(validator.WithRequiredStructEnabled())

	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(s.timeout))
		r.Get("/v1/search", h.search)
		r.Get("/v1/units/{id}/quote", h.quote)
		r.Get("/v1/admin/sync/status", h.syncStatus)
		r.Post("/v1/bookings/events", h.bookingEvent)
		r.Post("/v1/webhooks/rentals", h.rentalsWebhook)
	})

	s.mux.Post("/v1/admin/sync", h.triggerSync)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeCacheable(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

// money rounds for display only; totals stay exact inside the app.
func money(d decimal.Decimal) json.Number { return json.Number(d.StringFixed(2)) }

func parseStay(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := domain.ParseDate(q.Get("checkIn"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("checkIn must be YYYY-MM-DD")
	}
	to, err := domain.ParseDate(q.Get("checkOut"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("checkOut must be YYYY-MM-DD")
	}
	return from, to, nil
}

// ---- guest reads ----

type searchItem struct {
	UnitID        int64       `json:"unitId"`
	BuildingID    string      `json:"buildingId"`
	Name          string      `json:"name"`
	RoomType      string      `json:"roomType"`
	Nights        int         `json:"nights"`
	TotalPrice    json.Number `json:"totalPrice"`
	PricePerNight json.Number `json:"pricePerNight"`
}

type searchResponse struct {
	CheckIn  string       `json:"checkIn"`
	CheckOut string       `json:"checkOut"`
	Count    int          `json:"count"`
	Results  []searchItem `json:"results"`
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseStay(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid dates", err.Error())
		return
	}
	f := domain.UnitFilter{BuildingID: r.URL.Query().Get("buildingId"), RoomType: r.URL.Query().Get("roomType")}

	results, err := h.Q.Search(r.Context(), from, to, f)
	if errors.Is(err, domain.ErrInvalidRange) {
		writeProblem(w, http.StatusBadRequest, "Invalid dates", err.Error())
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("search failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "search failed")
		return
	}

	out := searchResponse{CheckIn: domain.FormatDate(from), CheckOut: domain.FormatDate(to), Count: len(results), Results: make([]searchItem, 0, len(results))}
	for _, res := range results {
		out.Results = append(out.Results, searchItem{
			UnitID:        res.Unit.ID,
			BuildingID:    res.Unit.BuildingID,
			Name:          res.Unit.Name,
			RoomType:      res.Unit.RoomType,
			Nights:        res.Nights,
			TotalPrice:    money(res.TotalPrice),
			PricePerNight: money(res.PricePerNight),
		})
	}
	writeCacheable(w, r, out)
}

type dayItem struct {
	Date        string      `json:"date"`
	Price       json.Number `json:"price"`
	IsAvailable bool        `json:"isAvailable"`
}

type quoteResponse struct {
	UnitID         int64        `json:"unitId"`
	CheckIn        string       `json:"checkIn"`
	CheckOut       string       `json:"checkOut"`
	Status         string       `json:"status"`
	Available      bool         `json:"available"`
	Nights         int          `json:"nights"`
	CachedDays     int          `json:"cachedDays"`
	TotalPrice     *json.Number `json:"totalPrice,omitempty"`
	PricePerNight  *json.Number `json:"pricePerNight,omitempty"`
	DailyBreakdown []dayItem    `json:"dailyBreakdown,omitempty"`
}

func (h *Handlers) quote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	from, to, err := parseStay(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid dates", err.Error())
		return
	}

	q, err := h.Q.Quote(r.Context(), id, from, to)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "unit not found")
		return
	case errors.Is(err, domain.ErrInvalidRange):
		writeProblem(w, http.StatusBadRequest, "Invalid dates", err.Error())
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Int64("unit", id).Msg("quote failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "quote failed")
		return
	}

	out := quoteResponse{
		UnitID:     q.UnitID,
		CheckIn:    domain.FormatDate(q.CheckIn),
		CheckOut:   domain.FormatDate(q.CheckOut),
		Status:     string(q.Status),
		Available:  q.Available(),
		Nights:     q.Nights,
		CachedDays: q.CachedDays,
	}
	if q.Status != app.QuoteInsufficientData {
		total, avg := money(q.TotalPrice), money(q.PricePerNight)
		out.TotalPrice, out.PricePerNight = &total, &avg
		for _, d := range q.DailyBreakdown {
			out.DailyBreakdown = append(out.DailyBreakdown, dayItem{Date: domain.FormatDate(d.Date), Price: money(d.Price), IsAvailable: d.IsAvailable})
		}
	}
	writeCacheable(w, r, out)
}

// ---- admin ----

type runResponse struct {
	RunID        string    `json:"runId"`
	StartedAt    time.Time `json:"startedAt"`
	SuccessCount int       `json:"successCount"`
	SkippedCount int       `json:"skippedCount"`
	ErrorCount   int       `json:"errorCount"`
	DurationMs   int64     `json:"durationMs"`
}

func toRunResponse(res domain.SyncRunResult) runResponse {
	return runResponse{
		RunID:        res.RunID,
		StartedAt:    res.StartedAt,
		SuccessCount: res.SuccessCount,
		SkippedCount: res.SkippedCount,
		ErrorCount:   res.ErrorCount,
		DurationMs:   res.Duration.Milliseconds(),
	}
}

func (h *Handlers) triggerSync(w http.ResponseWriter, r *http.Request) {
	// A client hanging up must not abort a pass halfway.
	res, err := h.Sync.Trigger(context.WithoutCancel(r.Context()))
	if errors.Is(err, domain.ErrSyncInProgress) {
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("manual sync failed")
		writeProblem(w, http.StatusInternalServerError, "Sync Failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(res))
}

type lastRunResponse struct {
	runResponse
	CleanupDeleted int64     `json:"cleanupDeleted"`
	Error          string    `json:"error,omitempty"`
	CleanupError   string    `json:"cleanupError,omitempty"`
	FinishedAt     time.Time `json:"finishedAt"`
}

type statusResponse struct {
	TotalRecords    int64            `json:"totalRecords"`
	ActiveUnits     int64            `json:"activeUnits"`
	ExpectedRecords int64            `json:"expectedRecords"`
	CoveragePercent float64          `json:"coveragePercent"`
	LastSyncedAt    *time.Time       `json:"lastSyncedAt"`
	Health          string           `json:"health"`
	Stale           bool             `json:"stale"`
	LastRun         *lastRunResponse `json:"lastRun,omitempty"`
}

func (h *Handlers) syncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Status.Status(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("sync status failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "status unavailable")
		return
	}
	out := statusResponse{
		TotalRecords:    st.TotalRecords,
		ActiveUnits:     st.ActiveUnits,
		ExpectedRecords: st.ExpectedRecords,
		CoveragePercent: math.Round(st.CoveragePercent*100) / 100,
		LastSyncedAt:    st.LastSyncedAt,
		Health:          string(st.Health),
		Stale:           h.Sync.IsStale(time.Now()),
	}
	if rep := h.Sync.LastRun(); rep != nil {
		lr := &lastRunResponse{runResponse: toRunResponse(rep.Result), CleanupDeleted: rep.CleanupDeleted, FinishedAt: rep.FinishedAt}
		if rep.Err != nil {
			lr.Error = rep.Err.Error()
		}
		if rep.CleanupErr != nil {
			lr.CleanupError = rep.CleanupErr.Error()
		}
		out.LastRun = lr
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- reservation events ----

type bookingEventRequest struct {
	Type          string `json:"type" validate:"required,oneof=confirmed cancelled"`
	UnitID        int64  `json:"unitId" validate:"required,gt=0"`
	CheckIn       string `json:"checkIn" validate:"required,datetime=2006-01-02"`
	CheckOut      string `json:"checkOut" validate:"required,datetime=2006-01-02"`
	ReservationID string `json:"reservationId" validate:"omitempty,max=64"`
}

// bookingEvent applies a local booking change to the cache. The booking
// itself already happened, so cache failures are logged and still answered 202.
func (h *Handlers) bookingEvent(w http.ResponseWriter, r *http.Request) {
	var req bookingEventRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	from, _ := domain.ParseDate(req.CheckIn)
	to, _ := domain.ParseDate(req.CheckOut)
	if _, _, _, err := domain.StayRange(from, to); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid dates", err.Error())
		return
	}

	ev := domain.ReservationEvent{
		Kind:          domain.ReservationEventKind(req.Type),
		ReservationID: req.ReservationID,
		UnitID:        req.UnitID,
		DateFrom:      from,
		DateTo:        to,
	}
	if err := h.Inv.ApplyEvent(r.Context(), ev); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Int64("unit", req.UnitID).Str("type", req.Type).Msg("booking event not applied to cache")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// rentalsWebhook handles provider push notifications. Content errors are
// logged and acknowledged; only unreadable bodies and bad credentials fail.
func (h *Handlers) rentalsWebhook(w http.ResponseWriter, r *http.Request) {
	l := zerolog.Ctx(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "could not read body")
		return
	}

	hook, perr := rentals.ParseWebhook(r.Header.Get("RU-RLNM-Method"), body)
	if perr != nil && !errors.Is(perr, domain.ErrIgnoredEvent) {
		l.Warn().Err(perr).Str("method", hook.Method).Msg("webhook rejected")
		writeProblem(w, http.StatusBadRequest, "Invalid webhook", perr.Error())
		return
	}
	if err := hook.Authenticate(h.WebhookHash); err != nil {
		l.Warn().Str("method", hook.Method).Str("remote", remoteHost(r.RemoteAddr)).Msg("webhook authentication failed")
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
		return
	}
	if perr != nil {
		l.Info().Str("method", hook.Method).Msg("webhook ignored")
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	for _, ev := range hook.Events {
		if err := h.Inv.ApplyEvent(r.Context(), ev); err != nil {
			l.Warn().Err(err).Str("reservation", ev.ReservationID).Str("property", ev.UpstreamPropertyID).
				Msg("webhook event not applied to cache")
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
