package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/service"
)

type BookingHandler struct {
	svc         *service.Service
	createLimit func(http.HandlerFunc) http.HandlerFunc
}

func NewBookingHandler(svc *service.Service) *BookingHandler {
	return &BookingHandler{svc: svc}
}

// LimitCreate guards booking creation, the only endpoint that starts work
// in other services.
func (h *BookingHandler) LimitCreate(limit func(http.HandlerFunc) http.HandlerFunc) {
	h.createLimit = limit
}

func (h *BookingHandler) Register(mux *http.ServeMux) {
	create := http.HandlerFunc(h.Create)
	if h.createLimit != nil {
		create = h.createLimit(create)
	}
	mux.Handle("POST /v1/bookings", create)
	mux.HandleFunc("GET /v1/bookings", h.List)
	mux.HandleFunc("GET /v1/bookings/{id}", h.Get)
	mux.HandleFunc("POST /v1/bookings/{id}/cancel", h.Cancel)
}

type createBookingRequest struct {
	UserID         string `json:"user_id"`
	CheckIn        string `json:"check_in"`
	CheckOut       string `json:"check_out"`
	IncludeFlights bool   `json:"include_flights"`
	IncludeHotel   bool   `json:"include_hotel"`
	IncludeCar     bool   `json:"include_car"`
}

type createBookingResponse struct {
	BookingID       string `json:"booking_id"`
	ReferenceNumber string `json:"reference_number"`
	Status          string `json:"status"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

type stepItem struct {
	Type             string `json:"type"`
	Status           string `json:"status"`
	ExternalID       string `json:"external_id,omitempty"`
	Price            int64  `json:"price"`
	ConfirmationCode string `json:"confirmation_code,omitempty"`
	Error            string `json:"error,omitempty"`
}

type bookingResponse struct {
	BookingID        string     `json:"booking_id"`
	UserID           string     `json:"user_id"`
	ReferenceNumber  string     `json:"reference_number"`
	Status           string     `json:"status"`
	Phase            string     `json:"phase"`
	CheckIn          string     `json:"check_in"`
	CheckOut         string     `json:"check_out"`
	IncludeFlights   bool       `json:"include_flights"`
	IncludeHotel     bool       `json:"include_hotel"`
	IncludeCar       bool       `json:"include_car"`
	Steps            []stepItem `json:"steps"`
	TotalPrice       int64      `json:"total_price"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	CompensatedSteps []string   `json:"compensated_steps"`
	CreatedAt        string     `json:"created_at"`
	UpdatedAt        string     `json:"updated_at"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	userID, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	checkIn, err := parseDate(req.CheckIn)
	if err != nil {
		http.Error(w, "invalid check_in", http.StatusBadRequest)
		return
	}
	checkOut, err := parseDate(req.CheckOut)
	if err != nil {
		http.Error(w, "invalid check_out", http.StatusBadRequest)
		return
	}

	b, created, err := h.svc.Create(r.Context(), booking.Params{
		UserID:         userID,
		CheckIn:        checkIn,
		CheckOut:       checkOut,
		IncludeFlights: req.IncludeFlights,
		IncludeHotel:   req.IncludeHotel,
		IncludeCar:     req.IncludeCar,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	switch {
	case errors.Is(err, booking.ErrInvalidDates), errors.Is(err, booking.ErrNoSteps), errors.Is(err, booking.ErrMissingUser):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		runtime.Logger(r.Context()).Error("create booking failed", "err", err)
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, createBookingResponse{
		BookingID:       b.ID.String(),
		ReferenceNumber: b.ReferenceNumber,
		Status:          string(b.Status),
	})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	b, err := h.svc.Get(r.Context(), id)
	if errors.Is(err, booking.ErrNotFound) {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(b))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("user_id")))
	if err != nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	list, err := h.svc.List(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}
	items := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		items = append(items, toResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by user"
	}

	b, err := h.svc.Cancel(r.Context(), id, reason)
	switch {
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	case errors.Is(err, booking.ErrNotCancellable):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		runtime.Logger(r.Context()).Error("cancel booking failed", "err", err, "booking_id", id.String())
		http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(b))
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func toResponse(b *booking.Booking) bookingResponse {
	resp := bookingResponse{
		BookingID:        b.ID.String(),
		UserID:           b.UserID.String(),
		ReferenceNumber:  b.ReferenceNumber,
		Status:           string(b.Status),
		Phase:            string(b.Phase()),
		CheckIn:          b.CheckIn.UTC().Format(time.RFC3339),
		CheckOut:         b.CheckOut.UTC().Format(time.RFC3339),
		IncludeFlights:   b.IncludeFlights,
		IncludeHotel:     b.IncludeHotel,
		IncludeCar:       b.IncludeCar,
		TotalPrice:       b.TotalPrice,
		FailureReason:    b.FailureReason,
		CompensatedSteps: make([]string, 0, len(b.CompensatedSteps)),
		CreatedAt:        b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        b.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, s := range b.Steps {
		item := stepItem{
			Type:             s.Type.String(),
			Status:           string(s.Status),
			Price:            s.Price,
			ConfirmationCode: s.ConfirmationCode,
			Error:            s.Error,
		}
		if s.Recorded() {
			item.ExternalID = s.ExternalID.String()
		}
		resp.Steps = append(resp.Steps, item)
	}
	for _, st := range b.CompensatedSteps {
		resp.CompensatedSteps = append(resp.CompensatedSteps, st.String())
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
