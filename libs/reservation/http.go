package reservation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

type reservationResponse struct {
	ID           string            `json:"id"`
	BookingID    string            `json:"booking_id"`
	UserID       string            `json:"user_id"`
	Step         string            `json:"step"`
	Code         string            `json:"confirmation_code"`
	Status       string            `json:"status"`
	Price        int64             `json:"price"`
	StartDate    string            `json:"start_date"`
	EndDate      string            `json:"end_date"`
	Details      map[string]string `json:"details,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

// Register mounts the read endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/reservations/{id}", h.Get)
	mux.HandleFunc("GET /v1/reservations", h.ByBooking)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid reservation id", http.StatusBadRequest)
		return
	}
	res, err := h.repo.Get(r.Context(), id)
	h.respond(w, res, err)
}

func (h *Handler) ByBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("booking_id")))
	if err != nil {
		http.Error(w, "booking_id is required", http.StatusBadRequest)
		return
	}
	res, err := h.repo.GetByBooking(r.Context(), bookingID)
	h.respond(w, res, err)
}

func (h *Handler) respond(w http.ResponseWriter, res Reservation, err error) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "reservation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load reservation", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reservationResponse{
		ID:           res.ID.String(),
		BookingID:    res.BookingID.String(),
		UserID:       res.UserID.String(),
		Step:         res.Step.String(),
		Code:         res.Code,
		Status:       string(res.Status),
		Price:        res.Price,
		StartDate:    res.StartDate.UTC().Format(time.DateOnly),
		EndDate:      res.EndDate.UTC().Format(time.DateOnly),
		Details:      res.Details,
		CancelReason: res.CancelReason,
		CreatedAt:    res.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    res.UpdatedAt.UTC().Format(time.RFC3339),
	})
}
