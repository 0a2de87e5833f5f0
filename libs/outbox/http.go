package outbox

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type failedItem struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	CreatedAt   string          `json:"created_at"`
	RetryCount  int             `json:"retry_count"`
	Error       string          `json:"error"`
	Content     json.RawMessage `json:"content"`
}

// FailedHandler lists parked outbox rows for operator inspection.
func FailedHandler(store Store, maxRetry int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		msgs, err := store.ListFailed(r.Context(), maxRetry, limit)
		if err != nil {
			http.Error(w, "failed to list outbox messages", http.StatusInternalServerError)
			return
		}

		items := make([]failedItem, 0, len(msgs))
		for _, m := range msgs {
			item := failedItem{
				ID:          m.ID.String(),
				Type:        m.Type,
				AggregateID: m.AggregateID,
				CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
				RetryCount:  m.RetryCount,
				Error:       m.Error,
			}
			if json.Valid(m.Content) {
				item.Content = m.Content
			}
			items = append(items, item)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}
}
