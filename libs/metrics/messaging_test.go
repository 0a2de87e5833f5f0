package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMessagingCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessaging(reg, "car-service")

	m.OutboxEnqueued("booking.failed.v1")
	m.OutboxPublished("booking.failed.v1", 10*time.Millisecond)
	m.OutboxPermanentFailure("booking.failed.v1", "unresolvable")
	m.InboxDuplicate("car-service.booking-created")
	m.InboxDuplicate("car-service.booking-created")

	require.Equal(t, 1.0, testutil.ToFloat64(m.outboxEnqueued.WithLabelValues("booking.failed.v1")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.outboxPublished.WithLabelValues("booking.failed.v1")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.outboxPermanent.WithLabelValues("booking.failed.v1", "unresolvable")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.inboxDuplicates.WithLabelValues("car-service.booking-created")))
}

func TestMessagingNilSafe(t *testing.T) {
	var m *Messaging
	m.OutboxEnqueued("x")
	m.InboxConsumed("y", time.Second)
	m.DeadLettered("z")
}
