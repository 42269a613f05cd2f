package telemetry

// DispatchBuckets cover an in-memory routing decision plus one websocket write
var DispatchBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// Delivery paths used as the "path" label
const (
	PathLive      = "live"
	PathQueued    = "queued"
	PathFlushed   = "flushed"
	PathDropped   = "dropped"
	PathRejected  = "rejected"
	PathSpilled   = "spilled"
	PathDuplicate = "duplicate"
)

// Notification Metrics
var (
	// NotificationsTotal counts notifications by delivery path
	NotificationsTotal CounterVec = noopCounterVec{}

	// EmitFailuresTotal counts transport emit failures by path (live, flush)
	EmitFailuresTotal CounterVec = noopCounterVec{}

	// PendingNotifications tracks notifications waiting for a recipient to connect
	PendingNotifications Gauge = NoopStat{}

	// ConnectedRecipients tracks recipients with a live transport
	ConnectedRecipients Gauge = NoopStat{}

	// DispatchDurationSeconds measures dispatcher operations by kind (connect, order)
	DispatchDurationSeconds HistogramVec = noopHistogramVec{}

	// TransportSessions tracks open websocket sessions, including replaced ones not yet closed
	TransportSessions Gauge = NoopStat{}
)

// Change Feed Metrics
var (
	// ChangeFeedEventsTotal counts change events by source and result (accepted, filtered, invalid, dropped)
	ChangeFeedEventsTotal CounterVec = noopCounterVec{}
)

// Order Metrics
var (
	// OrdersCreatedTotal counts committed orders
	OrdersCreatedTotal Counter = NoopStat{}

	// PaymentsTotal counts simulated payments by result
	PaymentsTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	NotificationsTotal = NewCounterVec(
		"notifications_total",
		"Order notifications by delivery path",
		[]string{"path"},
	)
	EmitFailuresTotal = NewCounterVec(
		"emit_failures_total",
		"Transport emit failures by path",
		[]string{"path"},
	)
	PendingNotifications = NewGauge(
		"pending_notifications",
		"Notifications waiting for their recipient to connect",
	)
	ConnectedRecipients = NewGauge(
		"connected_recipients",
		"Recipients with a registered transport",
	)
	DispatchDurationSeconds = NewHistogramVec(
		"dispatch_duration_seconds",
		"Dispatcher operation duration in seconds",
		[]string{"op"},
		DispatchBuckets,
	)
	TransportSessions = NewGauge(
		"transport_sessions",
		"Open websocket sessions",
	)

	ChangeFeedEventsTotal = NewCounterVec(
		"change_feed_events_total",
		"Change feed events by source and result",
		[]string{"source", "result"},
	)

	OrdersCreatedTotal = NewCounter(
		"orders_created_total",
		"Orders committed by the payment flow",
	)
	PaymentsTotal = NewCounterVec(
		"payments_total",
		"Simulated payments by result",
		[]string{"result"},
	)
}
