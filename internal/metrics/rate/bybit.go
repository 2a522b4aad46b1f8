package rate

import (
	"sync"
	"time"

	"orderflow/logger"
)

// BybitWSWeightTracker tracks outgoing websocket messages and connection
// attempts for Bybit publicTrade streams. While Bybit does not charge
// websocket market data against REST limits, tracking our own message and
// reconnect cadence helps avoid self-induced rate issues.
type BybitWSWeightTracker struct {
	mu       sync.Mutex
	window   time.Time
	msgs     int
	attempts int
}

// NewBybitWSWeightTracker creates a new tracker.
func NewBybitWSWeightTracker() *BybitWSWeightTracker {
	return &BybitWSWeightTracker{window: time.Now()}
}

// RegisterOutgoing records n outgoing client messages (subs/pings).
func (t *BybitWSWeightTracker) RegisterOutgoing(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Sub(t.window) >= time.Second {
		t.msgs = 0
		t.window = now
	}
	t.msgs += n
}

// RegisterConnectionAttempt records a websocket handshake attempt.
func (t *BybitWSWeightTracker) RegisterConnectionAttempt() {
	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()
}

// Stats returns the current message count within the one second window and the
// total connection attempts.
func (t *BybitWSWeightTracker) Stats() (msgs int, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs = t.msgs
	attempts = t.attempts
	return
}

// ReportBybitWSWeight emits websocket related weight metrics.
func ReportBybitWSWeight(log *logger.Log, t *BybitWSWeightTracker, ip string) {
	msgs, attempts := t.Stats()
	l := log.WithComponent("bybit_trades_stream")
	fields := logger.Fields{"ip": ip}
	l.LogMetric("bybit_trades_stream", "outgoing_messages", int64(msgs), "gauge", fields)
	l.LogMetric("bybit_trades_stream", "connection_attempts", int64(attempts), "counter", fields)
}
