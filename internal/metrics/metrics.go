package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Session metrics
	ConnectionsTotal    int64
	DisconnectionsTotal int64
	SupersessionsTotal  int64
	activeConnections   int64

	// Message metrics
	MessagesIngestedTotal map[types.MessageSource]int64
	MessagesDedupedTotal  int64
	MessagesStoredTotal   int64
	MessageErrorsTotal    int64

	// Call metrics
	CallsPlacedTotal   int64
	CallsAnsweredTotal int64
	RingTimeoutsTotal  int64

	// Presence metrics
	agentsByStatus map[types.PresenceStatus]int

	// HTTP metrics
	httpRequestsTotal    map[string]map[int]int64 // endpoint -> status -> count
	httpRequestDurations map[string][]float64     // endpoint -> durations

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			MessagesIngestedTotal: make(map[types.MessageSource]int64),
			agentsByStatus:        make(map[types.PresenceStatus]int),
			httpRequestsTotal:     make(map[string]map[int]int64),
			httpRequestDurations:  make(map[string][]float64),
			startTime:             time.Now(),
		}
	})
	return instance
}

// RecordConnect increments connection counters
func (m *Metrics) RecordConnect() {
	m.mu.Lock()
	m.ConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordDisconnect increments the disconnection counter
func (m *Metrics) RecordDisconnect() {
	m.mu.Lock()
	m.DisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordSupersession increments the supersession counter
func (m *Metrics) RecordSupersession() {
	m.mu.Lock()
	m.SupersessionsTotal++
	m.mu.Unlock()
}

// RecordMessageIngested increments the per-source ingest counter
func (m *Metrics) RecordMessageIngested(source types.MessageSource) {
	m.mu.Lock()
	m.MessagesIngestedTotal[source]++
	m.mu.Unlock()
}

// RecordMessageDeduped increments the dedup counter
func (m *Metrics) RecordMessageDeduped() {
	m.mu.Lock()
	m.MessagesDedupedTotal++
	m.mu.Unlock()
}

// RecordMessageStored increments the stored message counter
func (m *Metrics) RecordMessageStored() {
	m.mu.Lock()
	m.MessagesStoredTotal++
	m.mu.Unlock()
}

// RecordMessageError increments the relay error counter
func (m *Metrics) RecordMessageError() {
	m.mu.Lock()
	m.MessageErrorsTotal++
	m.mu.Unlock()
}

// RecordCallPlaced increments the outbound call counter
func (m *Metrics) RecordCallPlaced() {
	m.mu.Lock()
	m.CallsPlacedTotal++
	m.mu.Unlock()
}

// RecordCallAnswered increments the answered call counter
func (m *Metrics) RecordCallAnswered() {
	m.mu.Lock()
	m.CallsAnsweredTotal++
	m.mu.Unlock()
}

// RecordRingTimeout increments the ring timeout counter
func (m *Metrics) RecordRingTimeout() {
	m.mu.Lock()
	m.RingTimeoutsTotal++
	m.mu.Unlock()
}

// UpdatePresenceStats replaces the presence distribution
func (m *Metrics) UpdatePresenceStats(byStatus map[types.PresenceStatus]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.agentsByStatus = make(map[types.PresenceStatus]int, len(byStatus))
	for status, count := range byStatus {
		m.agentsByStatus[status] = count
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++

	// Keep last 100 durations for percentile calculation
	if len(m.httpRequestDurations[endpoint]) >= 100 {
		m.httpRequestDurations[endpoint] = m.httpRequestDurations[endpoint][1:]
	}
	m.httpRequestDurations[endpoint] = append(m.httpRequestDurations[endpoint], duration.Seconds())
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("livechat_uptime_seconds", time.Since(m.startTime).Seconds())

		// Session metrics
		write("livechat_connections_total", m.ConnectionsTotal)
		write("livechat_disconnections_total", m.DisconnectionsTotal)
		write("livechat_supersessions_total", m.SupersessionsTotal)
		write("livechat_active_connections", m.activeConnections)

		// Message metrics
		for source, count := range m.MessagesIngestedTotal {
			write("livechat_messages_ingested_total", count, "source", string(source))
		}
		write("livechat_messages_deduped_total", m.MessagesDedupedTotal)
		write("livechat_messages_stored_total", m.MessagesStoredTotal)
		write("livechat_message_errors_total", m.MessageErrorsTotal)

		// Call metrics
		write("livechat_calls_placed_total", m.CallsPlacedTotal)
		write("livechat_calls_answered_total", m.CallsAnsweredTotal)
		write("livechat_ring_timeouts_total", m.RingTimeoutsTotal)

		// Presence distribution
		for status, count := range m.agentsByStatus {
			write("livechat_agents_by_status", count, "status", string(status))
		}

		// HTTP metrics
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("livechat_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}
