// Package metrics keeps the aggregate analytics counters of the server and
// exposes them to Prometheus. No counter carries a room token or any other
// identifier of a participant.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "veilchat"

// Totals is the persisted subset of the analytics: lifetime counts that
// survive restarts.
type Totals struct {
	RoomsCreated uint64 `cbor:"1,keyasint"`
	Joins        uint64 `cbor:"2,keyasint"`
	Rejections   uint64 `cbor:"3,keyasint"`
	ChatMessages uint64 `cbor:"4,keyasint"`
	ChatImages   uint64 `cbor:"5,keyasint"`
	KeyExchanges uint64 `cbor:"6,keyasint"`
	RateLimited  uint64 `cbor:"7,keyasint"`
	RoomsBlocked uint64 `cbor:"8,keyasint"`
}

// Analytics owns a private Prometheus registry, so several instances can live
// side by side in tests.
type Analytics struct {
	registry *prometheus.Registry

	roomsCreated atomic.Uint64
	joins        atomic.Uint64
	rejections   atomic.Uint64
	chatMessages atomic.Uint64
	chatImages   atomic.Uint64
	keyExchanges atomic.Uint64
	rateLimited  atomic.Uint64
	roomsBlocked atomic.Uint64

	roomsCreatedTotal prometheus.Counter
	joinsTotal        *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
	relayedTotal      *prometheus.CounterVec
	rateLimitedTotal  prometheus.Counter
	roomsClosedTotal  *prometheus.CounterVec
	activeRooms       prometheus.Gauge
	connections       prometheus.Gauge
	persistFailures   prometheus.Counter
}

// New builds an Analytics instance with every collector registered.
func New() *Analytics {
	a := &Analytics{
		registry: prometheus.NewRegistry(),
		roomsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Number of rooms created",
		}),
		joinsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Number of accepted joins",
		}, []string{"session"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_rejections_total",
			Help:      "Number of rejected joins",
		}, []string{"code"}),
		relayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_total",
			Help:      "Number of frames relayed between participants",
		}, []string{"kind"}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Number of events dropped by the rate limiter",
		}),
		roomsClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_closed_total",
			Help:      "Number of rooms destroyed and blocked",
		}, []string{"reason"}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms currently held in memory",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of live websocket connections",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Number of failed snapshot writes",
		}),
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		a.roomsCreatedTotal,
		a.joinsTotal,
		a.rejectionsTotal,
		a.relayedTotal,
		a.rateLimitedTotal,
		a.roomsClosedTotal,
		a.activeRooms,
		a.connections,
		a.persistFailures,
	)
	return a
}

// Handler exposes the registry in the Prometheus text format.
func (a *Analytics) Handler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// Registry returns the underlying registry.
func (a *Analytics) Registry() *prometheus.Registry { return a.registry }

// RoomCreated counts a new room.
func (a *Analytics) RoomCreated() {
	a.roomsCreated.Add(1)
	a.roomsCreatedTotal.Inc()
}

// Joined counts an accepted join. returning marks a session that already
// held a seat in the room.
func (a *Analytics) Joined(returning bool) {
	a.joins.Add(1)
	label := "new"
	if returning {
		label = "returning"
	}
	a.joinsTotal.WithLabelValues(label).Inc()
}

// Rejected counts a join refused with the given error code.
func (a *Analytics) Rejected(code string) {
	a.rejections.Add(1)
	a.rejectionsTotal.WithLabelValues(code).Inc()
}

// Relayed counts one forwarded frame of the given kind.
func (a *Analytics) Relayed(kind string) {
	switch kind {
	case "chat-message":
		a.chatMessages.Add(1)
	case "chat-image":
		a.chatImages.Add(1)
	case "key-request", "key-response":
		a.keyExchanges.Add(1)
	}
	a.relayedTotal.WithLabelValues(kind).Inc()
}

// RateLimited counts an event dropped by the rate limiter.
func (a *Analytics) RateLimited() {
	a.rateLimited.Add(1)
	a.rateLimitedTotal.Inc()
}

// RoomClosed counts a room that was destroyed and blocked.
func (a *Analytics) RoomClosed(reason string) {
	a.roomsBlocked.Add(1)
	a.roomsClosedTotal.WithLabelValues(reason).Inc()
}

// ActiveRooms records the current number of rooms in memory.
func (a *Analytics) ActiveRooms(n int) { a.activeRooms.Set(float64(n)) }

// ConnectionOpened increments the live connection gauge.
func (a *Analytics) ConnectionOpened() { a.connections.Inc() }

// ConnectionClosed decrements the live connection gauge.
func (a *Analytics) ConnectionClosed() { a.connections.Dec() }

// PersistFailed counts a snapshot write that did not reach disk.
func (a *Analytics) PersistFailed() { a.persistFailures.Inc() }

// Totals returns the lifetime counts.
func (a *Analytics) Totals() Totals {
	return Totals{
		RoomsCreated: a.roomsCreated.Load(),
		Joins:        a.joins.Load(),
		Rejections:   a.rejections.Load(),
		ChatMessages: a.chatMessages.Load(),
		ChatImages:   a.chatImages.Load(),
		KeyExchanges: a.keyExchanges.Load(),
		RateLimited:  a.rateLimited.Load(),
		RoomsBlocked: a.roomsBlocked.Load(),
	}
}

// Restore adds previously persisted totals to the lifetime counts. It is
// meant to be called once at start-up.
func (a *Analytics) Restore(t Totals) {
	a.roomsCreated.Add(t.RoomsCreated)
	a.joins.Add(t.Joins)
	a.rejections.Add(t.Rejections)
	a.chatMessages.Add(t.ChatMessages)
	a.chatImages.Add(t.ChatImages)
	a.keyExchanges.Add(t.KeyExchanges)
	a.rateLimited.Add(t.RateLimited)
	a.roomsBlocked.Add(t.RoomsBlocked)

	a.roomsCreatedTotal.Add(float64(t.RoomsCreated))
	a.rateLimitedTotal.Add(float64(t.RateLimited))
}
