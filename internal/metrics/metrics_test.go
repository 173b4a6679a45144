package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersFeedTotals(t *testing.T) {
	a := New()

	a.RoomCreated()
	a.Joined(false)
	a.Joined(true)
	a.Rejected("room-full")
	a.Relayed("chat-message")
	a.Relayed("chat-image")
	a.Relayed("key-request")
	a.Relayed("key-response")
	a.RateLimited()
	a.RoomClosed("grace")

	require.Equal(t, Totals{
		RoomsCreated: 1,
		Joins:        2,
		Rejections:   1,
		ChatMessages: 1,
		ChatImages:   1,
		KeyExchanges: 2,
		RateLimited:  1,
		RoomsBlocked: 1,
	}, a.Totals())

	require.Equal(t, 1.0, testutil.ToFloat64(a.rejectionsTotal.WithLabelValues("room-full")))
	require.Equal(t, 1.0, testutil.ToFloat64(a.joinsTotal.WithLabelValues("returning")))
}

func TestRestoreAddsToLifetimeCounts(t *testing.T) {
	a := New()
	a.Joined(false)
	a.Restore(Totals{Joins: 41, RoomsCreated: 7})

	got := a.Totals()
	require.Equal(t, uint64(42), got.Joins)
	require.Equal(t, uint64(7), got.RoomsCreated)
	require.Equal(t, 7.0, testutil.ToFloat64(a.roomsCreatedTotal))
}

func TestHandlerServesRegistry(t *testing.T) {
	a := New()
	a.ConnectionOpened()
	a.ActiveRooms(3)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "veilchat_active_rooms 3"))
	require.True(t, strings.Contains(string(body), "veilchat_connections 1"))
}
