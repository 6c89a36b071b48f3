package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflowhq/leadflow/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// eventStreamServer upgrades incoming connections, counts them, and forwards
// anything pushed onto send to every connected client.
func eventStreamServer(t *testing.T, upgrades *int32, send chan []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(upgrades, 1)
		defer conn.Close()

		for msg := range send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForState(t *testing.T, states chan ConnState, want ConnState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	r := NewRegistry()
	r.maxJitter = 0

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, r.backoffDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestBackoffDelayJitterStaysBounded(t *testing.T) {
	r := NewRegistry()

	for attempt := 1; attempt <= 5; attempt++ {
		base := r.baseBackoff << uint(attempt-1)
		if base > r.maxBackoff {
			base = r.maxBackoff
		}
		for i := 0; i < 20; i++ {
			delay := r.backoffDelay(attempt)
			assert.GreaterOrEqual(t, delay, base, "attempt %d", attempt)
			assert.LessOrEqual(t, delay, r.maxBackoff+r.maxJitter, "attempt %d", attempt)
		}
	}
}

func TestSubscribersShareOneConnection(t *testing.T) {
	var upgrades int32
	send := make(chan []byte)
	srv := eventStreamServer(t, &upgrades, send)
	defer srv.Close()
	defer close(send)

	r := NewRegistry()
	url := wsURL(srv)

	statesA := make(chan ConnState, 16)
	eventsA := make(chan *models.CampaignEvent, 16)
	disposeA := r.Subscribe(url,
		func(ev *models.CampaignEvent) { eventsA <- ev },
		func(s ConnState) { statesA <- s })
	waitForState(t, statesA, StateOpen)

	statesB := make(chan ConnState, 16)
	eventsB := make(chan *models.CampaignEvent, 16)
	disposeB := r.Subscribe(url,
		func(ev *models.CampaignEvent) { eventsB <- ev },
		func(s ConnState) { statesB <- s })
	// The late subscriber is told the current state without a new dial
	waitForState(t, statesB, StateOpen)

	raw, err := models.EncodeCampaignEvent(&models.CampaignEvent{
		Type:       models.EventPhaseStarted,
		CampaignID: "camp-1",
		Payload:    &models.PhaseStartedPayload{Phase: "dns_validation"},
	})
	require.NoError(t, err)
	send <- raw

	for _, events := range []chan *models.CampaignEvent{eventsA, eventsB} {
		select {
		case ev := <-events:
			assert.Equal(t, models.EventPhaseStarted, ev.Type)
			assert.Equal(t, "camp-1", ev.CampaignID)
		case <-time.After(5 * time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&upgrades))

	disposeA()
	_, stillThere := r.State(url)
	assert.True(t, stillThere, "connection should survive while a subscriber remains")

	disposeB()
	_, stillThere = r.State(url)
	assert.False(t, stillThere, "last unsubscribe should evict the connection")
}

func TestUndecodableMessagesAreDropped(t *testing.T) {
	var upgrades int32
	send := make(chan []byte)
	srv := eventStreamServer(t, &upgrades, send)
	defer srv.Close()
	defer close(send)

	r := NewRegistry()
	states := make(chan ConnState, 16)
	events := make(chan *models.CampaignEvent, 16)
	dispose := r.Subscribe(wsURL(srv),
		func(ev *models.CampaignEvent) { events <- ev },
		func(s ConnState) { states <- s })
	defer dispose()
	waitForState(t, states, StateOpen)

	send <- []byte(`{"type":"quantum_flux"}`)
	send <- []byte(`not json at all`)

	raw, err := models.EncodeCampaignEvent(&models.CampaignEvent{
		Type:    models.EventKeepAlive,
		Payload: &models.KeepAlivePayload{},
	})
	require.NoError(t, err)
	send <- raw

	// Only the decodable event comes through, and the connection survives
	select {
	case ev := <-events:
		assert.Equal(t, models.EventKeepAlive, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("decodable event never arrived")
	}
	assert.Empty(t, events)
}

func TestPanickingSubscriberDoesNotStopFanout(t *testing.T) {
	sc := &sharedConn{
		reg:         NewRegistry(),
		url:         "ws://test",
		subscribers: make(map[int]*subscriber),
	}
	received := make(chan *models.CampaignEvent, 1)
	sc.subscribers[0] = &subscriber{onEvent: func(*models.CampaignEvent) { panic("subscriber bug") }}
	sc.subscribers[1] = &subscriber{onEvent: func(ev *models.CampaignEvent) { received <- ev }}

	sc.broadcastEvent(&models.CampaignEvent{
		Type:       models.EventKeepAlive,
		CampaignID: "",
		Payload:    &models.KeepAlivePayload{},
	})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber starved by panicking peer")
	}
}

func TestAttemptsResetOnSuccessfulOpen(t *testing.T) {
	var upgrades int32
	send := make(chan []byte)
	srv := eventStreamServer(t, &upgrades, send)
	defer srv.Close()
	defer close(send)

	r := NewRegistry()
	url := wsURL(srv)

	states := make(chan ConnState, 16)
	dispose := r.Subscribe(url, nil, func(s ConnState) { states <- s })
	defer dispose()
	waitForState(t, states, StateOpen)

	r.mu.Lock()
	sc := r.conns[url]
	r.mu.Unlock()

	sc.mu.Lock()
	attempts := sc.attempts
	sc.mu.Unlock()
	assert.Equal(t, 0, attempts)
}

func TestReconnectUnknownURLFails(t *testing.T) {
	r := NewRegistry()
	err := r.Reconnect("ws://nobody-subscribed-here")
	require.Error(t, err)
}
