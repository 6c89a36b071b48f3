// -----------------------------------------------------------------------
// Connection Manager - one shared event-stream connection per URL
// -----------------------------------------------------------------------

package client

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phuslu/log"

	"github.com/leadflowhq/leadflow/internal/models"
)

// ConnState is the lifecycle state of a shared connection
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

const (
	defaultBaseBackoff   = time.Second
	defaultMaxBackoff    = 30 * time.Second
	defaultMaxJitter     = 500 * time.Millisecond
	defaultMaxAttempts   = 5
	defaultStaleInterval = 45 * time.Second
)

// EventCallback receives every decoded event from the shared connection
type EventCallback func(ev *models.CampaignEvent)

// StateCallback receives connection lifecycle changes
type StateCallback func(state ConnState)

type subscriber struct {
	onEvent EventCallback
	onState StateCallback
}

// Registry deduplicates event-stream connections: at most one live
// connection exists per distinct URL no matter how many subscribers attach.
// It is an injectable object rather than a package-level singleton so tests
// can run isolated instances.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*sharedConn

	dialer *websocket.Dialer

	baseBackoff   time.Duration
	maxBackoff    time.Duration
	maxJitter     time.Duration
	maxAttempts   int
	staleInterval time.Duration
}

// NewRegistry creates a connection registry with default reconnect policy
func NewRegistry() *Registry {
	return &Registry{
		conns:         make(map[string]*sharedConn),
		dialer:        websocket.DefaultDialer,
		baseBackoff:   defaultBaseBackoff,
		maxBackoff:    defaultMaxBackoff,
		maxJitter:     defaultMaxJitter,
		maxAttempts:   defaultMaxAttempts,
		staleInterval: defaultStaleInterval,
	}
}

// sharedConn is one live connection plus its subscriber set. All fields are
// guarded by mu; timers call back into the struct under the same lock.
type sharedConn struct {
	mu  sync.Mutex
	reg *Registry
	url string

	state       ConnState
	conn        *websocket.Conn
	subscribers map[int]*subscriber
	nextSubID   int

	attempts    int
	connectedAt time.Time

	staleTimer     *time.Timer
	reconnectTimer *time.Timer
	evicted        bool
}

// Subscribe attaches a caller to the shared connection for url, opening it if
// this is the first subscriber. The returned disposer removes the subscriber
// and closes the connection once the subscriber set is empty.
func (r *Registry) Subscribe(url string, onEvent EventCallback, onState StateCallback) func() {
	r.mu.Lock()
	sc, exists := r.conns[url]
	if !exists {
		sc = &sharedConn{
			reg:         r,
			url:         url,
			state:       StateConnecting,
			subscribers: make(map[int]*subscriber),
		}
		r.conns[url] = sc
	}
	r.mu.Unlock()

	sc.mu.Lock()
	id := sc.nextSubID
	sc.nextSubID++
	sc.subscribers[id] = &subscriber{onEvent: onEvent, onState: onState}
	first := len(sc.subscribers) == 1 && !exists
	currentState := sc.state
	sc.mu.Unlock()

	if first {
		go sc.connect()
	} else if onState != nil {
		// Late subscribers get the current state immediately
		safeStateCallback(onState, currentState)
	}

	return func() {
		sc.mu.Lock()
		delete(sc.subscribers, id)
		empty := len(sc.subscribers) == 0
		sc.mu.Unlock()

		if empty {
			r.evict(url, sc)
		}
	}
}

// Reconnect forces a reconnect attempt for url, resetting the attempt
// counter. Callers use this after the automatic policy has given up.
func (r *Registry) Reconnect(url string) error {
	r.mu.Lock()
	sc, ok := r.conns[url]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("no connection registered for %s", url)
	}

	sc.mu.Lock()
	sc.attempts = 0
	sc.cancelTimersLocked()
	if sc.conn != nil {
		sc.conn.Close()
		sc.conn = nil
	}
	sc.state = StateConnecting
	sc.mu.Unlock()

	sc.broadcastState(StateConnecting)
	go sc.connect()
	return nil
}

// State reports the current state of the connection for url
func (r *Registry) State(url string) (ConnState, bool) {
	r.mu.Lock()
	sc, ok := r.conns[url]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state, true
}

// evict closes and removes a connection record once its last subscriber is
// gone. Timers are cleared synchronously so nothing leaks past unsubscribe.
func (r *Registry) evict(url string, sc *sharedConn) {
	r.mu.Lock()
	if current, ok := r.conns[url]; ok && current == sc {
		delete(r.conns, url)
	}
	r.mu.Unlock()

	sc.mu.Lock()
	sc.evicted = true
	sc.cancelTimersLocked()
	if sc.conn != nil {
		sc.conn.Close()
		sc.conn = nil
	}
	sc.state = StateClosed
	sc.mu.Unlock()
}

// backoffDelay computes the reconnect delay for the given attempt number
// (1-based): min(base * 2^(attempt-1) + jitter, maxBackoff).
func (r *Registry) backoffDelay(attempt int) time.Duration {
	delay := r.baseBackoff << uint(attempt-1)
	if delay > r.maxBackoff || delay <= 0 {
		delay = r.maxBackoff
	}
	if r.maxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(r.maxJitter)))
	}
	if delay > r.maxBackoff+r.maxJitter {
		delay = r.maxBackoff + r.maxJitter
	}
	return delay
}

func (sc *sharedConn) connect() {
	sc.mu.Lock()
	if sc.evicted {
		sc.mu.Unlock()
		return
	}
	sc.attempts++
	attempt := sc.attempts
	url := sc.url
	sc.state = StateConnecting
	sc.mu.Unlock()

	sc.broadcastState(StateConnecting)

	conn, _, err := sc.reg.dialer.Dial(url, nil)
	if err != nil {
		log.Warn().
			Str("url", url).
			Int("attempt", attempt).
			Err(err).
			Msg("Event stream connection failed")
		sc.handleDisconnect()
		return
	}

	sc.mu.Lock()
	if sc.evicted {
		sc.mu.Unlock()
		conn.Close()
		return
	}
	sc.conn = conn
	sc.state = StateOpen
	sc.connectedAt = time.Now()
	// A successful open is the only thing that resets the attempt counter
	sc.attempts = 0
	sc.resetStaleTimerLocked()
	sc.mu.Unlock()

	log.Info().Str("url", url).Msg("Event stream connected")
	sc.broadcastState(StateOpen)

	go sc.readLoop(conn)
}

func (sc *sharedConn) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			sc.mu.Lock()
			stale := sc.conn != conn || sc.evicted
			sc.mu.Unlock()
			if stale {
				return
			}
			log.Warn().Str("url", sc.url).Err(err).Msg("Event stream read failed")
			sc.handleDisconnect()
			return
		}

		// Any inbound message resets the staleness clock, decodable or not
		sc.mu.Lock()
		sc.resetStaleTimerLocked()
		sc.mu.Unlock()

		ev, err := models.DecodeCampaignEvent(raw)
		if err != nil {
			log.Warn().Str("url", sc.url).Err(err).Msg("Dropping undecodable event")
			continue
		}

		sc.broadcastEvent(ev)
	}
}

// handleDisconnect marks the connection closed and schedules a reconnect,
// giving up silently after the attempt budget is spent.
func (sc *sharedConn) handleDisconnect() {
	sc.mu.Lock()
	if sc.evicted {
		sc.mu.Unlock()
		return
	}
	sc.cancelTimersLocked()
	if sc.conn != nil {
		sc.conn.Close()
		sc.conn = nil
	}
	sc.state = StateClosed
	attempts := sc.attempts

	if attempts >= sc.reg.maxAttempts {
		sc.mu.Unlock()
		log.Warn().
			Str("url", sc.url).
			Int("attempts", attempts).
			Msg("Reconnect budget exhausted, giving up until manual reconnect")
		sc.broadcastState(StateClosed)
		return
	}

	delay := sc.reg.backoffDelay(attempts + 1)
	sc.reconnectTimer = time.AfterFunc(delay, sc.connect)
	sc.mu.Unlock()

	log.Info().
		Str("url", sc.url).
		Dur("delay", delay).
		Int("attempt", attempts+1).
		Msg("Scheduling event stream reconnect")
	sc.broadcastState(StateClosed)
}

// resetStaleTimerLocked (re)arms the watchdog that fires when no message
// arrives within the staleness interval. Caller holds sc.mu.
func (sc *sharedConn) resetStaleTimerLocked() {
	if sc.staleTimer != nil {
		sc.staleTimer.Stop()
	}
	sc.staleTimer = time.AfterFunc(sc.reg.staleInterval, func() {
		log.Warn().Str("url", sc.url).Msg("Event stream stale, forcing reconnect")
		sc.handleDisconnect()
	})
}

func (sc *sharedConn) cancelTimersLocked() {
	if sc.staleTimer != nil {
		sc.staleTimer.Stop()
		sc.staleTimer = nil
	}
	if sc.reconnectTimer != nil {
		sc.reconnectTimer.Stop()
		sc.reconnectTimer = nil
	}
}

// broadcastEvent delivers one event to every subscriber. A panicking
// subscriber must not prevent delivery to the rest.
func (sc *sharedConn) broadcastEvent(ev *models.CampaignEvent) {
	sc.mu.Lock()
	subs := make([]*subscriber, 0, len(sc.subscribers))
	for _, sub := range sc.subscribers {
		subs = append(subs, sub)
	}
	sc.mu.Unlock()

	for _, sub := range subs {
		if sub.onEvent != nil {
			safeEventCallback(sub.onEvent, ev)
		}
	}
}

func (sc *sharedConn) broadcastState(state ConnState) {
	sc.mu.Lock()
	subs := make([]*subscriber, 0, len(sc.subscribers))
	for _, sub := range sc.subscribers {
		subs = append(subs, sub)
	}
	sc.mu.Unlock()

	for _, sub := range subs {
		if sub.onState != nil {
			safeStateCallback(sub.onState, state)
		}
	}
}

func safeEventCallback(cb EventCallback, ev *models.CampaignEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Event subscriber panicked")
		}
	}()
	cb(ev)
}

func safeStateCallback(cb StateCallback, state ConnState) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("State subscriber panicked")
		}
	}()
	cb(state)
}
