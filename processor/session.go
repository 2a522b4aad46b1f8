package processor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"orderflow/models"
)

// SessionView is a point-in-time copy of one session's event window. The
// Events slice is owned by the caller; the store never touches it again.
type SessionView struct {
	Exchange    string
	Market      string
	Symbol      string
	Events      []models.TradeEvent
	LastPrice   float64
	WindowStart int64
	WindowEnd   int64
}

type sessionWindow struct {
	exchange  string
	market    string
	symbol    string
	events    []models.TradeEvent
	lastPrice float64
}

// SessionStore accumulates normalized trades per exchange/market/symbol and
// maintains a sliding window over them. Events are kept ordered by timestamp,
// trimmed to the configured duration behind the newest event and capped at
// maxEvents by dropping the oldest.
type SessionStore struct {
	mu        sync.Mutex
	window    time.Duration
	maxEvents int
	sessions  map[string]*sessionWindow
}

func NewSessionStore(window time.Duration, maxEvents int) *SessionStore {
	return &SessionStore{
		window:    window,
		maxEvents: maxEvents,
		sessions:  make(map[string]*sessionWindow),
	}
}

func sessionKey(exchange, market, symbol string) string {
	return fmt.Sprintf("%s_%s_%s", exchange, market, symbol)
}

// Append merges a batch into its session and returns a view of the trimmed
// window. Out-of-order arrivals, common when rest and stream feeds overlap,
// trigger a stable re-sort of the window.
func (s *SessionStore) Append(batch models.TradeBatch) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(batch.Exchange, batch.Market, batch.Symbol)
	sess, ok := s.sessions[key]
	if !ok {
		sess = &sessionWindow{
			exchange: batch.Exchange,
			market:   batch.Market,
			symbol:   batch.Symbol,
		}
		s.sessions[key] = sess
	}

	if len(batch.Events) > 0 {
		start := len(sess.events)
		sess.events = append(sess.events, batch.Events...)

		needSort := false
		for i := start; i < len(sess.events); i++ {
			if i > 0 && sess.events[i].Timestamp < sess.events[i-1].Timestamp {
				needSort = true
				break
			}
		}
		if needSort {
			sort.SliceStable(sess.events, func(i, j int) bool {
				return sess.events[i].Timestamp < sess.events[j].Timestamp
			})
		}

		s.trim(sess)
		sess.lastPrice = sess.events[len(sess.events)-1].Price
	}

	return s.viewLocked(sess)
}

// View returns the current window for a session without modifying it.
func (s *SessionStore) View(exchange, market, symbol string) (SessionView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey(exchange, market, symbol)]
	if !ok {
		return SessionView{}, false
	}
	return s.viewLocked(sess), true
}

// Count reports the number of active sessions.
func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// trim drops events older than the window behind the newest event, then
// enforces the event cap. Caller holds s.mu; sess.events must be non-empty
// and sorted.
func (s *SessionStore) trim(sess *sessionWindow) {
	if s.window > 0 {
		cutoff := sess.events[len(sess.events)-1].Timestamp - s.window.Milliseconds()
		idx := sort.Search(len(sess.events), func(i int) bool {
			return sess.events[i].Timestamp >= cutoff
		})
		if idx > 0 {
			sess.events = append(sess.events[:0], sess.events[idx:]...)
		}
	}
	if s.maxEvents > 0 && len(sess.events) > s.maxEvents {
		drop := len(sess.events) - s.maxEvents
		sess.events = append(sess.events[:0], sess.events[drop:]...)
	}
}

func (s *SessionStore) viewLocked(sess *sessionWindow) SessionView {
	view := SessionView{
		Exchange:  sess.exchange,
		Market:    sess.market,
		Symbol:    sess.symbol,
		LastPrice: sess.lastPrice,
	}
	if len(sess.events) == 0 {
		return view
	}
	view.Events = make([]models.TradeEvent, len(sess.events))
	copy(view.Events, sess.events)
	view.WindowStart = sess.events[0].Timestamp
	view.WindowEnd = sess.events[len(sess.events)-1].Timestamp
	return view
}
