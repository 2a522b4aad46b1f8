package processor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"orderflow/config"
	"orderflow/models"
)

// SignalEngine derives trading signals from successive profile snapshots.
// Each signal kind has an independent per-symbol cooldown so a persistent
// condition alerts once per window instead of on every recompute.
type SignalEngine struct {
	config config.SignalsConfig

	mu        sync.Mutex
	lastFired map[string]time.Time

	now func() time.Time
}

func NewSignalEngine(cfg config.SignalsConfig) *SignalEngine {
	return &SignalEngine{
		config:    cfg,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Evaluate compares the current snapshot against the previous one for the
// same exchange/symbol. prev is nil on the first snapshot of a session, which
// limits evaluation to conditions that need no history.
func (e *SignalEngine) Evaluate(prev *models.ProfileSnapshot, curr models.ProfileSnapshot) []models.TradingSignal {
	if !e.config.Enabled {
		return nil
	}
	if curr.EventCount < e.config.MinEvents {
		return nil
	}

	var out []models.TradingSignal
	if sig := e.deltaImbalance(curr); sig != nil {
		out = append(out, *sig)
	}
	if prev != nil && prev.Profile != nil && curr.Profile != nil {
		if sig := e.pocShift(*prev, curr); sig != nil {
			out = append(out, *sig)
		}
		if sig := e.valueAreaBreakout(*prev, curr); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

// deltaImbalance fires when one side of the tape dominates the session past
// the configured imbalance percentage.
func (e *SignalEngine) deltaImbalance(curr models.ProfileSnapshot) *models.TradingSignal {
	imbalance := curr.Summary.ImbalancePercent
	if imbalance < e.config.ImbalanceThreshold {
		return nil
	}
	direction := models.DirectionBuy
	side := "buy"
	if curr.Summary.TotalDelta < 0 {
		direction = models.DirectionSell
		side = "sell"
	}
	if !e.allow(curr.Exchange, curr.Symbol, models.SignalDeltaImbalance) {
		return nil
	}
	msg := fmt.Sprintf("%s volume dominates at %.1f%% over %d events", side, imbalance, curr.EventCount)
	return e.signal(curr, models.SignalDeltaImbalance, direction, msg, curr.LastPrice, imbalance)
}

// pocShift fires when the point of control moved at least one full bucket
// between snapshots.
func (e *SignalEngine) pocShift(prev, curr models.ProfileSnapshot) *models.TradingSignal {
	width := curr.Profile.BucketWidth
	if width <= 0 {
		return nil
	}
	shift := curr.Profile.POC - prev.Profile.POC
	if math.Abs(shift) < width {
		return nil
	}
	direction := models.DirectionBuy
	if shift < 0 {
		direction = models.DirectionSell
	}
	if !e.allow(curr.Exchange, curr.Symbol, models.SignalPOCShift) {
		return nil
	}
	msg := fmt.Sprintf("point of control moved %.4f from %.4f to %.4f", shift, prev.Profile.POC, curr.Profile.POC)
	return e.signal(curr, models.SignalPOCShift, direction, msg, curr.Profile.POC, math.Abs(shift)/width)
}

// valueAreaBreakout fires when the last trade escapes the previously
// established value area.
func (e *SignalEngine) valueAreaBreakout(prev, curr models.ProfileSnapshot) *models.TradingSignal {
	price := curr.LastPrice
	if price == 0 {
		return nil
	}

	var direction, msg string
	var distance float64
	switch {
	case price > prev.Profile.ValueAreaHigh:
		direction = models.DirectionBuy
		distance = price - prev.Profile.ValueAreaHigh
		msg = fmt.Sprintf("price %.4f broke above value area high %.4f", price, prev.Profile.ValueAreaHigh)
	case price < prev.Profile.ValueAreaLow:
		direction = models.DirectionSell
		distance = prev.Profile.ValueAreaLow - price
		msg = fmt.Sprintf("price %.4f broke below value area low %.4f", price, prev.Profile.ValueAreaLow)
	default:
		return nil
	}
	if !e.allow(curr.Exchange, curr.Symbol, models.SignalVABreakout) {
		return nil
	}

	strength := distance
	if width := curr.Profile.BucketWidth; width > 0 {
		strength = distance / width
	}
	return e.signal(curr, models.SignalVABreakout, direction, msg, price, strength)
}

// allow checks and arms the cooldown for one exchange/symbol/kind.
func (e *SignalEngine) allow(exchange, symbol, kind string) bool {
	if e.config.Cooldown <= 0 {
		return true
	}
	key := exchange + ":" + symbol + ":" + kind

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if last, ok := e.lastFired[key]; ok && now.Sub(last) < e.config.Cooldown {
		return false
	}
	e.lastFired[key] = now
	return true
}

func (e *SignalEngine) signal(curr models.ProfileSnapshot, kind, direction, message string, price, strength float64) *models.TradingSignal {
	return &models.TradingSignal{
		ID:          uuid.New().String(),
		Exchange:    curr.Exchange,
		Symbol:      curr.Symbol,
		Kind:        kind,
		Direction:   direction,
		Message:     message,
		Price:       price,
		Strength:    strength,
		TriggeredAt: e.now().UTC(),
	}
}
