package profile

import (
	"time"

	"orderflow/models"
)

// timestampLabelLayout formats window starts for chart axis labels.
const timestampLabelLayout = "15:04:05"

// ComputeDeltaVolume splits events into consecutive time windows of
// bucketSizeMs and accumulates aggressive buy and sell volume per window.
// A trade with IsBuyerMaker false was taker-bought and counts as buy volume;
// IsBuyerMaker true counts as sell volume. Delta is buy minus sell, exactly.
//
// Windows are aligned to multiples of bucketSizeMs. Empty windows between
// the first and last occupied window are emitted with zero volumes so the
// series keeps even time spacing. Buckets are returned in chronological
// order with Time set to the window start in epoch millis.
func ComputeDeltaVolume(events []models.TradeEvent, bucketSizeMs int64) ([]models.DeltaBucket, error) {
	const op = "compute delta volume"

	if len(events) == 0 {
		return nil, &EmptyInputError{Op: op}
	}
	if bucketSizeMs <= 0 {
		return nil, &InvalidParameterError{Op: op, Param: "bucketSizeMs", Value: float64(bucketSizeMs), Want: "> 0"}
	}

	type window struct {
		buy  float64
		sell float64
	}

	windows := make(map[int64]*window)
	first := events[0].Timestamp / bucketSizeMs * bucketSizeMs
	last := first
	for _, ev := range events {
		start := ev.Timestamp / bucketSizeMs * bucketSizeMs
		if start < first {
			first = start
		}
		if start > last {
			last = start
		}
		w := windows[start]
		if w == nil {
			w = &window{}
			windows[start] = w
		}
		if ev.IsBuyerMaker {
			w.sell += ev.Volume
		} else {
			w.buy += ev.Volume
		}
	}

	buckets := make([]models.DeltaBucket, 0, (last-first)/bucketSizeMs+1)
	for start := first; start <= last; start += bucketSizeMs {
		b := models.DeltaBucket{
			Time:           start,
			TimestampLabel: time.UnixMilli(start).UTC().Format(timestampLabelLayout),
		}
		if w := windows[start]; w != nil {
			b.BuyVolume = w.buy
			b.SellVolume = w.sell
			b.Delta = w.buy - w.sell
		}
		buckets = append(buckets, b)
	}

	return buckets, nil
}

// SummarizeDelta folds a delta series into session totals. The imbalance
// percentage is zero when no volume traded, otherwise |total delta| over
// total traded volume, in [0, 100].
func SummarizeDelta(buckets []models.DeltaBucket) models.FlowSummary {
	var s models.FlowSummary
	for _, b := range buckets {
		s.TotalDelta += b.Delta
		s.TotalBuy += b.BuyVolume
		s.TotalSell += b.SellVolume
	}
	if s.TotalBuy+s.TotalSell > 0 {
		abs := s.TotalDelta
		if abs < 0 {
			abs = -abs
		}
		s.ImbalancePercent = abs / (s.TotalBuy + s.TotalSell) * 100
	}
	return s
}
