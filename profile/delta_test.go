package profile

import (
	"errors"
	"reflect"
	"testing"

	"orderflow/models"
)

func TestComputeDeltaVolumeWorkedExample(t *testing.T) {
	const bucketMs = int64(120_000)
	base := int64(1_700_000_000_000) / bucketMs * bucketMs

	// Window 0 nets +5 (all taker buys), window 1 nets -3 (taker sells).
	events := []models.TradeEvent{
		{Price: 100, Volume: 5, IsBuyerMaker: false, Timestamp: base + 1_000},
		{Price: 100, Volume: 3, IsBuyerMaker: true, Timestamp: base + bucketMs + 2_000},
	}

	buckets, err := ComputeDeltaVolume(events, bucketMs)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].Delta != 5 || buckets[0].BuyVolume != 5 || buckets[0].SellVolume != 0 {
		t.Errorf("bucket 0: expected +5 buy-only, got %+v", buckets[0])
	}
	if buckets[1].Delta != -3 || buckets[1].BuyVolume != 0 || buckets[1].SellVolume != 3 {
		t.Errorf("bucket 1: expected -3 sell-only, got %+v", buckets[1])
	}
	if buckets[0].Time != base || buckets[1].Time != base+bucketMs {
		t.Errorf("unexpected window starts: %d, %d", buckets[0].Time, buckets[1].Time)
	}

	sum := SummarizeDelta(buckets)
	if sum.TotalDelta != 2 || sum.TotalBuy != 5 || sum.TotalSell != 3 {
		t.Errorf("unexpected totals: %+v", sum)
	}
	// |2| / (5+3) * 100 = 25.
	if sum.ImbalancePercent != 25 {
		t.Errorf("expected imbalance 25, got %g", sum.ImbalancePercent)
	}
}

func TestComputeDeltaVolumeDeltaIdentity(t *testing.T) {
	const bucketMs = int64(60_000)
	base := int64(1_700_000_000_000) / bucketMs * bucketMs

	events := []models.TradeEvent{
		{Price: 100, Volume: 1.5, IsBuyerMaker: false, Timestamp: base},
		{Price: 100, Volume: 2, IsBuyerMaker: true, Timestamp: base + 10},
		{Price: 101, Volume: 4, IsBuyerMaker: false, Timestamp: base + 20},
		{Price: 101, Volume: 0.5, IsBuyerMaker: true, Timestamp: base + bucketMs},
		{Price: 102, Volume: 3, IsBuyerMaker: false, Timestamp: base + 2*bucketMs + 30},
	}

	buckets, err := ComputeDeltaVolume(events, bucketMs)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for i, b := range buckets {
		if b.Delta != b.BuyVolume-b.SellVolume {
			t.Errorf("bucket %d: delta %g != buy %g - sell %g", i, b.Delta, b.BuyVolume, b.SellVolume)
		}
	}
}

func TestComputeDeltaVolumeZeroFillsEmptyWindows(t *testing.T) {
	const bucketMs = int64(60_000)
	base := int64(1_700_000_000_000) / bucketMs * bucketMs

	// Trades in windows 0 and 2 only: window 1 must still be emitted.
	events := []models.TradeEvent{
		{Price: 100, Volume: 2, IsBuyerMaker: false, Timestamp: base + 5_000},
		{Price: 100, Volume: 1, IsBuyerMaker: true, Timestamp: base + 2*bucketMs + 5_000},
	}

	buckets, err := ComputeDeltaVolume(events, bucketMs)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets with zero-filled middle, got %d", len(buckets))
	}
	mid := buckets[1]
	if mid.Delta != 0 || mid.BuyVolume != 0 || mid.SellVolume != 0 {
		t.Errorf("middle window should be zero-filled, got %+v", mid)
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i].Time-buckets[i-1].Time != bucketMs {
			t.Errorf("uneven window spacing between %d and %d", buckets[i-1].Time, buckets[i].Time)
		}
	}
}

func TestComputeDeltaVolumeWindowAlignment(t *testing.T) {
	// 01:01:01 UTC on 1970-01-01, one-minute windows: the window starts at
	// 01:01:00 and the label reflects the window start, not the trade time.
	events := []models.TradeEvent{
		{Price: 100, Volume: 1, IsBuyerMaker: false, Timestamp: 3_661_000},
	}

	buckets, err := ComputeDeltaVolume(events, 60_000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(buckets))
	}
	if buckets[0].Time != 3_660_000 {
		t.Errorf("expected window start 3660000, got %d", buckets[0].Time)
	}
	if buckets[0].TimestampLabel != "01:01:00" {
		t.Errorf("expected label 01:01:00, got %q", buckets[0].TimestampLabel)
	}
}

func TestComputeDeltaVolumeErrors(t *testing.T) {
	events := []models.TradeEvent{{Price: 100, Volume: 1, Timestamp: 1}}

	if _, err := ComputeDeltaVolume(nil, 60_000); err == nil {
		t.Fatal("expected error for empty input")
	} else {
		var empty *EmptyInputError
		if !errors.As(err, &empty) {
			t.Errorf("expected EmptyInputError, got %T", err)
		}
	}

	for _, size := range []int64{0, -60_000} {
		_, err := ComputeDeltaVolume(events, size)
		if err == nil {
			t.Errorf("size %d: expected error", size)
			continue
		}
		var invalid *InvalidParameterError
		if !errors.As(err, &invalid) {
			t.Errorf("size %d: expected InvalidParameterError, got %T", size, err)
		}
	}
}

func TestComputeDeltaVolumeIdempotent(t *testing.T) {
	const bucketMs = int64(60_000)
	base := int64(1_700_000_000_000) / bucketMs * bucketMs
	events := []models.TradeEvent{
		{Price: 100, Volume: 2, IsBuyerMaker: false, Timestamp: base},
		{Price: 101, Volume: 1, IsBuyerMaker: true, Timestamp: base + bucketMs},
	}

	first, err := ComputeDeltaVolume(events, bucketMs)
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}
	second, err := ComputeDeltaVolume(events, bucketMs)
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated computation produced different results")
	}
}

func TestSummarizeDeltaBounds(t *testing.T) {
	// All-buy flow: imbalance pins at 100.
	allBuy := []models.DeltaBucket{
		{Delta: 4, BuyVolume: 4},
		{Delta: 6, BuyVolume: 6},
	}
	if got := SummarizeDelta(allBuy).ImbalancePercent; got != 100 {
		t.Errorf("expected imbalance 100, got %g", got)
	}

	// Balanced flow: zero imbalance.
	balanced := []models.DeltaBucket{
		{Delta: 5, BuyVolume: 5},
		{Delta: -5, SellVolume: 5},
	}
	if got := SummarizeDelta(balanced).ImbalancePercent; got != 0 {
		t.Errorf("expected imbalance 0, got %g", got)
	}

	// No volume at all: the denominator guard keeps the result at zero.
	if got := SummarizeDelta(nil).ImbalancePercent; got != 0 {
		t.Errorf("expected imbalance 0 for empty series, got %g", got)
	}
	empty := []models.DeltaBucket{{Time: 1}, {Time: 2}}
	if got := SummarizeDelta(empty).ImbalancePercent; got != 0 {
		t.Errorf("expected imbalance 0 for zero-volume series, got %g", got)
	}
}
