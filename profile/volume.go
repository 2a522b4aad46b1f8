// Package profile implements the volume profile and delta volume
// aggregations. Both entry points are pure functions over a finite batch of
// trade events: no I/O, no locks, no state kept between calls.
package profile

import "orderflow/models"

// DefaultValueAreaFraction is the share of total volume the value area
// covers when no fraction is configured, per market-profile convention.
const DefaultValueAreaFraction = 0.70

// Options tunes the value area computation.
type Options struct {
	// ValueAreaFraction is the share of total volume the value area must
	// reach. Zero selects DefaultValueAreaFraction. Valid range (0, 1].
	ValueAreaFraction float64
	// TieBreakBelow expands the value area downward when the buckets above
	// and below the span carry equal volume. The default expands upward.
	TieBreakBelow bool
}

// ComputeVolumeProfile bins trade volume into price buckets of bucketWidth
// and annotates the histogram with the Point of Control and Value Area.
//
// Bucket centers sit on the grid min(price) + i*bucketWidth; each bucket owns
// the closed-open interval [center-width/2, center+width/2). Every bucket in
// the observed span is emitted, including empty interior ones, so the
// histogram is contiguous. The sum of bucket volumes equals the sum of event
// volumes: no event is dropped or double-counted.
func ComputeVolumeProfile(events []models.TradeEvent, bucketWidth float64, opts Options) (*models.VolumeProfile, error) {
	const op = "compute volume profile"

	if len(events) == 0 {
		return nil, &EmptyInputError{Op: op}
	}
	if bucketWidth <= 0 {
		return nil, &InvalidParameterError{Op: op, Param: "bucketWidth", Value: bucketWidth, Want: "> 0"}
	}
	fraction := opts.ValueAreaFraction
	if fraction == 0 {
		fraction = DefaultValueAreaFraction
	}
	if fraction < 0 || fraction > 1 {
		return nil, &InvalidParameterError{Op: op, Param: "valueAreaFraction", Value: fraction, Want: "in (0, 1]"}
	}

	minPrice := events[0].Price
	maxPrice := events[0].Price
	for _, ev := range events[1:] {
		if ev.Price < minPrice {
			minPrice = ev.Price
		}
		if ev.Price > maxPrice {
			maxPrice = ev.Price
		}
	}

	numBuckets := int((maxPrice-minPrice)/bucketWidth+0.5) + 1

	volumes := make([]float64, numBuckets)
	total := 0.0
	for _, ev := range events {
		idx := int((ev.Price-minPrice)/bucketWidth + 0.5)
		if idx >= numBuckets {
			idx = numBuckets - 1
		}
		volumes[idx] += ev.Volume
		total += ev.Volume
	}

	// POC: maximum volume, ties resolve to the lowest price. Strict
	// comparison keeps the first (lowest) index on ties.
	poc := 0
	for i, v := range volumes {
		if v > volumes[poc] {
			poc = i
		}
	}

	lo, hi := expandValueArea(volumes, poc, fraction*total, opts.TieBreakBelow)

	buckets := make([]models.PriceBucket, numBuckets)
	for i := range volumes {
		buckets[i] = models.PriceBucket{
			Price:       minPrice + float64(i)*bucketWidth,
			Volume:      volumes[i],
			IsPOC:       i == poc,
			InValueArea: i >= lo && i <= hi,
		}
	}

	return &models.VolumeProfile{
		Buckets:       buckets,
		POC:           buckets[poc].Price,
		ValueAreaHigh: buckets[hi].Price,
		ValueAreaLow:  buckets[lo].Price,
		TotalVolume:   total,
		BucketWidth:   bucketWidth,
	}, nil
}

// expandValueArea grows the [lo, hi] span outward from the POC bucket,
// taking the larger-volume neighbor at each step, until cumulative volume
// reaches target or the span covers the whole histogram. On an equal-volume
// tie the span grows upward unless tieBreakBelow is set.
func expandValueArea(volumes []float64, poc int, target float64, tieBreakBelow bool) (lo, hi int) {
	lo, hi = poc, poc
	covered := volumes[poc]

	for covered < target && (lo > 0 || hi < len(volumes)-1) {
		switch {
		case lo == 0:
			hi++
			covered += volumes[hi]
		case hi == len(volumes)-1:
			lo--
			covered += volumes[lo]
		case volumes[hi+1] > volumes[lo-1]:
			hi++
			covered += volumes[hi]
		case volumes[lo-1] > volumes[hi+1]:
			lo--
			covered += volumes[lo]
		case tieBreakBelow:
			lo--
			covered += volumes[lo]
		default:
			hi++
			covered += volumes[hi]
		}
	}
	return lo, hi
}
