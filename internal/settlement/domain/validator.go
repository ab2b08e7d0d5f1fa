package settlement

import (
	"fmt"
	"time"
)

// requiredSlots lists the categories a complete price set must fill, in report order.
var requiredSlots = []struct {
	category PriceCategory
	label    string
}{
	{CategorySpotPrice, "Spot price"},
	{CategoryGridTariff, "Grid tariff"},
	{CategorySystemTariff, "System tariff"},
	{CategoryTransmissionTariff, "Transmission tariff"},
	{CategoryElectricityTax, "Electricity tax"},
	{CategoryBalanceTariff, "Balance tariff"},
	{CategorySupplierMargin, "Supplier margin"},
}

// CategoryLabel returns the human readable name of a required slot.
func CategoryLabel(c PriceCategory) string {
	for _, slot := range requiredSlots {
		if slot.category == c {
			return slot.label
		}
	}
	return string(c)
}

// ValidatePriceCompleteness returns the labels of required categories that no
// price or rate series fills. Other never fills a slot.
func ValidatePriceCompleteness(prices []*Price, series ...*RateSeries) []string {
	present := make(map[PriceCategory]bool, len(requiredSlots))
	for _, p := range prices {
		if p != nil {
			present[p.Category()] = true
		}
	}
	for _, s := range series {
		if s != nil {
			present[s.Category] = true
		}
	}
	var missing []string
	for _, slot := range requiredSlots {
		if !present[slot.category] {
			missing = append(missing, slot.label)
		}
	}
	return missing
}

// ValidatePricePointCoverage checks every price has points for each interval of
// [start, end) at its own resolution. Prices without a resolution are only
// checked for having any points at all.
func ValidatePricePointCoverage(prices []*Price, start, end time.Time) []string {
	var issues []string
	for _, p := range prices {
		if p == nil {
			continue
		}
		if p.Points().Len() == 0 {
			issues = append(issues, p.label()+": no prices")
			continue
		}
		if p.Resolution() == "" {
			continue
		}
		timestamps := p.Points().Timestamps(start, end)
		if issue, ok := intervalGaps(p.label(), timestamps, start, end, p.Resolution()); ok {
			issues = append(issues, issue)
		}
	}
	return issues
}

// ValidateSeriesCoverage is ValidatePricePointCoverage for a spot or margin series.
func ValidateSeriesCoverage(series *RateSeries, start, end time.Time) (string, bool) {
	if series == nil {
		return "", false
	}
	if series.Points.Len() == 0 {
		return series.Description + ": no prices", true
	}
	if !series.Resolution.IsValid() {
		return "", false
	}
	return intervalGaps(series.Description, series.Points.Timestamps(start, end), start, end, series.Resolution)
}

// ValidateIntervalCoverage reports when an interval of [start, end) at resolution
// holds no timestamp. timestamps must be ascending.
func ValidateIntervalCoverage(label string, timestamps []time.Time, start, end time.Time, resolution Resolution) (string, bool) {
	if len(timestamps) == 0 {
		return label + ": no prices", true
	}
	return intervalGaps(label, timestamps, start, end, resolution)
}

// intervalGaps counts the intervals of [start, end) holding no timestamp. A
// price with points outside the window has every interval missing.
func intervalGaps(label string, timestamps []time.Time, start, end time.Time, resolution Resolution) (string, bool) {
	if !resolution.IsValid() || !end.After(start) {
		return "", false
	}
	total, missing := 0, 0
	idx := 0
	for at := start; at.Before(end); at = resolution.Next(at) {
		next := resolution.Next(at)
		total++
		for idx < len(timestamps) && timestamps[idx].Before(at) {
			idx++
		}
		if idx >= len(timestamps) || !timestamps[idx].Before(next) {
			missing++
		}
	}
	if missing == 0 {
		return "", false
	}
	return fmt.Sprintf("%s: %d of %d intervals missing", label, missing, total), true
}
