package analysis

import (
	"fmt"
	"slices"

	"github.com/skobkin/rigscope/internal/metrics"
)

// Temperatures in °C; the rise rate is °C per minute.
const (
	TempWarning    = 75.0
	TempCritical   = 85.0
	TempPredictive = 70.0
	TempRiseRate   = 2.0

	throttleTemp     = 90.0
	throttleCritical = 95.0
)

// detectThermalTrend looks at the latest temperature and the rise rate
// between the first and last reading. It needs at least two samples.
func detectThermalTrend(temps []metrics.Sample) *Finding {
	if len(temps) < 2 {
		return nil
	}
	sorted := slices.Clone(temps)
	slices.SortStableFunc(sorted, func(a, b metrics.Sample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	first, last := sorted[0], sorted[len(sorted)-1]
	latest := last.Value

	var rate float64
	if minutes := last.Timestamp.Sub(first.Timestamp).Minutes(); minutes > 0 {
		rate = (last.Value - first.Value) / minutes
	}

	evidence := func(threshold float64) []Evidence {
		return []Evidence{{
			Kind:           metrics.Temperature,
			Threshold:      threshold,
			ActualValue:    latest,
			TimeRangeStart: first.Timestamp,
			TimeRangeEnd:   last.Timestamp,
		}}
	}

	switch {
	case latest >= TempCritical:
		return &Finding{
			Type:     TypeThermal,
			Severity: int(min(75+2*(latest-TempCritical), 95)),
			Evidence: evidence(TempCritical),
			Summary:  "Critical thermal throttling detected",
			Details: fmt.Sprintf("Temperature: %.1f°C (critical threshold: %.1f°C). "+
				"System is likely throttling performance to prevent damage.", latest, TempCritical),
		}
	case latest >= TempPredictive && rate >= TempRiseRate:
		ttt := (TempCritical - latest) / rate
		severity := 40
		switch {
		case ttt < 5:
			severity = 70
		case ttt < 10:
			severity = 55
		}
		return &Finding{
			Type:     TypeThermal,
			Severity: severity,
			Evidence: evidence(TempPredictive),
			Summary:  "Predictive thermal warning",
			Details: fmt.Sprintf("Temperature: %.1f°C, rising at %.1f°C/min. Predicted time to throttling: %.1f minutes. "+
				"Consider improving cooling or reducing workload.", latest, rate, ttt),
		}
	case latest >= TempWarning:
		return &Finding{
			Type:     TypeThermal,
			Severity: 50,
			Evidence: evidence(TempWarning),
			Summary:  "High temperature warning",
			Details: fmt.Sprintf("Temperature: %.1f°C (warning threshold: %.1f°C). "+
				"Monitor temperature trends to prevent throttling.", latest, TempWarning),
		}
	}
	return nil
}

// detectThermalThrottling is the single-sample fallback used when there is
// not enough data for a trend.
func detectThermalThrottling(temps []metrics.Sample) *Finding {
	if len(temps) == 0 {
		return nil
	}
	_, peak := metrics.MinMax(temps)
	avg := metrics.Mean(temps)
	if peak < throttleTemp && avg < throttleTemp {
		return nil
	}

	severity := 100
	if peak < throttleCritical {
		severity = int((peak-throttleTemp)/(throttleCritical-throttleTemp)*50 + 50)
	}

	return &Finding{
		Type:     TypeThermal,
		Severity: min(severity, 100),
		Evidence: []Evidence{newEvidence(metrics.Temperature, throttleTemp, peak, temps)},
		Summary:  fmt.Sprintf("Thermal throttling: Maximum temperature reached %.1f°C (threshold: %.1f°C)", peak, throttleTemp),
		Details: fmt.Sprintf("Temperature reached %.1f°C (average: %.1f°C), indicating thermal throttling. "+
			"The CPU/GPU is reducing clock speeds to prevent overheating, causing performance degradation. "+
			"Consider improving cooling.", peak, avg),
	}
}
