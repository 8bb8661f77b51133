package heapprofile

// GC inference thresholds. The protocol exposes no collection event stream,
// so collections are inferred from drops in used heap between polls.
const (
	gcMinDropBytes   = 64 * 1024
	gcMajorDropBytes = 8 * 1024 * 1024
	trendDeadbandBPS = 1024
	leakMediumBytes  = 1 * 1024 * 1024
	leakHighBytes    = 10 * 1024 * 1024
)

// inferGC scans consecutive usage samples for drops in used heap. Each drop
// above the noise floor becomes one collection; drops under 8MB are scored
// minor, larger ones major. Duration is bounded by the poll spacing.
func inferGC(samples []UsageSample) []GCEvent {
	events := []GCEvent{}
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		freed := prev.UsedBytes - cur.UsedBytes
		if freed < gcMinDropBytes {
			continue
		}
		kind := "minor"
		if freed >= gcMajorDropBytes {
			kind = "major"
		}
		events = append(events, GCEvent{
			AtMS:       cur.AtMS,
			Type:       kind,
			FreedBytes: freed,
			DurationMS: cur.AtMS - prev.AtMS,
		})
	}
	return events
}

func gcStats(events []GCEvent, durationMS float64) GCStats {
	var stats GCStats
	var totalDurMS float64
	for _, ev := range events {
		stats.Count++
		if ev.Type == "major" {
			stats.MajorCount++
		} else {
			stats.MinorCount++
		}
		stats.TotalFreedBytes += ev.FreedBytes
		totalDurMS += ev.DurationMS
	}
	if durationMS > 0 {
		stats.FrequencyPerMinute = float64(stats.Count) / (durationMS / 60000)
	}
	if totalDurMS > 0 {
		stats.EfficiencyBytesPerMS = float64(stats.TotalFreedBytes) / totalDurMS
	}
	return stats
}

// growthTrend fits a straight line through the first and last usage sample.
// Rates within the deadband read as stable: a heap oscillating around a
// fixed level should not alarm anyone.
func growthTrend(samples []UsageSample) Trend {
	if len(samples) < 2 {
		return Trend{Direction: "stable"}
	}
	first, last := samples[0], samples[len(samples)-1]
	elapsedSec := (last.AtMS - first.AtMS) / 1000
	if elapsedSec <= 0 {
		return Trend{Direction: "stable"}
	}
	rate := float64(last.UsedBytes-first.UsedBytes) / elapsedSec
	t := Trend{BytesPerSecond: rate, Direction: "stable"}
	if rate > trendDeadbandBPS {
		t.Direction = "increasing"
	} else if rate < -trendDeadbandBPS {
		t.Direction = "decreasing"
	}
	return t
}

// leakSuspicion grades retained growth between the first and last snapshot.
func leakSuspicion(snapshots []Snapshot) string {
	if len(snapshots) < 2 {
		return "none"
	}
	growth := snapshots[len(snapshots)-1].UsedBytes - snapshots[0].UsedBytes
	switch {
	case growth > leakHighBytes:
		return "high"
	case growth > leakMediumBytes:
		return "medium"
	default:
		return "none"
	}
}
