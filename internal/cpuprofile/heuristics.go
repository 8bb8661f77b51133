package cpuprofile

import (
	"fmt"
	"strings"
)

// likelyInlined flags functions the engine has probably inlined: hot by
// sample count but nearly free in self time.
func likelyInlined(stat FunctionStat) bool {
	if stat.Hits > 10 && stat.SelfTimeMS < 1 {
		return true
	}
	return len(stat.FunctionName) <= 3 && stat.Hits > 5 && stat.SelfTimeMS < 0.5
}

// deoptPatterns name constructs that commonly block or undo engine
// optimization.
var deoptPatterns = []string{
	"eval", "apply", "call", "bind",
	"try", "catch", "throw",
	"generator", "async", "await",
	"arguments",
}

// deoptRisk reports whether a function name matches a known
// optimization-hostile pattern.
func deoptRisk(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range deoptPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// recommend derives tuning hints from the finished report. The rules are
// deterministic so repeated profiles of the same workload produce the same
// advice.
func recommend(r *Report) []string {
	var recs []string

	if len(r.Hotspots) > 0 && r.Hotspots[0].SharePct > 30 {
		recs = append(recs, fmt.Sprintf(
			"%s accounts for %.1f%% of samples; optimizing this single function dominates any other change",
			r.Hotspots[0].FunctionName, r.Hotspots[0].SharePct))
	}

	var heavy int
	for _, f := range r.FunctionBreakdown {
		if f.SelfTimeMS > 100 {
			heavy++
		}
	}
	if heavy > 5 {
		recs = append(recs, fmt.Sprintf(
			"%d functions each consume over 100ms of self time; cost is spread wide, consider reducing overall work per frame",
			heavy))
	}

	if r.ActiveRatio > 0.9 && r.TotalSamples > 0 {
		recs = append(recs, fmt.Sprintf(
			"the main thread was busy %.0f%% of the profile; long-running script leaves no headroom for input handling",
			r.ActiveRatio*100))
	}

	var anonHits, totalHits int64
	for _, f := range r.FunctionBreakdown {
		totalHits += f.Hits
		if f.Anonymous {
			anonHits += f.Hits
		}
	}
	if totalHits > 0 && float64(anonHits)/float64(totalHits) > 0.3 {
		recs = append(recs,
			"over 30% of samples land in anonymous functions; naming them makes future profiles attributable")
	}

	var risky int
	for _, h := range r.Hotspots {
		if h.DeoptRisk {
			risky++
		}
	}
	if len(r.Hotspots) > 0 && float64(risky)/float64(len(r.Hotspots)) > 0.5 {
		recs = append(recs, fmt.Sprintf(
			"%d of %d hotspots match optimization-hostile patterns (eval, arguments, try/catch in hot paths)",
			risky, len(r.Hotspots)))
	}

	return recs
}
