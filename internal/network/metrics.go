package network

import "sort"

// buildReport computes the aggregate metrics over the recording's requests.
func buildReport(rec *recording, cfg Config) *Report {
	report := &Report{
		ByType:   make(map[string]TypeStat),
		Requests: make([]Request, 0, len(rec.order)),
	}

	hosts := make(map[string]int)
	var intervals [][2]float64
	var cached int
	var spanEnd float64

	for _, id := range rec.order {
		req := rec.requests[id]
		report.Requests = append(report.Requests, *req)
		report.TotalRequests++

		switch req.State {
		case StateCompleted:
			report.CompletedCount++
		case StateFailed:
			report.FailedCount++
		case StateIncomplete:
			report.IncompleteCount++
		}

		report.TotalEncodedBytes += req.EncodedBytes
		if req.FromCache {
			cached++
		}
		if req.Host != "" {
			hosts[req.Host]++
		}
		intervals = append(intervals, [2]float64{req.StartMS, req.EndMS})
		if req.EndMS > spanEnd {
			spanEnd = req.EndMS
		}

		stat := report.ByType[req.ResourceType]
		stat.Count++
		stat.Bytes += req.EncodedBytes
		report.ByType[req.ResourceType] = stat

		if req.CriticalPath {
			report.CriticalPathCount++
			if req.EndMS > report.CriticalPathMS {
				report.CriticalPathMS = req.EndMS
			}
		}
		if req.DurationMS > cfg.SlowRequestMS {
			report.SlowRequests = append(report.SlowRequests, requestRef(req))
		}
		if cfg.LargeResourceBytes > 0 && req.EncodedBytes > cfg.LargeResourceBytes {
			report.LargeResources = append(report.LargeResources, requestRef(req))
		}
	}

	report.SpanMS = spanEnd
	if spanEnd > 0 {
		report.BandwidthBPS = float64(report.TotalEncodedBytes) / (spanEnd / 1000)
	}
	if report.TotalRequests > 0 {
		report.CacheHitRatio = float64(cached) / float64(report.TotalRequests)
	}
	report.MaxConcurrent = maxConcurrent(intervals)
	report.ConnectionReuse = estimateConnectionReuse(report.TotalRequests, hosts)

	sort.Slice(report.SlowRequests, func(i, j int) bool {
		return report.SlowRequests[i].DurationMS > report.SlowRequests[j].DurationMS
	})
	sort.Slice(report.LargeResources, func(i, j int) bool {
		return report.LargeResources[i].Bytes > report.LargeResources[j].Bytes
	})
	return report
}

func requestRef(req *Request) RequestRef {
	return RequestRef{ID: req.ID, URL: req.URL, DurationMS: req.DurationMS, Bytes: req.EncodedBytes}
}

// maxConcurrent sweeps the (start, end) interval boundaries and returns the
// peak number of simultaneously open requests. Ends sort before starts at
// equal times, so back-to-back requests do not count as overlapping.
func maxConcurrent(intervals [][2]float64) int {
	type boundary struct {
		at    float64
		delta int
	}
	points := make([]boundary, 0, len(intervals)*2)
	for _, iv := range intervals {
		points = append(points, boundary{iv[0], +1}, boundary{iv[1], -1})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].at != points[j].at {
			return points[i].at < points[j].at
		}
		return points[i].delta < points[j].delta
	})

	var cur, peak int
	for _, p := range points {
		cur += p.delta
		if cur > peak {
			peak = cur
		}
	}
	return peak
}

// estimateConnectionReuse approximates connection reuse from distinct-host
// counts. With keep-alive, requests to the same host typically share a
// connection, so reuse ≈ 1 - hosts/requests. This is an approximation, not
// a per-connection measurement.
func estimateConnectionReuse(total int, hosts map[string]int) ConnectionReuse {
	cr := ConnectionReuse{DistinctHosts: len(hosts)}
	if total == 0 || len(hosts) == 0 {
		return cr
	}
	cr.RequestsPerHost = float64(total) / float64(len(hosts))
	cr.ReuseRatio = 1 - float64(len(hosts))/float64(total)
	if cr.ReuseRatio < 0 {
		cr.ReuseRatio = 0
	}
	return cr
}
