package store

import "context"

// ComputeDeltas compares two sets of run metrics. higherIsBetter names the
// metrics where an increase is an improvement; metrics it does not list
// default to higher is better. A metric missing from prev compares
// against zero.
func ComputeDeltas(prev, curr []RunMetric, higherIsBetter map[string]bool) []MetricDelta {
	prevMap := make(map[string]float64, len(prev))
	for _, m := range prev {
		prevMap[m.MetricName] = m.MetricValue
	}

	deltas := make([]MetricDelta, 0, len(curr))
	for _, m := range curr {
		prevVal := prevMap[m.MetricName]
		delta := m.MetricValue - prevVal

		direction := "unchanged"
		if delta != 0 {
			better, known := higherIsBetter[m.MetricName]
			if !known {
				better = true
			}
			if (delta > 0) == better {
				direction = "improved"
			} else {
				direction = "regressed"
			}
		}

		deltas = append(deltas, MetricDelta{
			Name:      m.MetricName,
			Previous:  prevVal,
			Current:   m.MetricValue,
			Delta:     delta,
			Direction: direction,
		})
	}
	return deltas
}

// CompareRuns loads the metrics of both runs and returns their deltas.
func (db *DB) CompareRuns(ctx context.Context, prev, curr *Run, higherIsBetter map[string]bool) (*RunDiff, error) {
	prevMetrics, err := db.GetRunMetrics(ctx, prev.ID)
	if err != nil {
		return nil, err
	}
	currMetrics, err := db.GetRunMetrics(ctx, curr.ID)
	if err != nil {
		return nil, err
	}
	return &RunDiff{
		Previous: prev,
		Current:  curr,
		Deltas:   ComputeDeltas(prevMetrics, currMetrics, higherIsBetter),
	}, nil
}
