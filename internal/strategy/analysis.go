package strategy

import (
	"sort"
	"time"

	"ahr999-autoinvest/internal/indicator"
)

// DefaultHorizons are the holding periods (days) used for forward-return analysis.
var DefaultHorizons = []int{30, 90, 180}

// ZoneStats summarises how often a tier occurred and what followed.
type ZoneStats struct {
	Action  Action
	Days    int
	Share   float64
	Returns map[int]ReturnStats
}

// ReturnStats 为某持有期的平均/中位收益（百分比）。
type ReturnStats struct {
	Samples int
	MeanPct float64
	MedPct  float64
}

// Distribution is the result of Analyze.
type Distribution struct {
	From  time.Time
	To    time.Time
	Total int
	Zones []ZoneStats
}

// Analyze classifies each snapshot in the series and computes forward returns
// for every horizon, keyed by the tier of the buy day.
func Analyze(series []indicator.Snapshot, p *Policy, horizons []int) Distribution {
	dist := Distribution{Total: len(series)}
	order := []Action{ActionBottom, ActionDCA, ActionHold}
	if len(series) == 0 {
		for _, a := range order {
			dist.Zones = append(dist.Zones, ZoneStats{Action: a, Returns: map[int]ReturnStats{}})
		}
		return dist
	}
	dist.From = series[0].ComputedAt
	dist.To = series[len(series)-1].ComputedAt

	counts := make(map[Action]int, len(order))
	returns := make(map[Action]map[int][]float64, len(order))
	for _, a := range order {
		returns[a] = make(map[int][]float64, len(horizons))
	}

	for i, snap := range series {
		action := p.Classify(snap.Value)
		counts[action]++
		for _, h := range horizons {
			if h <= 0 || i+h >= len(series) {
				continue
			}
			buy := snap.CurrentPrice
			sell := series[i+h].CurrentPrice
			returns[action][h] = append(returns[action][h], (sell-buy)/buy*100)
		}
	}

	for _, a := range order {
		zone := ZoneStats{
			Action:  a,
			Days:    counts[a],
			Share:   float64(counts[a]) / float64(len(series)),
			Returns: make(map[int]ReturnStats, len(horizons)),
		}
		for _, h := range horizons {
			zone.Returns[h] = summarise(returns[a][h])
		}
		dist.Zones = append(dist.Zones, zone)
	}
	return dist
}

func summarise(values []float64) ReturnStats {
	if len(values) == 0 {
		return ReturnStats{}
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return ReturnStats{Samples: len(values), MeanPct: sum / float64(len(values)), MedPct: median}
}
