package metrics

import (
	"errors"
)

// Sentinel kinds for metrics errors.
var (
	ErrGatherFailed = errors.New("metrics gather failed")
)

// Gather collects the current metric families from the private registry.
func Gather() (map[string]float64, error) {
	families, err := GetRegistry().Gather()
	if err != nil {
		return nil, errors.Join(ErrGatherFailed, err)
	}
	out := make(map[string]float64, len(families))
	for _, f := range families {
		var total float64
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[f.GetName()] = total
	}
	return out, nil
}
