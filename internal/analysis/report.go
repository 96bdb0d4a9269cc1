// Resilience metrics derived from a telemetry log
package analysis

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"fractalstream/internal/telemetry"
)

// Report is the resilience view of one telemetry log. Absent metrics are nil, never zero.
type Report struct {
	Requests           int               `json:"requests"`
	Failures           int               `json:"failures"`
	Start              *time.Time        `json:"start"`
	End                *time.Time        `json:"end"`
	DisruptionOnset    *time.Time        `json:"disruption_onset"`
	FailureOnset       *time.Time        `json:"failure_onset"`
	RecoveryPoint      *time.Time        `json:"recovery_point"`
	MTTRSeconds        *float64          `json:"mttr_seconds"`
	BaselineP95Ms      *float64          `json:"baseline_p95_ms"`
	FailurePeriodP95Ms *float64          `json:"failure_period_p95_ms"`
	RecoveryP95Ms      *float64          `json:"recovery_p95_ms"`
	Workers            []WorkerSummary   `json:"workers"`
	Throughput         []ThroughputPoint `json:"throughput"`
}

// WorkerSummary aggregates results per serving replica.
type WorkerSummary struct {
	Worker        string  `json:"worker"`
	Requests      int     `json:"requests"`
	Successes     int     `json:"successes"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	StdLatencyMs  float64 `json:"std_latency_ms"`
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanCalcMs    float64 `json:"mean_calc_ms"`
	StdCalcMs     float64 `json:"std_calc_ms"`
}

// ThroughputPoint counts successful requests sent within one second.
type ThroughputPoint struct {
	Second    time.Time `json:"second"`
	Successes int       `json:"successes"`
}

// Analyze derives a Report from results and an optional condition timeline. Rows are
// timed by sent_time. Inputs are not modified and the same inputs always give the
// same report.
func Analyze(results []telemetry.DispatchResult, conditions []telemetry.ConditionSample) Report {
	rows := append([]telemetry.DispatchResult(nil), results...)
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].SentTime.Equal(rows[j].SentTime) {
			return rows[i].SentTime.Before(rows[j].SentTime)
		}
		return rows[i].FrameID < rows[j].FrameID
	})

	r := Report{Requests: len(rows)}
	r.DisruptionOnset = disruptionOnset(conditions)
	if len(rows) == 0 {
		return r
	}
	r.Start = timePtr(rows[0].SentTime)
	r.End = timePtr(rows[len(rows)-1].SentTime)

	for _, row := range rows {
		if row.Success {
			continue
		}
		r.Failures++
		if r.FailureOnset == nil {
			r.FailureOnset = timePtr(row.SentTime)
		}
	}
	if r.FailureOnset != nil {
		for _, row := range rows {
			if row.Success && row.SentTime.After(*r.FailureOnset) {
				r.RecoveryPoint = timePtr(row.SentTime)
				break
			}
		}
	}
	if r.RecoveryPoint != nil {
		r.MTTRSeconds = floatPtr(r.RecoveryPoint.Sub(*r.FailureOnset).Seconds())
	}

	start := rows[0].SentTime
	switch {
	case r.DisruptionOnset != nil:
		r.BaselineP95Ms = p95(rows, start, *r.DisruptionOnset)
	case r.FailureOnset != nil:
		r.BaselineP95Ms = p95(rows, start, *r.FailureOnset)
	default:
		r.BaselineP95Ms = p95(rows, start, time.Time{})
	}
	if r.DisruptionOnset != nil && r.FailureOnset != nil {
		r.FailurePeriodP95Ms = p95(rows, *r.DisruptionOnset, *r.FailureOnset)
	}
	if r.RecoveryPoint != nil {
		r.RecoveryP95Ms = p95(rows, *r.RecoveryPoint, time.Time{})
	}

	r.Workers = summarizeWorkers(rows)
	r.Throughput = throughput(rows)
	return r
}

func disruptionOnset(conditions []telemetry.ConditionSample) *time.Time {
	var onset *time.Time
	for _, c := range conditions {
		if c.Disrupted() && (onset == nil || c.Time.Before(*onset)) {
			onset = timePtr(c.Time)
		}
	}
	return onset
}

// p95 covers rows sent in [from, to); a zero to means unbounded.
func p95(rows []telemetry.DispatchResult, from, to time.Time) *float64 {
	var lat []float64
	for _, row := range rows {
		if row.SentTime.Before(from) {
			continue
		}
		if !to.IsZero() && !row.SentTime.Before(to) {
			continue
		}
		lat = append(lat, row.LatencyMs)
	}
	v, ok := Percentile(lat, 95)
	if !ok {
		return nil
	}
	return &v
}

func summarizeWorkers(rows []telemetry.DispatchResult) []WorkerSummary {
	type acc struct {
		lat, calc []float64
		ok        int
	}
	byWorker := map[string]*acc{}
	for _, row := range rows {
		a, found := byWorker[row.ServedBy]
		if !found {
			a = &acc{}
			byWorker[row.ServedBy] = a
		}
		a.lat = append(a.lat, row.LatencyMs)
		a.calc = append(a.calc, row.CalcTimeMs)
		if row.Success {
			a.ok++
		}
	}
	out := make([]WorkerSummary, 0, len(byWorker))
	for name, a := range byWorker {
		s := WorkerSummary{Worker: name, Requests: len(a.lat), Successes: a.ok}
		s.MeanLatencyMs, s.StdLatencyMs = meanStd(a.lat)
		s.MeanCalcMs, s.StdCalcMs = meanStd(a.calc)
		s.MinLatencyMs, s.MaxLatencyMs = a.lat[0], a.lat[0]
		for _, v := range a.lat[1:] {
			s.MinLatencyMs = min(s.MinLatencyMs, v)
			s.MaxLatencyMs = max(s.MaxLatencyMs, v)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out
}

// maxDenseSeconds bounds the gap filling of the throughput series.
const maxDenseSeconds = 24 * 60 * 60

// throughput buckets successes per whole second. Empty seconds between the first and
// last request are included unless the log spans more than a day.
func throughput(rows []telemetry.DispatchResult) []ThroughputPoint {
	first := rows[0].SentTime.Unix()
	last := rows[len(rows)-1].SentTime.Unix()
	if last-first > maxDenseSeconds {
		var out []ThroughputPoint
		for _, row := range rows {
			sec := row.SentTime.Unix()
			if len(out) == 0 || out[len(out)-1].Second.Unix() != sec {
				out = append(out, ThroughputPoint{Second: time.Unix(sec, 0).UTC()})
			}
			if row.Success {
				out[len(out)-1].Successes++
			}
		}
		return out
	}
	out := make([]ThroughputPoint, last-first+1)
	for i := range out {
		out[i].Second = time.Unix(first+int64(i), 0).UTC()
	}
	for _, row := range rows {
		if row.Success {
			out[row.SentTime.Unix()-first].Successes++
		}
	}
	return out
}

// WriteText prints the report as aligned key/value lines.
func (r Report) WriteText(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "requests\t%d\n", r.Requests)
	fmt.Fprintf(tw, "failures\t%d\n", r.Failures)
	fmt.Fprintf(tw, "disruption_onset\t%s\n", formatTime(r.DisruptionOnset, r.Start))
	fmt.Fprintf(tw, "failure_onset\t%s\n", formatTime(r.FailureOnset, r.Start))
	fmt.Fprintf(tw, "recovery_point\t%s\n", formatTime(r.RecoveryPoint, r.Start))
	fmt.Fprintf(tw, "mttr_seconds\t%s\n", formatFloat(r.MTTRSeconds, "%.3f"))
	fmt.Fprintf(tw, "baseline_p95_ms\t%s\n", formatFloat(r.BaselineP95Ms, "%.2f"))
	fmt.Fprintf(tw, "failure_period_p95_ms\t%s\n", formatFloat(r.FailurePeriodP95Ms, "%.2f"))
	fmt.Fprintf(tw, "recovery_p95_ms\t%s\n", formatFloat(r.RecoveryP95Ms, "%.2f"))
	if len(r.Workers) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "worker\trequests\tok\tmean_ms\tstd_ms\tmin_ms\tmax_ms\tcalc_mean_ms")
		for _, w := range r.Workers {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
				w.Worker, w.Requests, w.Successes, w.MeanLatencyMs, w.StdLatencyMs, w.MinLatencyMs, w.MaxLatencyMs, w.MeanCalcMs)
		}
	}
	return tw.Flush()
}

func formatTime(t, start *time.Time) string {
	if t == nil {
		return "absent"
	}
	s := t.UTC().Format(time.RFC3339Nano)
	if start != nil {
		s += fmt.Sprintf(" (t+%.3fs)", t.Sub(*start).Seconds())
	}
	return s
}

func formatFloat(v *float64, format string) string {
	if v == nil {
		return "absent"
	}
	return fmt.Sprintf(format, *v)
}

func timePtr(t time.Time) *time.Time { return &t }

func floatPtr(f float64) *float64 { return &f }
