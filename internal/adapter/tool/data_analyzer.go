package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"localagent/internal/domain"
	"localagent/internal/infra/config"
)

// DataAnalyzerID is the tool id of the data analyzer.
const DataAnalyzerID = domain.ToolDataAnalyzer

// Analysis types.
const (
	AnalysisBasic       = "basic"
	AnalysisStatistical = "statistical"
	AnalysisCorrelation = "correlation"
	AnalysisTimeSeries  = "time_series"
)

// Column kinds reported by basic analysis.
const (
	kindNumber   = "number"
	kindDatetime = "datetime"
	kindString   = "string"
)

var datetimeLayouts = []string{time.RFC3339Nano, time.DateTime, time.DateOnly}

// Float is a float64 that encodes NaN and ±Inf as JSON null.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// Describe holds descriptive statistics for one numeric column.
type Describe struct {
	Count int   `json:"count"`
	Mean  Float `json:"mean"`
	Std   Float `json:"std"`
	Min   Float `json:"min"`
	Q25   Float `json:"25%"`
	Q50   Float `json:"50%"`
	Q75   Float `json:"75%"`
	Max   Float `json:"max"`
}

// AnalysisRecord is one retained analysis outcome.
type AnalysisRecord struct {
	AnalysisType string         `json:"analysis_type"`
	Result       map[string]any `json:"result"`
	Timestamp    time.Time      `json:"timestamp"`
}

// DataAnalyzer computes descriptive statistics over row-oriented records
// and retains a bounded history of its results.
type DataAnalyzer struct {
	window     int
	maxResults int
	now        func() time.Time

	mu      sync.Mutex
	results []AnalysisRecord
}

// NewDataAnalyzer creates a data analyzer.
func NewDataAnalyzer(cfg config.AnalyzerConfig) *DataAnalyzer {
	window := cfg.MovingAverageWindow
	if window <= 0 {
		window = 7
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}
	return &DataAnalyzer{window: window, maxResults: maxResults, now: time.Now}
}

func (a *DataAnalyzer) ID() string       { return DataAnalyzerID }
func (a *DataAnalyzer) Name() string     { return "Data Analyzer" }
func (a *DataAnalyzer) Category() string { return domain.ToolCategoryAnalysis }
func (a *DataAnalyzer) Description() string {
	return "Descriptive statistics, correlation and moving averages over tabular data"
}

const (
	analyzeSchema = `{
		"type": "object",
		"properties": {
			"data": {"type": "array", "items": {"type": ["object", "number"]}},
			"analysis_type": {"type": "string"}
		},
		"required": ["data"]
	}`
	resultsSchema = `{
		"type": "object",
		"properties": {
			"analysis_type": {"type": "string"}
		}
	}`
)

type analyzeParams struct {
	Data         []any  `json:"data"`
	AnalysisType string `json:"analysis_type,omitempty"`
}

func (a *DataAnalyzer) Operations() map[string]domain.Operation {
	return map[string]domain.Operation{
		"analyze": Op("Analyze a dataset", analyzeSchema,
			Dispatch(func(p analyzeParams) string {
				if p.AnalysisType == "" {
					return AnalysisBasic
				}
				return p.AnalysisType
			}, ActionMap[analyzeParams]{
				AnalysisBasic:       a.withFrame(AnalysisBasic, a.basic),
				AnalysisStatistical: a.withFrame(AnalysisStatistical, a.statistical),
				AnalysisCorrelation: a.withFrame(AnalysisCorrelation, a.correlation),
				AnalysisTimeSeries:  a.withFrame(AnalysisTimeSeries, a.timeSeries),
			})),
		"results": Op("Return retained analysis results", resultsSchema, a.listResults),
		"clear":   Op("Drop retained analysis results", "", a.clearResults),
	}
}

// withFrame builds the frame, runs fn and retains its result.
func (a *DataAnalyzer) withFrame(kind string, fn func(*frame) (map[string]any, error)) Handler[analyzeParams] {
	return func(_ context.Context, p analyzeParams) (any, error) {
		f, err := newFrame(p.Data)
		if err != nil {
			return nil, err
		}
		result, err := fn(f)
		if err != nil {
			return nil, err
		}
		rec := AnalysisRecord{AnalysisType: kind, Result: result, Timestamp: a.now()}
		a.retain(rec)
		return rec, nil
	}
}

func (a *DataAnalyzer) retain(rec AnalysisRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, rec)
	if over := len(a.results) - a.maxResults; over > 0 {
		a.results = append([]AnalysisRecord(nil), a.results[over:]...)
	}
}

func (a *DataAnalyzer) listResults(_ context.Context, p struct {
	AnalysisType string `json:"analysis_type,omitempty"`
}) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AnalysisRecord, 0, len(a.results))
	for _, r := range a.results {
		if p.AnalysisType == "" || r.AnalysisType == p.AnalysisType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *DataAnalyzer) clearResults(_ context.Context, _ struct{}) (any, error) {
	a.mu.Lock()
	n := len(a.results)
	a.results = nil
	a.mu.Unlock()
	return map[string]any{"cleared": n}, nil
}

// Cleanup drops retained results.
func (a *DataAnalyzer) Cleanup(ctx context.Context) error {
	_, err := a.clearResults(ctx, struct{}{})
	return err
}

func (a *DataAnalyzer) basic(f *frame) (map[string]any, error) {
	dtypes := make(map[string]string, len(f.columns))
	missing := make(map[string]int, len(f.columns))
	for _, c := range f.columns {
		dtypes[c] = f.kinds[c]
		missing[c] = f.missing(c)
	}

	summary := map[string]any{}
	if cols := f.ofKind(kindNumber); len(cols) > 0 {
		summary["numeric"] = f.describeAll(cols)
	}
	if cols := f.ofKind(kindString); len(cols) > 0 {
		counts := make(map[string]map[string]int, len(cols))
		for _, c := range cols {
			counts[c] = f.valueCounts(c)
		}
		summary["categorical"] = counts
	}
	if cols := f.ofKind(kindDatetime); len(cols) > 0 {
		dates := make(map[string]any, len(cols))
		for _, c := range cols {
			ts := f.times(c)
			if len(ts) == 0 {
				continue
			}
			lo, hi := ts[0], ts[len(ts)-1]
			dates[c] = map[string]any{
				"min":        lo.Format(time.RFC3339),
				"max":        hi.Format(time.RFC3339),
				"range_days": int(hi.Sub(lo).Hours() / 24),
			}
		}
		summary["datetime"] = dates
	}

	return map[string]any{
		"shape":          []int{len(f.rows), len(f.columns)},
		"columns":        f.columns,
		"dtypes":         dtypes,
		"missing_values": missing,
		"summary":        summary,
	}, nil
}

func (a *DataAnalyzer) statistical(f *frame) (map[string]any, error) {
	cols := f.ofKind(kindNumber)
	if len(cols) == 0 {
		return nil, invalid("DataAnalyzer.statistical", "no numeric columns")
	}
	skew := make(map[string]Float, len(cols))
	kurt := make(map[string]Float, len(cols))
	for _, c := range cols {
		xs := f.numbers(c)
		skew[c] = Float(stat.Skew(xs, nil))
		kurt[c] = Float(stat.ExKurtosis(xs, nil))
	}
	return map[string]any{
		"descriptive_stats": f.describeAll(cols),
		"skewness":          skew,
		"kurtosis":          kurt,
	}, nil
}

func (a *DataAnalyzer) correlation(f *frame) (map[string]any, error) {
	cols := f.ofKind(kindNumber)
	if len(cols) == 0 {
		return nil, invalid("DataAnalyzer.correlation", "no numeric columns")
	}
	matrix := make(map[string]map[string]Float, len(cols))
	for _, x := range cols {
		matrix[x] = make(map[string]Float, len(cols))
		for _, y := range cols {
			xs, ys := f.pairs(x, y)
			corr := math.NaN()
			if len(xs) >= 2 {
				corr = stat.Correlation(xs, ys, nil)
			}
			matrix[x][y] = Float(corr)
		}
	}
	return map[string]any{"correlation_matrix": matrix}, nil
}

func (a *DataAnalyzer) timeSeries(f *frame) (map[string]any, error) {
	dateCols := f.ofKind(kindDatetime)
	if len(dateCols) == 0 {
		return nil, invalid("DataAnalyzer.timeSeries", "no datetime column found")
	}
	dateCol := dateCols[0]

	rows := make([]map[string]any, 0, len(f.rows))
	stamps := make([]time.Time, 0, len(f.rows))
	for _, r := range f.rows {
		if t, ok := parseTime(r[dateCol]); ok {
			rows = append(rows, r)
			stamps = append(stamps, t)
		}
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return stamps[idx[i]].Before(stamps[idx[j]]) })

	averages := make(map[string][]Float)
	for _, c := range f.ofKind(kindNumber) {
		series := make([]float64, len(idx))
		for i, k := range idx {
			series[i] = toNumber(rows[k][c])
		}
		averages[c] = movingAverage(series, a.window)
	}

	return map[string]any{
		"date_column":    dateCol,
		"total_periods":  len(idx),
		"start_date":     stamps[idx[0]].Format(time.RFC3339),
		"end_date":       stamps[idx[len(idx)-1]].Format(time.RFC3339),
		"window":         a.window,
		"moving_average": averages,
	}, nil
}

// movingAverage returns the trailing mean over window samples. Positions
// without a full window, or with a missing sample in it, are NaN.
func movingAverage(xs []float64, window int) []Float {
	out := make([]Float, len(xs))
	for i := range xs {
		if i+1 < window {
			out[i] = Float(math.NaN())
			continue
		}
		out[i] = Float(stat.Mean(xs[i+1-window:i+1], nil))
	}
	return out
}

// frame is a row-oriented dataset with a per-column kind.
type frame struct {
	rows    []map[string]any
	columns []string
	kinds   map[string]string
}

func newFrame(data []any) (*frame, error) {
	if len(data) == 0 {
		return nil, invalid("DataAnalyzer.analyze", "empty dataset")
	}
	f := &frame{rows: make([]map[string]any, 0, len(data)), kinds: map[string]string{}}
	seen := map[string]bool{}
	for i, item := range data {
		var row map[string]any
		switch v := item.(type) {
		case map[string]any:
			row = v
		case float64:
			row = map[string]any{"value": v}
		default:
			return nil, invalid("DataAnalyzer.analyze", "row %d is neither an object nor a number", i)
		}
		for k := range row {
			if !seen[k] {
				seen[k] = true
				f.columns = append(f.columns, k)
			}
		}
		f.rows = append(f.rows, row)
	}
	sort.Strings(f.columns)
	for _, c := range f.columns {
		f.kinds[c] = f.inferKind(c)
	}
	return f, nil
}

func (f *frame) inferKind(col string) string {
	numeric, dates, present := true, true, 0
	for _, r := range f.rows {
		v, ok := r[col]
		if !ok || v == nil {
			continue
		}
		present++
		if _, ok := v.(float64); !ok {
			numeric = false
		}
		if _, ok := parseTime(v); !ok {
			dates = false
		}
	}
	switch {
	case present == 0:
		return kindString
	case numeric:
		return kindNumber
	case dates:
		return kindDatetime
	default:
		return kindString
	}
}

func (f *frame) ofKind(kind string) []string {
	var out []string
	for _, c := range f.columns {
		if f.kinds[c] == kind {
			out = append(out, c)
		}
	}
	return out
}

func (f *frame) missing(col string) int {
	n := 0
	for _, r := range f.rows {
		if v, ok := r[col]; !ok || v == nil {
			n++
		}
	}
	return n
}

// numbers returns the non-missing values of a numeric column.
func (f *frame) numbers(col string) []float64 {
	xs := make([]float64, 0, len(f.rows))
	for _, r := range f.rows {
		if v, ok := r[col].(float64); ok {
			xs = append(xs, v)
		}
	}
	return xs
}

// pairs returns aligned values of two numeric columns from rows where both are present.
func (f *frame) pairs(x, y string) ([]float64, []float64) {
	var xs, ys []float64
	for _, r := range f.rows {
		a, okA := r[x].(float64)
		b, okB := r[y].(float64)
		if okA && okB {
			xs = append(xs, a)
			ys = append(ys, b)
		}
	}
	return xs, ys
}

func (f *frame) times(col string) []time.Time {
	var ts []time.Time
	for _, r := range f.rows {
		if t, ok := parseTime(r[col]); ok {
			ts = append(ts, t)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	return ts
}

func (f *frame) valueCounts(col string) map[string]int {
	counts := map[string]int{}
	for _, r := range f.rows {
		if v, ok := r[col]; ok && v != nil {
			counts[fmt.Sprint(v)]++
		}
	}
	return counts
}

func (f *frame) describeAll(cols []string) map[string]Describe {
	out := make(map[string]Describe, len(cols))
	for _, c := range cols {
		out[c] = describe(f.numbers(c))
	}
	return out
}

func describe(xs []float64) Describe {
	if len(xs) == 0 {
		nan := Float(math.NaN())
		return Describe{Mean: nan, Std: nan, Min: nan, Q25: nan, Q50: nan, Q75: nan, Max: nan}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	std := math.NaN()
	if len(sorted) > 1 {
		std = stat.StdDev(sorted, nil)
	}
	return Describe{
		Count: len(sorted),
		Mean:  Float(stat.Mean(sorted, nil)),
		Std:   Float(std),
		Min:   Float(sorted[0]),
		Q25:   Float(stat.Quantile(0.25, stat.LinInterp, sorted, nil)),
		Q50:   Float(stat.Quantile(0.50, stat.LinInterp, sorted, nil)),
		Q75:   Float(stat.Quantile(0.75, stat.LinInterp, sorted, nil)),
		Max:   Float(sorted[len(sorted)-1]),
	}
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toNumber(v any) float64 {
	if x, ok := v.(float64); ok {
		return x
	}
	return math.NaN()
}
