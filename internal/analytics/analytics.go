// Package analytics computes time-windowed rollups over the usage ledger:
// per-tool call volumes and success rates, settled revenue, latency
// percentiles, and a coarse health classification per tool.
//
// All aggregation happens in-process over the ledger's read path. Queries on
// empty data return zeroed reports, never errors. Revenue is accumulated with
// arbitrary-precision integers (pkg/wei); display conversion happens only at
// the edge.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agoramesh/agora/internal/resilience"
	"github.com/agoramesh/agora/pkg/market"
	"github.com/agoramesh/agora/pkg/wei"
)

// Timeframe is a named lookback window.
type Timeframe string

const (
	TimeframeDay     Timeframe = "24h"
	TimeframeWeek    Timeframe = "7d"
	TimeframeMonth   Timeframe = "30d"
	TimeframeQuarter Timeframe = "90d"
	TimeframeYear    Timeframe = "1y"

	// DefaultTimeframe is used for empty or unrecognized timeframe inputs.
	DefaultTimeframe = TimeframeMonth
)

// ResolveTimeframe canonicalises a caller-supplied timeframe string.
// Unrecognized values fall back to [DefaultTimeframe].
func ResolveTimeframe(s string) Timeframe {
	switch Timeframe(strings.ToLower(strings.TrimSpace(s))) {
	case TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeQuarter, TimeframeYear:
		return Timeframe(strings.ToLower(strings.TrimSpace(s)))
	}
	return DefaultTimeframe
}

// Window returns the lookback duration of the timeframe.
func (t Timeframe) Window() time.Duration {
	switch t {
	case TimeframeDay:
		return 24 * time.Hour
	case TimeframeWeek:
		return 7 * 24 * time.Hour
	case TimeframeQuarter:
		return 90 * 24 * time.Hour
	case TimeframeYear:
		return 365 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// Bucket is a time-granularity grouping key.
type Bucket string

const (
	BucketHour  Bucket = "hour"
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"

	// DefaultBucket is used for empty or unrecognized groupBy inputs.
	DefaultBucket = BucketDay
)

// ResolveBucket canonicalises a caller-supplied groupBy string.
func ResolveBucket(s string) Bucket {
	switch Bucket(strings.ToLower(strings.TrimSpace(s))) {
	case BucketHour, BucketDay, BucketWeek, BucketMonth:
		return Bucket(strings.ToLower(strings.TrimSpace(s)))
	}
	return DefaultBucket
}

// Start truncates ts to the beginning of its bucket, in UTC. Weeks start on
// Monday.
func (b Bucket) Start(ts time.Time) time.Time {
	ts = ts.UTC()
	switch b {
	case BucketHour:
		return ts.Truncate(time.Hour)
	case BucketWeek:
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case BucketMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Health classification thresholds. A tool is healthy when it succeeds at
// least 95% of the time and answers in under 5s on average; warning down to
// 85% and 10s; critical below that.
const (
	healthySuccessRate = 0.95
	healthyAvgLatency  = 5000 * time.Millisecond
	warningSuccessRate = 0.85
	warningAvgLatency  = 10000 * time.Millisecond
)

// HealthStatus is the coarse per-tool health classification.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// ClassifyHealth maps reliability and latency onto a [HealthStatus].
func ClassifyHealth(successRate float64, avgLatency time.Duration) HealthStatus {
	switch {
	case successRate >= healthySuccessRate && avgLatency < healthyAvgLatency:
		return HealthHealthy
	case successRate >= warningSuccessRate && avgLatency < warningAvgLatency:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// Service answers analytics queries for one owner's inventory. Safe for
// concurrent use.
type Service struct {
	tools market.ToolStore
	usage market.UsageStore
	clock resilience.Clock
}

// Option configures a [Service].
type Option func(*Service)

// WithClock replaces the clock anchoring lookback windows.
func WithClock(c resilience.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// New creates an analytics Service.
func New(tools market.ToolStore, usage market.UsageStore, opts ...Option) *Service {
	s := &Service{tools: tools, usage: usage, clock: resilience.RealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SummaryGroup is one (tool, bucket) cell of a usage summary.
type SummaryGroup struct {
	ToolID   string    `json:"toolId"`
	ToolName string    `json:"toolName"`
	Bucket   time.Time `json:"bucket"`

	TotalCalls      int     `json:"totalCalls"`
	SuccessfulCalls int     `json:"successfulCalls"`
	FailedCalls     int     `json:"failedCalls"`
	PaidCalls       int     `json:"paidCalls"`
	SuccessRate     float64 `json:"successRate"`

	// BilledWei is the summed charge of every call in the cell, settled or
	// not, as a decimal wei string.
	BilledWei     string `json:"billedWei"`
	BilledDisplay string `json:"billedDisplay"`

	AvgExecutionTime time.Duration `json:"avgExecutionTimeMs"`
	MinExecutionTime time.Duration `json:"minExecutionTimeMs"`
	MaxExecutionTime time.Duration `json:"maxExecutionTimeMs"`

	DistinctCallers int `json:"distinctCallers"`
}

// Summary is the rollup of one owner's usage over a timeframe.
type Summary struct {
	OwnerID   string    `json:"ownerId"`
	Timeframe Timeframe `json:"timeframe"`
	GroupBy   Bucket    `json:"groupBy"`
	Since     time.Time `json:"since"`

	TotalCalls int            `json:"totalCalls"`
	Groups     []SummaryGroup `json:"groups"`
}

// SummaryFor rolls up ownerID's usage over the given timeframe, grouped by
// (tool, bucket). Unrecognized timeframe and groupBy values fall back to
// their defaults. An owner with no tools or no usage gets a zeroed summary.
func (s *Service) SummaryFor(ctx context.Context, ownerID, timeframe, groupBy string) (Summary, error) {
	tf := ResolveTimeframe(timeframe)
	bucket := ResolveBucket(groupBy)
	since := s.clock.Now().UTC().Add(-tf.Window())

	summary := Summary{OwnerID: ownerID, Timeframe: tf, GroupBy: bucket, Since: since, Groups: []SummaryGroup{}}

	defs, records, err := s.ownerUsage(ctx, ownerID, since)
	if err != nil {
		return Summary{}, fmt.Errorf("analytics: summary for %s: %w", ownerID, err)
	}
	if len(records) == 0 {
		return summary, nil
	}
	names := toolNames(defs)

	type cell struct {
		group   SummaryGroup
		billed  []wei.Amount
		elapsed []time.Duration
		callers map[string]bool
	}
	cells := make(map[string]*cell)
	for _, rec := range records {
		start := bucket.Start(rec.Timestamp)
		key := rec.ToolID + "\x00" + start.Format(time.RFC3339)
		c := cells[key]
		if c == nil {
			c = &cell{
				group: SummaryGroup{
					ToolID:   rec.ToolID,
					ToolName: names[rec.ToolID],
					Bucket:   start,
				},
				callers: make(map[string]bool),
			}
			cells[key] = c
		}

		c.group.TotalCalls++
		if rec.Response.Success {
			c.group.SuccessfulCalls++
		} else {
			c.group.FailedCalls++
		}
		if rec.Billing.Paid {
			c.group.PaidCalls++
		}
		if amount, err := wei.Parse(rec.Billing.CostInWei); err == nil {
			c.billed = append(c.billed, amount)
		}
		c.elapsed = append(c.elapsed, rec.Response.ExecutionTime)
		c.callers[rec.CallerID] = true
		summary.TotalCalls++
	}

	for _, c := range cells {
		g := c.group
		if g.TotalCalls > 0 {
			g.SuccessRate = float64(g.SuccessfulCalls) / float64(g.TotalCalls)
		}
		billed := wei.Sum(c.billed)
		g.BilledWei = billed.String()
		g.BilledDisplay = billed.Display()
		g.AvgExecutionTime, g.MinExecutionTime, g.MaxExecutionTime = durationStats(c.elapsed)
		g.DistinctCallers = len(c.callers)
		summary.Groups = append(summary.Groups, g)
	}
	sort.SliceStable(summary.Groups, func(i, j int) bool {
		if !summary.Groups[i].Bucket.Equal(summary.Groups[j].Bucket) {
			return summary.Groups[i].Bucket.Before(summary.Groups[j].Bucket)
		}
		return summary.Groups[i].ToolID < summary.Groups[j].ToolID
	})
	return summary, nil
}

// DailyRevenue is one day of settled revenue.
type DailyRevenue struct {
	Day        time.Time `json:"day"`
	RevenueWei string    `json:"revenueWei"`
	CallCount  int       `json:"callCount"`
}

// ToolRevenue is the settled total for one tool.
type ToolRevenue struct {
	ToolID       string `json:"toolId"`
	ToolName     string `json:"toolName"`
	TotalWei     string `json:"totalWei"`
	TotalDisplay string `json:"totalDisplay"`
	SettledCalls int    `json:"settledCalls"`
}

// RevenueReport is the settled-revenue breakdown of one owner over a
// timeframe. Only records with billing.paid set count; unsettled charges are
// invisible here.
type RevenueReport struct {
	OwnerID   string    `json:"ownerId"`
	Timeframe Timeframe `json:"timeframe"`
	Since     time.Time `json:"since"`

	TotalWei     string `json:"totalWei"`
	TotalDisplay string `json:"totalDisplay"`

	// ByTool is sorted by descending total.
	ByTool []ToolRevenue `json:"byTool"`

	// Daily is sorted chronologically.
	Daily []DailyRevenue `json:"daily"`
}

// RevenueFor reports ownerID's settled revenue over the timeframe, grouped by
// day and by tool.
func (s *Service) RevenueFor(ctx context.Context, ownerID, timeframe string) (RevenueReport, error) {
	tf := ResolveTimeframe(timeframe)
	since := s.clock.Now().UTC().Add(-tf.Window())

	report := RevenueReport{
		OwnerID: ownerID, Timeframe: tf, Since: since,
		TotalWei: "0", TotalDisplay: wei.Amount{}.Display(),
		ByTool: []ToolRevenue{}, Daily: []DailyRevenue{},
	}

	defs, records, err := s.ownerUsage(ctx, ownerID, since)
	if err != nil {
		return RevenueReport{}, fmt.Errorf("analytics: revenue for %s: %w", ownerID, err)
	}
	names := toolNames(defs)

	var total []wei.Amount
	perTool := make(map[string]*ToolRevenue)
	perToolAmounts := make(map[string][]wei.Amount)
	perDay := make(map[time.Time]*DailyRevenue)
	perDayAmounts := make(map[time.Time][]wei.Amount)

	for _, rec := range records {
		if !rec.Billing.Paid {
			continue
		}
		amount, err := wei.Parse(rec.Billing.CostInWei)
		if err != nil {
			continue
		}
		total = append(total, amount)

		tr := perTool[rec.ToolID]
		if tr == nil {
			tr = &ToolRevenue{ToolID: rec.ToolID, ToolName: names[rec.ToolID]}
			perTool[rec.ToolID] = tr
		}
		tr.SettledCalls++
		perToolAmounts[rec.ToolID] = append(perToolAmounts[rec.ToolID], amount)

		day := BucketDay.Start(rec.Timestamp)
		dr := perDay[day]
		if dr == nil {
			dr = &DailyRevenue{Day: day}
			perDay[day] = dr
		}
		dr.CallCount++
		perDayAmounts[day] = append(perDayAmounts[day], amount)
	}
	if len(total) == 0 {
		return report, nil
	}

	sum := wei.Sum(total)
	report.TotalWei = sum.String()
	report.TotalDisplay = sum.Display()

	for id, tr := range perTool {
		t := wei.Sum(perToolAmounts[id])
		tr.TotalWei = t.String()
		tr.TotalDisplay = t.Display()
		report.ByTool = append(report.ByTool, *tr)
	}
	sort.SliceStable(report.ByTool, func(i, j int) bool {
		a, _ := wei.Parse(report.ByTool[i].TotalWei)
		b, _ := wei.Parse(report.ByTool[j].TotalWei)
		if c := a.Cmp(b); c != 0 {
			return c > 0
		}
		return report.ByTool[i].ToolID < report.ByTool[j].ToolID
	})

	for day, dr := range perDay {
		dr.RevenueWei = wei.Sum(perDayAmounts[day]).String()
		report.Daily = append(report.Daily, *dr)
	}
	sort.SliceStable(report.Daily, func(i, j int) bool {
		return report.Daily[i].Day.Before(report.Daily[j].Day)
	})
	return report, nil
}

// ToolPerformance is the reliability and latency profile of one tool over the
// whole retained ledger.
type ToolPerformance struct {
	ToolID   string `json:"toolId"`
	ToolName string `json:"toolName"`

	TotalCalls  int     `json:"totalCalls"`
	SuccessRate float64 `json:"successRate"`

	AvgExecutionTime time.Duration `json:"avgExecutionTimeMs"`
	MinExecutionTime time.Duration `json:"minExecutionTimeMs"`
	MaxExecutionTime time.Duration `json:"maxExecutionTimeMs"`
	P50ExecutionTime time.Duration `json:"p50ExecutionTimeMs"`
	P95ExecutionTime time.Duration `json:"p95ExecutionTimeMs"`
	P99ExecutionTime time.Duration `json:"p99ExecutionTimeMs"`

	Health HealthStatus `json:"health"`
}

// PerformanceFor profiles ownerID's active tools. A non-empty toolID narrows
// the report to that one tool. Tools with no recorded usage report zeroed
// metrics and classify as critical — no track record is not evidence of
// health.
func (s *Service) PerformanceFor(ctx context.Context, ownerID, toolID string) ([]ToolPerformance, error) {
	defs, err := s.tools.ListTools(ctx, market.ToolFilter{OwnerID: ownerID, OnlyActive: true})
	if err != nil {
		return nil, fmt.Errorf("analytics: performance for %s: %w", ownerID, err)
	}
	if toolID != "" {
		kept := defs[:0]
		for _, def := range defs {
			if def.ID == toolID {
				kept = append(kept, def)
			}
		}
		defs = kept
		if len(defs) == 0 {
			return nil, fmt.Errorf("analytics: performance for %s: tool %s: %w", ownerID, toolID, market.ErrNotFound)
		}
	}
	if len(defs) == 0 {
		return []ToolPerformance{}, nil
	}

	ids := make([]string, len(defs))
	for i, def := range defs {
		ids[i] = def.ID
	}
	records, err := s.usage.QueryUsage(ctx, market.UsageFilter{ToolIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("analytics: performance for %s: query usage: %w", ownerID, err)
	}

	type stats struct {
		total, success int
		elapsed        []time.Duration
	}
	perTool := make(map[string]*stats, len(defs))
	for _, rec := range records {
		st := perTool[rec.ToolID]
		if st == nil {
			st = &stats{}
			perTool[rec.ToolID] = st
		}
		st.total++
		if rec.Response.Success {
			st.success++
		}
		st.elapsed = append(st.elapsed, rec.Response.ExecutionTime)
	}

	out := make([]ToolPerformance, 0, len(defs))
	for _, def := range defs {
		perf := ToolPerformance{ToolID: def.ID, ToolName: def.Name}
		if st := perTool[def.ID]; st != nil && st.total > 0 {
			perf.TotalCalls = st.total
			perf.SuccessRate = float64(st.success) / float64(st.total)
			perf.AvgExecutionTime, perf.MinExecutionTime, perf.MaxExecutionTime = durationStats(st.elapsed)
			perf.P50ExecutionTime = percentile(st.elapsed, 0.50)
			perf.P95ExecutionTime = percentile(st.elapsed, 0.95)
			perf.P99ExecutionTime = percentile(st.elapsed, 0.99)
		}
		perf.Health = ClassifyHealth(perf.SuccessRate, perf.AvgExecutionTime)
		out = append(out, perf)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out, nil
}

// ownerUsage resolves ownerID's active inventory and its ledger records
// since the given time. Deactivated tools drop out of reporting along with
// their history; an empty inventory yields no records.
func (s *Service) ownerUsage(ctx context.Context, ownerID string, since time.Time) ([]market.ToolDefinition, []market.UsageRecord, error) {
	defs, err := s.tools.ListTools(ctx, market.ToolFilter{OwnerID: ownerID, OnlyActive: true})
	if err != nil {
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}
	if len(defs) == 0 {
		return nil, nil, nil
	}
	ids := make([]string, len(defs))
	for i, def := range defs {
		ids[i] = def.ID
	}
	records, err := s.usage.QueryUsage(ctx, market.UsageFilter{ToolIDs: ids, Since: since})
	if err != nil {
		return nil, nil, fmt.Errorf("query usage: %w", err)
	}
	return defs, records, nil
}

func toolNames(defs []market.ToolDefinition) map[string]string {
	names := make(map[string]string, len(defs))
	for _, def := range defs {
		names[def.ID] = def.Name
	}
	return names
}

// durationStats returns (avg, min, max) over a non-empty sample.
func durationStats(sample []time.Duration) (avg, min, max time.Duration) {
	if len(sample) == 0 {
		return 0, 0, 0
	}
	min, max = sample[0], sample[0]
	var total time.Duration
	for _, d := range sample {
		total += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return total / time.Duration(len(sample)), min, max
}

// percentile returns the p-quantile (0 < p <= 1) of the sample using
// nearest-rank on a sorted copy.
func percentile(sample []time.Duration, p float64) time.Duration {
	if len(sample) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(sample))
	copy(sorted, sample)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
