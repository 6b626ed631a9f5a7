package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agoramesh/agora/internal/resilience"
	"github.com/agoramesh/agora/pkg/market"
	"github.com/agoramesh/agora/pkg/market/memstore"
)

var anchor = time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memstore.MemStore) {
	t.Helper()
	store := memstore.New()
	clock := resilience.NewFakeClock(anchor)
	return New(store, store, WithClock(clock)), store
}

func seedTool(t *testing.T, store *memstore.MemStore, id, owner string) {
	t.Helper()
	err := store.CreateTool(context.Background(), market.ToolDefinition{
		ID: id, OwnerID: owner, Name: "Tool " + id, Category: "c",
		Pricing:   market.Pricing{CostInWei: "1000"},
		Metadata:  market.Metadata{IsActive: true, IsPublic: true},
		Embedding: []float32{1},
		CreatedAt: anchor,
	})
	if err != nil {
		t.Fatalf("seed tool %s: %v", id, err)
	}
}

func appendRecord(t *testing.T, store *memstore.MemStore, toolID, callerID string, ts time.Time, success, paid bool, cost string, elapsed time.Duration) {
	t.Helper()
	err := store.AppendUsage(context.Background(), market.UsageRecord{
		ToolID:    toolID,
		CallerID:  callerID,
		Response:  market.ExecutionResponse{Success: success, ExecutionTime: elapsed},
		Billing:   market.Billing{CostInWei: cost, Paid: paid},
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("append usage: %v", err)
	}
}

func TestResolveTimeframe(t *testing.T) {
	cases := map[string]Timeframe{
		"24h":     TimeframeDay,
		"7d":      TimeframeWeek,
		"30d":     TimeframeMonth,
		"90d":     TimeframeQuarter,
		"1y":      TimeframeYear,
		"":        TimeframeMonth,
		"forever": TimeframeMonth,
		" 7D ":    TimeframeWeek,
	}
	for in, want := range cases {
		if got := ResolveTimeframe(in); got != want {
			t.Errorf("ResolveTimeframe(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBucketStart(t *testing.T) {
	ts := time.Date(2026, 8, 15, 10, 30, 45, 0, time.UTC) // a Saturday

	cases := []struct {
		bucket Bucket
		want   time.Time
	}{
		{BucketHour, time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)},
		{BucketDay, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)},
		{BucketWeek, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)}, // Monday
		{BucketMonth, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := tc.bucket.Start(ts); !got.Equal(tc.want) {
			t.Errorf("%s.Start = %v, want %v", tc.bucket, got, tc.want)
		}
	}
}

func TestClassifyHealth(t *testing.T) {
	cases := []struct {
		rate    float64
		latency time.Duration
		want    HealthStatus
	}{
		{0.96, 3000 * time.Millisecond, HealthHealthy},
		{0.90, 8000 * time.Millisecond, HealthWarning},
		{0.50, 100 * time.Millisecond, HealthCritical},
		{0.96, 6000 * time.Millisecond, HealthWarning},
		{0.96, 12000 * time.Millisecond, HealthCritical},
		{0.95, 4999 * time.Millisecond, HealthHealthy},
		{0.85, 9999 * time.Millisecond, HealthWarning},
	}
	for _, tc := range cases {
		if got := ClassifyHealth(tc.rate, tc.latency); got != tc.want {
			t.Errorf("ClassifyHealth(%v, %v) = %q, want %q", tc.rate, tc.latency, got, tc.want)
		}
	}
}

func TestSummaryFor(t *testing.T) {
	svc, store := newService(t)
	seedTool(t, store, "t1", "alice")
	seedTool(t, store, "t2", "alice")
	seedTool(t, store, "other", "bob")

	day1 := anchor.Add(-48 * time.Hour)
	day2 := anchor.Add(-24 * time.Hour)
	appendRecord(t, store, "t1", "c1", day1, true, true, "100", 1*time.Second)
	appendRecord(t, store, "t1", "c2", day1.Add(time.Hour), false, false, "100", 3*time.Second)
	appendRecord(t, store, "t1", "c1", day2, true, false, "100", 2*time.Second)
	appendRecord(t, store, "t2", "c1", day2, true, true, "500", 1*time.Second)
	// Outside the 24h-timeframe tests below but inside 30d.
	appendRecord(t, store, "other", "c1", day2, true, true, "999", time.Second)

	sum, err := svc.SummaryFor(context.Background(), "alice", "", "")
	if err != nil {
		t.Fatalf("SummaryFor: %v", err)
	}
	if sum.Timeframe != TimeframeMonth || sum.GroupBy != BucketDay {
		t.Errorf("defaults = %q/%q, want 30d/day", sum.Timeframe, sum.GroupBy)
	}
	if sum.TotalCalls != 4 {
		t.Errorf("totalCalls = %d, want 4 (bob's usage excluded)", sum.TotalCalls)
	}
	if len(sum.Groups) != 3 {
		t.Fatalf("got %d groups, want 3: %+v", len(sum.Groups), sum.Groups)
	}

	// Chronological, then by tool id.
	g := sum.Groups[0]
	if g.ToolID != "t1" || !g.Bucket.Equal(BucketDay.Start(day1)) {
		t.Fatalf("first group = %+v, want t1 on day1", g)
	}
	if g.TotalCalls != 2 || g.SuccessfulCalls != 1 || g.FailedCalls != 1 || g.PaidCalls != 1 {
		t.Errorf("day1 counts = %+v", g)
	}
	if g.SuccessRate != 0.5 {
		t.Errorf("successRate = %v, want 0.5", g.SuccessRate)
	}
	if g.BilledWei != "200" {
		t.Errorf("billedWei = %q, want 200", g.BilledWei)
	}
	if g.DistinctCallers != 2 {
		t.Errorf("distinctCallers = %d, want 2", g.DistinctCallers)
	}
	if g.AvgExecutionTime != 2*time.Second || g.MinExecutionTime != time.Second || g.MaxExecutionTime != 3*time.Second {
		t.Errorf("latency stats = avg %v min %v max %v", g.AvgExecutionTime, g.MinExecutionTime, g.MaxExecutionTime)
	}
	if g.ToolName != "Tool t1" {
		t.Errorf("toolName = %q", g.ToolName)
	}

	if sum.Groups[1].ToolID != "t1" || sum.Groups[2].ToolID != "t2" {
		t.Errorf("group order = %s, %s; want t1 then t2 on day2", sum.Groups[1].ToolID, sum.Groups[2].ToolID)
	}
}

func TestSummaryFor_TimeframeExcludesOldRecords(t *testing.T) {
	svc, store := newService(t)
	seedTool(t, store, "t1", "alice")

	appendRecord(t, store, "t1", "c1", anchor.Add(-2*time.Hour), true, false, "100", time.Second)
	appendRecord(t, store, "t1", "c1", anchor.Add(-72*time.Hour), true, false, "100", time.Second)

	sum, err := svc.SummaryFor(context.Background(), "alice", "24h", "hour")
	if err != nil {
		t.Fatalf("SummaryFor: %v", err)
	}
	if sum.TotalCalls != 1 {
		t.Errorf("totalCalls = %d, want 1 within 24h", sum.TotalCalls)
	}
}

func TestSummaryFor_EmptyOwner(t *testing.T) {
	svc, _ := newService(t)

	sum, err := svc.SummaryFor(context.Background(), "nobody", "7d", "week")
	if err != nil {
		t.Fatalf("SummaryFor: %v", err)
	}
	if sum.TotalCalls != 0 || len(sum.Groups) != 0 {
		t.Errorf("summary = %+v, want zeroed", sum)
	}
}

func TestSummaryFor_ExcludesDeactivatedTools(t *testing.T) {
	svc, store := newService(t)
	seedTool(t, store, "t1", "alice")
	appendRecord(t, store, "t1", "c1", anchor.Add(-time.Hour), true, true, "100", time.Second)

	if _, err := store.DeactivateTool(context.Background(), "t1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	sum, err := svc.SummaryFor(context.Background(), "alice", "", "")
	if err != nil {
		t.Fatalf("SummaryFor: %v", err)
	}
	if sum.TotalCalls != 0 || len(sum.Groups) != 0 {
		t.Errorf("summary = %+v, want no rollup for a deactivated tool", sum)
	}

	rep, err := svc.RevenueFor(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("RevenueFor: %v", err)
	}
	if rep.TotalWei != "0" || len(rep.ByTool) != 0 {
		t.Errorf("revenue = %+v, want zeroed", rep)
	}
}

func TestRevenueFor_OnlySettledRecords(t *testing.T) {
	svc, store := newService(t)
	seedTool(t, store, "t1", "alice")
	seedTool(t, store, "t2", "alice")

	day1 := anchor.Add(-48 * time.Hour)
	day2 := anchor.Add(-24 * time.Hour)
	appendRecord(t, store, "t1", "c1", day1, true, true, "1000", time.Second)
	appendRecord(t, store, "t1", "c1", day2, true, true, "1000", time.Second)
	appendRecord(t, store, "t2", "c1", day2, true, true, "5000", time.Second)
	appendRecord(t, store, "t1", "c1", day2, true, false, "7777", time.Second) // unsettled

	report, err := svc.RevenueFor(context.Background(), "alice", "7d")
	if err != nil {
		t.Fatalf("RevenueFor: %v", err)
	}
	if report.TotalWei != "7000" {
		t.Errorf("totalWei = %q, want 7000 (unsettled excluded)", report.TotalWei)
	}

	if len(report.ByTool) != 2 {
		t.Fatalf("byTool has %d entries, want 2", len(report.ByTool))
	}
	if report.ByTool[0].ToolID != "t2" || report.ByTool[0].TotalWei != "5000" {
		t.Errorf("top earner = %+v, want t2 with 5000", report.ByTool[0])
	}
	if report.ByTool[1].SettledCalls != 2 {
		t.Errorf("t1 settledCalls = %d, want 2", report.ByTool[1].SettledCalls)
	}

	if len(report.Daily) != 2 {
		t.Fatalf("daily has %d entries, want 2", len(report.Daily))
	}
	if !report.Daily[0].Day.Before(report.Daily[1].Day) {
		t.Error("daily breakdown is not chronological")
	}
	if report.Daily[1].RevenueWei != "6000" || report.Daily[1].CallCount != 2 {
		t.Errorf("day2 revenue = %+v, want 6000 across 2 calls", report.Daily[1])
	}
}

func TestRevenueFor_NoSettledUsage(t *testing.T) {
	svc, store := newService(t)
	seedTool(t, store, "t1", "alice")
	appendRecord(t, store, "t1", "c1", anchor.Add(-time.Hour), true, false, "1000", time.Second)

	report, err := svc.RevenueFor(context.Background(), "alice", "7d")
	if err != nil {
		t.Fatalf("RevenueFor: %v", err)
	}
	if report.TotalWei != "0" || len(report.ByTool) != 0 || len(report.Daily) != 0 {
		t.Errorf("report = %+v, want zeroed", report)
	}
}

func TestPerformanceFor(t *testing.T) {
	svc, store := newService(t)
	seedTool(t, store, "good", "alice")
	seedTool(t, store, "bad", "alice")
	seedTool(t, store, "silent", "alice")

	ts := anchor.Add(-time.Hour)
	for i := 0; i < 19; i++ {
		appendRecord(t, store, "good", "c1", ts, true, false, "100", time.Second)
	}
	appendRecord(t, store, "good", "c1", ts, false, false, "100", time.Second)
	appendRecord(t, store, "bad", "c1", ts, false, false, "100", 20*time.Second)
	appendRecord(t, store, "bad", "c1", ts, true, false, "100", 20*time.Second)

	perfs, err := svc.PerformanceFor(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("PerformanceFor: %v", err)
	}
	if len(perfs) != 3 {
		t.Fatalf("got %d profiles, want 3", len(perfs))
	}

	byID := make(map[string]ToolPerformance)
	for _, p := range perfs {
		byID[p.ToolID] = p
	}
	if p := byID["good"]; p.Health != HealthHealthy || p.SuccessRate != 0.95 || p.TotalCalls != 20 {
		t.Errorf("good = %+v, want healthy at 0.95", p)
	}
	if p := byID["bad"]; p.Health != HealthCritical {
		t.Errorf("bad = %+v, want critical", p)
	}
	if p := byID["silent"]; p.Health != HealthCritical || p.TotalCalls != 0 {
		t.Errorf("silent = %+v, want zeroed critical", p)
	}
}

func TestPerformanceFor_SingleTool(t *testing.T) {
	svc, store := newService(t)
	seedTool(t, store, "t1", "alice")
	seedTool(t, store, "t2", "alice")
	appendRecord(t, store, "t1", "c1", anchor.Add(-time.Hour), true, false, "100", time.Second)

	perfs, err := svc.PerformanceFor(context.Background(), "alice", "t1")
	if err != nil {
		t.Fatalf("PerformanceFor: %v", err)
	}
	if len(perfs) != 1 || perfs[0].ToolID != "t1" {
		t.Errorf("profiles = %+v, want just t1", perfs)
	}
}

func TestPerformanceFor_UnknownTool(t *testing.T) {
	svc, store := newService(t)
	seedTool(t, store, "t1", "alice")

	_, err := svc.PerformanceFor(context.Background(), "alice", "ghost")
	if !errors.Is(err, market.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPerformanceFor_ExcludesDeactivatedTools(t *testing.T) {
	svc, store := newService(t)
	seedTool(t, store, "t1", "alice")
	appendRecord(t, store, "t1", "c1", anchor.Add(-time.Hour), true, false, "100", time.Second)

	if _, err := store.DeactivateTool(context.Background(), "t1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	perfs, err := svc.PerformanceFor(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("PerformanceFor: %v", err)
	}
	if len(perfs) != 0 {
		t.Errorf("perfs = %+v, want none for a deactivated tool", perfs)
	}

	// Narrowing to the deactivated tool reads the same as an unknown one.
	if _, err := svc.PerformanceFor(context.Background(), "alice", "t1"); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPercentile(t *testing.T) {
	sample := []time.Duration{
		5 * time.Second, 1 * time.Second, 3 * time.Second, 2 * time.Second, 4 * time.Second,
	}
	if got := percentile(sample, 0.50); got != 3*time.Second {
		t.Errorf("p50 = %v, want 3s", got)
	}
	if got := percentile(sample, 0.99); got != 5*time.Second {
		t.Errorf("p99 = %v, want 5s", got)
	}
	if got := percentile(nil, 0.95); got != 0 {
		t.Errorf("empty sample p95 = %v, want 0", got)
	}
}
