package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agoramesh/agora/pkg/market"
)

func newTool(id, owner string) market.ToolDefinition {
	return market.ToolDefinition{
		ID:          id,
		OwnerID:     owner,
		Name:        "tool-" + id,
		Description: "test tool",
		Category:    "Weather",
		Pricing:     market.Pricing{CostInWei: "1000"},
		Metadata:    market.Metadata{IsActive: true, IsPublic: true},
		Embedding:   []float32{1, 0, 0},
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
}

func TestCreateGet(t *testing.T) {
	ctx := context.Background()
	s := New()

	def := newTool("t1", "alice")
	if err := s.CreateTool(ctx, def); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}

	got, err := s.GetTool(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTool: %v", err)
	}
	if got.Name != def.Name || got.OwnerID != "alice" {
		t.Errorf("got %+v, want name/owner of %+v", got, def)
	}
}

func TestCreate_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateTool(ctx, newTool("t1", "alice")); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}
	if err := s.CreateTool(ctx, newTool("t1", "bob")); !errors.Is(err, market.ErrDuplicateID) {
		t.Errorf("err = %v, want ErrDuplicateID", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	_, err := New().GetTool(context.Background(), "nope")
	if !errors.Is(err, market.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateTool(ctx, newTool("t1", "alice")); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}

	got, _ := s.GetTool(ctx, "t1")
	got.Embedding[0] = 99
	got.Metadata.Tags = append(got.Metadata.Tags, "mutated")

	again, _ := s.GetTool(ctx, "t1")
	if again.Embedding[0] != 1 {
		t.Error("mutation through returned copy leaked into the store")
	}
	if len(again.Metadata.Tags) != 0 {
		t.Error("tag mutation leaked into the store")
	}
}

func TestDeactivate_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateTool(ctx, newTool("t1", "alice")); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}

	flipped, err := s.DeactivateTool(ctx, "t1")
	if err != nil || !flipped {
		t.Fatalf("first deactivate: flipped=%v err=%v, want true nil", flipped, err)
	}
	flipped, err = s.DeactivateTool(ctx, "t1")
	if err != nil || flipped {
		t.Fatalf("second deactivate: flipped=%v err=%v, want false nil", flipped, err)
	}
	if _, err := s.DeactivateTool(ctx, "ghost"); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("deactivate unknown: err = %v, want ErrNotFound", err)
	}
}

func TestListTools_Filters(t *testing.T) {
	ctx := context.Background()
	s := New()

	cheap := newTool("cheap", "alice")
	cheap.Pricing.CostInWei = "100"
	cheap.Metadata.Tags = []string{"finance"}

	pricey := newTool("pricey", "bob")
	pricey.Pricing.CostInWei = "2000000000000000000"
	pricey.Category = "forecasting"

	private := newTool("private", "alice")
	private.Metadata.IsPublic = false

	inactive := newTool("inactive", "alice")
	inactive.Metadata.IsActive = false

	for _, d := range []market.ToolDefinition{cheap, pricey, private, inactive} {
		if err := s.CreateTool(ctx, d); err != nil {
			t.Fatalf("CreateTool(%s): %v", d.ID, err)
		}
	}

	tests := []struct {
		name    string
		filter  market.ToolFilter
		wantIDs map[string]bool
	}{
		{
			"owner",
			market.ToolFilter{OwnerID: "alice"},
			map[string]bool{"cheap": true, "private": true, "inactive": true},
		},
		{
			"active public only",
			market.ToolFilter{OnlyActive: true, OnlyPublic: true},
			map[string]bool{"cheap": true, "pricey": true},
		},
		{
			"category substring case-insensitive",
			market.ToolFilter{Category: "FORECAST"},
			map[string]bool{"pricey": true},
		},
		{
			"max cost integer comparison",
			market.ToolFilter{MaxCostWei: "1999999999999999999"},
			map[string]bool{"cheap": true, "private": true, "inactive": true},
		},
		{
			"tag membership",
			market.ToolFilter{Tag: "finance"},
			map[string]bool{"cheap": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTools(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTools: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d tools, want %d", len(got), len(tt.wantIDs))
			}
			for _, d := range got {
				if !tt.wantIDs[d.ID] {
					t.Errorf("unexpected tool %q in result", d.ID)
				}
			}
		})
	}
}

func TestListTools_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()

	old := newTool("old", "alice")
	old.CreatedAt = time.Now().Add(-time.Hour)
	recent := newTool("recent", "alice")
	recent.CreatedAt = time.Now()

	if err := s.CreateTool(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTool(ctx, recent); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListTools(ctx, market.ToolFilter{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if got[0].ID != "recent" || got[1].ID != "old" {
		t.Errorf("order = [%s %s], want [recent old]", got[0].ID, got[1].ID)
	}
}

func TestUsage_AppendQuery(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	recs := []market.UsageRecord{
		{ID: "r1", ToolID: "t1", CallerID: "c1", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "r2", ToolID: "t1", CallerID: "c2", Timestamp: now.Add(-time.Minute)},
		{ID: "r3", ToolID: "t2", CallerID: "c1", Timestamp: now},
	}
	for _, r := range recs {
		if err := s.AppendUsage(ctx, r); err != nil {
			t.Fatalf("AppendUsage: %v", err)
		}
	}

	got, err := s.QueryUsage(ctx, market.UsageFilter{
		ToolIDs: []string{"t1"},
		Since:   now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("QueryUsage: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r2" {
		t.Fatalf("got %v, want just r2", got)
	}

	byCaller, err := s.QueryUsage(ctx, market.UsageFilter{CallerID: "c1"})
	if err != nil {
		t.Fatalf("QueryUsage: %v", err)
	}
	if len(byCaller) != 2 {
		t.Errorf("caller filter returned %d records, want 2", len(byCaller))
	}
	// Ascending timestamp order.
	if byCaller[0].ID != "r1" || byCaller[1].ID != "r3" {
		t.Errorf("order = [%s %s], want [r1 r3]", byCaller[0].ID, byCaller[1].ID)
	}
}

func TestUsage_MarkPaid(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.AppendUsage(ctx, market.UsageRecord{ID: "r1", ToolID: "t1"}); err != nil {
		t.Fatal(err)
	}

	paidAt := time.Now().UTC()
	if err := s.MarkPaid(ctx, "r1", "0xabc", paidAt); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	got, _ := s.QueryUsage(ctx, market.UsageFilter{ToolIDs: []string{"t1"}})
	if !got[0].Billing.Paid || got[0].Billing.TransactionHash != "0xabc" {
		t.Errorf("billing not updated: %+v", got[0].Billing)
	}
	if err := s.MarkPaid(ctx, "ghost", "0x0", paidAt); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("MarkPaid unknown: err = %v, want ErrNotFound", err)
	}
}

func TestAppendUsage_AssignsID(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.AppendUsage(ctx, market.UsageRecord{ToolID: "t1"}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.QueryUsage(ctx, market.UsageFilter{})
	if got[0].ID == "" {
		t.Error("record id was not assigned")
	}
}
