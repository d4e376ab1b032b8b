package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-trader/internal/campaign"
	"signal-trader/internal/fakeexchange"
	"signal-trader/pkg/exchanges/common"
)

func TestReconcileSyncsTickStreamingCampaigns(t *testing.T) {
	reg := campaign.NewRegistry()
	for _, id := range []string{"live", "idle"} {
		if err := reg.Add(campaign.New(id, campaign.DefaultConfig(), nil)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		reg.SetSymbols(id, []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"})
	}
	reg.ClaimTickStream("live")
	stale := common.Position{InstID: "BTC-USDT-SWAP", PosSide: common.PosSideLong, Contracts: 2}
	reg.ReplacePositions("live", []common.Position{stale})
	reg.ReplacePositions("idle", []common.Position{stale})

	ex := fakeexchange.New()
	ex.SetPosition(common.Position{InstID: "ETH-USDT-SWAP", PosSide: common.PosSideShort, Contracts: 1})

	svc := NewService(ex, reg, nil, time.Minute, zerolog.Nop())
	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Campaigns != 1 {
		t.Fatalf("campaigns=%d, expected only the tick-streaming one", report.Campaigns)
	}
	if len(report.PositionDiffs) != 2 || report.SyncedCount != 2 {
		t.Fatalf("report=%+v, expected two synced diffs", report)
	}
	if _, ok := reg.Position("live", "BTC-USDT-SWAP"); ok {
		t.Fatalf("closed position still cached")
	}
	if p, ok := reg.Position("live", "ETH-USDT-SWAP"); !ok || p.PosSide != common.PosSideShort {
		t.Fatalf("eth=%+v ok=%v, expected short", p, ok)
	}
	if _, ok := reg.Position("idle", "BTC-USDT-SWAP"); !ok {
		t.Fatalf("idle campaign touched")
	}
}

func TestReconcileWithoutAutoSync(t *testing.T) {
	reg := campaign.NewRegistry()
	if err := reg.Add(campaign.New("c1", campaign.DefaultConfig(), nil)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	reg.SetSymbols("c1", []string{"BTC-USDT-SWAP"})
	reg.ClaimTickStream("c1")
	reg.ReplacePositions("c1", []common.Position{{InstID: "BTC-USDT-SWAP", PosSide: common.PosSideLong, Contracts: 1}})

	svc := NewService(fakeexchange.New(), reg, nil, time.Minute, zerolog.Nop())
	svc.SetAutoSync(false)
	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.HasDiffs || report.SyncedCount != 0 {
		t.Fatalf("report=%+v, expected unsynced diff", report)
	}
	if _, ok := reg.Position("c1", "BTC-USDT-SWAP"); !ok {
		t.Fatalf("position dropped without auto-sync")
	}
}
