package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacifica-bot/pkg/exchange"
)

// The guard walks the ladder one rung at a time: order cancels while margin
// sits between the two thresholds, position reduction only once it falls
// below the lower one.
func TestMarginEscalationLadder(t *testing.T) {
	gw := newStubGateway()
	gw.mark = 100
	gw.positions[testSymbol] = []exchange.Position{
		{Symbol: testSymbol, Side: exchange.SideBid, Qty: 1, EntryPrice: 100, MarkPrice: 100},
	}
	gw.orders[testSymbol] = []exchange.OpenOrder{
		{OrderID: "far", Symbol: testSymbol, Side: exchange.SideBid, Price: 80, Qty: 1},
	}
	gw.accounts = []exchange.AccountState{{Equity: 100, MarginUsed: 85}} // 15% free
	guard := NewGuard(DefaultConfig(), seedState(t, gw), gw, &Recorder{})

	act, err := guard.CheckMarginSafety(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Equal(t, ActionCancelOrders, act)
	assert.Equal(t, []string{"far"}, gw.canceledIDs())
	assert.Empty(t, gw.createdOrders())

	// Margin keeps deteriorating: the next sweep finds 8% free and no
	// orders left to cancel, so the guard reduces the position itself.
	gw.accounts = []exchange.AccountState{{Equity: 100, MarginUsed: 92}}
	act, err = guard.CheckMarginSafety(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Equal(t, ActionReducePosition, act)
	created := gw.createdOrders()
	require.Len(t, created, 1)
	assert.True(t, created[0].ReduceOnly)
	assert.Equal(t, exchange.SideAsk, created[0].Side)
	assert.InDelta(t, 0.25, created[0].Qty, 1e-9)
}

// A session pause gates new grid orders only. The coverage engine must keep
// protecting whatever position is still open.
func TestProtectiveLayersSurviveSessionPause(t *testing.T) {
	gw := newStubGateway()
	gw.mark = 100
	gw.positions[testSymbol] = []exchange.Position{
		{Symbol: testSymbol, Side: exchange.SideBid, Qty: 1, EntryPrice: 100, MarkPrice: 100},
	}
	st := seedState(t, gw)
	cfg := DefaultConfig()
	sess := NewSession(cfg, nil, nil, "test", 0)
	cov := NewCoverage(cfg, st, gw, &Recorder{})

	out := sess.OnCycleClosed(context.Background(), testSymbol, -250, -2.5)
	assert.True(t, out.Breached)
	require.Equal(t, SessionPaused, sess.State())
	assert.False(t, sess.CanPlaceOrders())

	require.NoError(t, cov.Ensure(context.Background(), testSymbol))
	created := gw.createdOrders()
	require.Len(t, created, 2)
	for _, req := range created {
		assert.True(t, req.ReduceOnly)
		assert.Equal(t, exchange.SideAsk, req.Side)
	}
	assert.Equal(t, CoverProtected, cov.State(testSymbol))
}

// An orphan adopted during sync is risk-managed in the same polling cycle:
// the coverage engine protects it and the watchdog evaluates it without
// waiting for another sweep.
func TestAdoptedOrphanIsRiskManagedSameCycle(t *testing.T) {
	gw := newStubGateway()
	gw.mark = 100
	gw.positions[testSymbol] = []exchange.Position{
		{Symbol: testSymbol, Side: exchange.SideBid, Qty: 1, EntryPrice: 100, MarkPrice: 100},
	}
	st := seedState(t, gw) // fresh local book: the sync adopts the position
	pos, ok := st.Position(testSymbol)
	require.True(t, ok)
	assert.True(t, pos.Adopted)

	cfg := DefaultConfig()
	cov := NewCoverage(cfg, st, gw, &Recorder{})
	require.NoError(t, cov.Ensure(context.Background(), testSymbol))
	require.Len(t, gw.createdOrders(), 2)
	assert.Equal(t, CoverProtected, cov.State(testSymbol))

	// The watchdog sees the adopted position too: a crash past the
	// emergency stop closes it on the spot.
	gw.mark = 96
	st.RefreshPrice(context.Background(), testSymbol)
	em := NewEmergency(cfg, st, gw, &Recorder{}, []string{testSymbol}, time.Second)
	em.checkSymbol(context.Background(), testSymbol)

	created := gw.createdOrders()
	require.Len(t, created, 3)
	last := created[2]
	assert.Equal(t, exchange.KindMarket, last.Kind)
	assert.True(t, last.ReduceOnly)
	_, stillOpen := st.Position(testSymbol)
	assert.False(t, stillOpen)
}
