package mac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

const testDst = 99

func newV2xHarness(t *testing.T, cfg Config, metrics *fakeMetrics) (*harness, *fakeLc) {
	t.Helper()
	h := newHarness(t, cfg, WithStartupDelay(0), WithMetricsRecorder(metrics))
	require.NoError(t, h.mac.AddV2xPool(testDst, newTestPool(t)))
	lc := &fakeLc{}
	key := SidelinkLcKey{Lcid: 4, SrcL2ID: 1, DstL2ID: testDst}
	require.NoError(t, h.mac.AddSlLc(key, LcConfig{}, lc))
	require.NoError(t, h.mac.ReportSidelinkBufferStatus(key, BufferStatus{TxQueue: 1_000_000}))
	return h, lc
}

func TestV2xSemiPersistentSchedule(t *testing.T) {
	metrics := &fakeMetrics{}
	h, lc := newV2xHarness(t, testV2xConfig(), metrics)

	status, err := h.mac.V2xPoolStatus(testDst)
	require.NoError(t, err)
	require.Equal(t, PhaseReselecting, status.Phase)

	h.run(t, 1)
	status, err = h.mac.V2xPoolStatus(testDst)
	require.NoError(t, err)
	require.Equal(t, PhaseIdleWaitingReselection, status.Phase)
	// Seed 11 draws a counter of 9 and picks subchannel 2 of (3,7) from
	// the 20 quietest of 96 candidates; with no sensing history nothing is
	// excluded.
	require.Equal(t, 9, status.ReselectionCounter)
	require.Equal(t, model.NewSubframeInfo(3, 7), status.Grant.Start)
	require.Equal(t, uint16(2), status.Grant.ResPscch)
	require.Len(t, status.PendingPscch, 9)
	require.Equal(t, uint16(10), status.PendingPssch[0].RbStart)
	require.Equal(t, []reselectionSizes{{candidates: 96, survivors: 96, selected: 20}}, metrics.sizes)

	h.run(t, 1199)

	scis := h.phy.ofType(model.MessageSciV2x)
	require.GreaterOrEqual(t, len(scis), 5)
	// (3,7) is scheduled at PHY subframe index 22, four ahead of the MAC.
	require.Equal(t, 22, scis[0].at)
	require.Equal(t, 100, scis[1].at-scis[0].at)
	require.Equal(t, uint16(2), scis[0].msg.(model.SciV2x).ResPscch)

	for _, c := range scis {
		sci := c.msg.(model.SciV2x)
		require.Equal(t, uint16(7), sci.Rnti)
		require.Equal(t, uint16(100), sci.PRsvp)
		require.Less(t, sci.ResPscch, uint16(3))
		require.Equal(t, uint32(62), sci.TbSize)
		require.Zero(t, sci.SfGap)
	}

	require.Len(t, h.phy.pdus, len(scis))
	for _, p := range h.phy.pdus {
		require.Equal(t, model.DirectionSidelink, p.pkt.Direction)
		require.Equal(t, uint32(testDst), p.pkt.DstL2ID)
		require.Equal(t, uint32(62), p.pkt.Size)
		require.Equal(t, uint16(5), p.slot.RbLen)
	}
	require.Len(t, lc.ops, len(scis))
	require.GreaterOrEqual(t, metrics.reselections, 1)
	require.Equal(t, 1, h.rrc.hasData)
}

func TestV2xBlindRetransmission(t *testing.T) {
	cfg := testV2xConfig()
	cfg.EnableV2xHarq = true
	metrics := &fakeMetrics{}
	h, lc := newV2xHarness(t, cfg, metrics)
	h.run(t, 1000)

	scis := h.phy.ofType(model.MessageSciV2x)
	require.NotEmpty(t, scis)
	// Every SCI is followed by one PDU: new data or the HARQ copy.
	require.Len(t, h.phy.pdus, len(scis))
	require.Equal(t, len(scis), len(lc.ops)+metrics.harqRetx)

	for _, c := range scis {
		sci := c.msg.(model.SciV2x)
		require.LessOrEqual(t, sci.SfGap, uint8(maxRetxGap))
		if sci.SfGap == 0 {
			require.Zero(t, sci.ReTxIdx)
		}
	}
	first := scis[0].msg.(model.SciV2x)
	if first.SfGap > 0 {
		require.Equal(t, int(first.SfGap), scis[1].at-scis[0].at)
		require.Equal(t, h.phy.pdus[0].pkt, h.phy.pdus[1].pkt)
	}
}

func TestV2xWaitsForStartupDelay(t *testing.T) {
	h := newHarness(t, testV2xConfig(), WithStartupDelay(50))
	require.NoError(t, h.mac.AddV2xPool(testDst, newTestPool(t)))
	h.run(t, 49)
	status, err := h.mac.V2xPoolStatus(testDst)
	require.NoError(t, err)
	require.Empty(t, status.PendingPscch)

	h.run(t, 1)
	status, err = h.mac.V2xPoolStatus(testDst)
	require.NoError(t, err)
	require.NotEmpty(t, status.PendingPscch)
}

func TestV2xScheduledPoolReportsBufferInsteadOfSelecting(t *testing.T) {
	pool, err := sidelink.NewV2xPool(sidelink.V2xPoolConfig{
		Scheduling:     sidelink.Scheduled,
		SizeSubchannel: 5,
		NumSubchannel:  3,
		Index:          2,
	})
	require.NoError(t, err)

	h := newHarness(t, testV2xConfig(), WithStartupDelay(0))
	require.NoError(t, h.mac.AddV2xPool(testDst, pool))
	key := SidelinkLcKey{Lcid: 4, SrcL2ID: 1, DstL2ID: testDst}
	require.NoError(t, h.mac.AddSlLc(key, LcConfig{}, &fakeLc{}))
	require.NoError(t, h.mac.ReportSidelinkBufferStatus(key, BufferStatus{TxQueue: 900}))
	h.run(t, 200)

	require.Empty(t, h.phy.ofType(model.MessageSciV2x))
	bsrs := h.phy.ofType(model.MessageSlBsr)
	require.Len(t, bsrs, 1)
	require.Equal(t, BufferSizeToBsrID(900), bsrs[0].msg.(model.SlBsr).BufferStatus[2])
}
