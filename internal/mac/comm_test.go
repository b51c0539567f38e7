package mac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

const commDst = 0x1234

func testCommPool(t *testing.T, sched sidelink.SchedulingType) *sidelink.CommPool {
	t.Helper()
	pool, err := sidelink.NewCommPool(sidelink.CommPoolConfig{
		Scheduling: sched,
		PeriodMs:   40,
		ScBitmap:   "1111000000",
		ScPrbEnd:   9,
		ScPrbNum:   2,
		DataOffset: 10,
		DataBitmap: "1",
		DataPrbEnd: 9,
		DataPrbNum: 5,
	})
	require.NoError(t, err)
	return pool
}

func testCommConfig() Config {
	cfg := DefaultConfig()
	cfg.UlBandwidth = 10
	cfg.SlGrantSize = 2
	cfg.Ktrp = 8
	cfg.Seed = 5
	return cfg
}

func addCommChannel(t *testing.T, h *harness) (*fakeLc, SidelinkLcKey) {
	t.Helper()
	lc := &fakeLc{}
	key := SidelinkLcKey{Lcid: 3, SrcL2ID: 1, DstL2ID: commDst}
	require.NoError(t, h.mac.AddSlLc(key, LcConfig{}, lc))
	require.NoError(t, h.mac.ReportSidelinkBufferStatus(key, BufferStatus{TxQueue: 10_000}))
	return lc, key
}

func TestCommPoolUeSelectedPeriod(t *testing.T) {
	metrics := &fakeMetrics{}
	h := newHarness(t, testCommConfig(), WithMetricsRecorder(metrics))
	require.NoError(t, h.mac.AddCommPool(commDst, testCommPool(t, sidelink.UeSelected)))
	lc, _ := addCommChannel(t, h)

	// Scheduling subframes 4..79 cover the SC period starting at 40.
	h.run(t, 76)

	scis := h.phy.ofType(model.MessageSci)
	require.Len(t, scis, 2)
	sci := scis[0].msg.(model.Sci)
	require.Equal(t, uint8(0x34), sci.GroupDstID)
	require.Equal(t, uint8(106), sci.Trp)
	require.Equal(t, uint16(2), sci.RbLen)
	require.Zero(t, sci.RbStart%2)
	require.Equal(t, uint32(25), sci.TbSize)
	require.Equal(t, sci, scis[1].msg.(model.Sci))
	require.GreaterOrEqual(t, scis[0].at, 36)
	require.LessOrEqual(t, scis[1].at, 39)

	require.Len(t, h.phy.pdus, 28)
	require.Len(t, lc.ops, 7)
	require.Equal(t, 21, metrics.harqRetx)
	for i, p := range h.phy.pdus {
		require.Equal(t, 46+i, p.at)
		require.Equal(t, sci.RbStart, p.slot.RbStart)
	}
	// Each HARQ round repeats the PDU of its first transmission.
	require.Equal(t, h.phy.pdus[0].pkt, h.phy.pdus[3].pkt)
	require.NotEqual(t, h.phy.pdus[3].pkt, h.phy.pdus[4].pkt)
}

func TestCommPoolHarqRepeatsAreProbabilistic(t *testing.T) {
	cfg := testCommConfig()
	cfg.PHarq = 0
	h := newHarness(t, cfg)
	require.NoError(t, h.mac.AddCommPool(commDst, testCommPool(t, sidelink.UeSelected)))
	addCommChannel(t, h)
	h.run(t, 76)
	require.Len(t, h.phy.pdus, 7)
}

func TestCommPoolScheduledGrantFromDci(t *testing.T) {
	h := newHarness(t, testCommConfig())
	require.NoError(t, h.mac.AddCommPool(commDst, testCommPool(t, sidelink.Scheduled)))
	lc, _ := addCommChannel(t, h)

	require.NoError(t, h.mac.ReceiveControlMessage(context.Background(), model.SlDci{
		Rnti: 7, ResPscch: 0, RbStart: 4, RbLen: 2, Trp: 106,
	}))
	h.run(t, 76)

	scis := h.phy.ofType(model.MessageSci)
	require.Len(t, scis, 2)
	require.Equal(t, 36, scis[0].at)
	require.Equal(t, 37, scis[1].at)
	require.Equal(t, uint16(4), scis[0].msg.(model.Sci).RbStart)

	require.Len(t, h.phy.pdus, 36)
	require.Len(t, lc.ops, 9)
	require.Equal(t, 40, h.phy.pdus[0].at)

	bsrs := h.phy.ofType(model.MessageSlBsr)
	require.NotEmpty(t, bsrs)
	require.Equal(t, BufferSizeToBsrID(10_000), bsrs[0].msg.(model.SlBsr).BufferStatus[0])
}

func TestCommPoolDropsGrantOutsideDataRegion(t *testing.T) {
	h := newHarness(t, testCommConfig())
	require.NoError(t, h.mac.AddCommPool(commDst, testCommPool(t, sidelink.Scheduled)))
	addCommChannel(t, h)
	require.NoError(t, h.mac.ReceiveControlMessage(context.Background(), model.SlDci{RbStart: 9, RbLen: 3, Trp: 106}))
	h.run(t, 76)
	require.Empty(t, h.phy.ofType(model.MessageSci))
	require.Empty(t, h.phy.pdus)
}

func TestNotifyChangeOfTimingReanchorsPeriods(t *testing.T) {
	h := newHarness(t, testCommConfig())
	require.NoError(t, h.mac.AddCommPool(commDst, testCommPool(t, sidelink.UeSelected)))
	h.mac.NotifyChangeOfTiming(10, 1)
	st, ok := h.mac.commPools.get(commDst)
	require.True(t, ok)
	require.Equal(t, model.SubframeFromIndex(80), st.currentPeriod)
	require.Equal(t, model.SubframeFromIndex(120), st.nextPeriod)
}
