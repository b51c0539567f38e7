package mac

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// psschHarqRound is the number of PSSCH transmissions carrying one MAC PDU
// in a legacy pool.
const psschHarqRound = 4

// CommGrant is a legacy sidelink grant valid for one SC period.
type CommGrant struct {
	ResPscch uint16
	RbStart  uint16
	RbLen    uint16
	Trp      uint8
	Mcs      uint8
	TbSize   uint32
}

type commPoolState struct {
	pool *sidelink.CommPool

	currentPeriod model.SubframeInfo
	nextPeriod    model.SubframeInfo

	current, next CommGrant
	grantReceived bool
	pscchTx       []sidelink.TransmissionInfo
	psschTx       []sidelink.TransmissionInfo
	harqBuffer    []model.Packet

	hasData bool
	rrc     rrcState
}

func (m *UeMac) tickCommPool(ctx context.Context, now model.SubframeInfo, dst uint32, st *commPoolState) error {
	if now == st.nextPeriod {
		if err := m.startScPeriod(ctx, now, dst, st); err != nil {
			return err
		}
	}

	if len(st.pscchTx) > 0 && st.pscchTx[0].Subframe == now {
		g := st.current
		m.phy.SendControlMessage(ctx, model.Sci{
			Rnti:       m.rnti,
			ResPscch:   g.ResPscch,
			RbStart:    g.RbStart,
			RbLen:      g.RbLen,
			Trp:        g.Trp,
			Mcs:        g.Mcs,
			TbSize:     g.TbSize,
			GroupDstID: uint8(dst & 0xFF),
		})
		m.metrics.IncControlMessages(model.MessageSci.String())
		st.pscchTx = st.pscchTx[1:]
	}

	if len(st.psschTx) == 0 || st.psschTx[0].Subframe != now {
		return nil
	}
	slot := st.psschTx[0]
	newPdu := len(st.psschTx)%psschHarqRound == 0
	st.psschTx = st.psschTx[1:]

	if !newPdu {
		sent := 0
		for _, pkt := range st.harqBuffer {
			if m.rng.intRange(1, 100) <= m.cfg.PHarq {
				m.phy.SendMacPdu(ctx, pkt, slot)
				sent++
			}
		}
		m.metrics.IncHarqRetransmissions(sent)
		return nil
	}
	st.harqBuffer = nil
	return m.pullSidelinkData(ctx, now, dst, st.pool.SchedulingType(), st.current.TbSize, slot, &st.hasData, &st.rrc)
}

// startScPeriod rolls the pool into a new SC period, drawing a grant for
// UE-selected pools and laying out the transmissions of any pending grant.
func (m *UeMac) startScPeriod(ctx context.Context, now model.SubframeInfo, dst uint32, st *commPoolState) error {
	st.currentPeriod = st.nextPeriod
	st.nextPeriod = st.pool.NextPeriod(now)
	st.pscchTx, st.psschTx = nil, nil
	st.harqBuffer = nil

	if st.pool.SchedulingType() == sidelink.UeSelected && m.hasSidelinkTxData(dst) {
		g, ok := m.drawCommGrant(ctx, st.pool)
		if ok {
			st.next = g
			st.grantReceived = true
		}
	}

	m.announceData(ctx, &st.rrc, st.hasData)
	st.hasData = false

	if !st.grantReceived {
		return nil
	}
	st.grantReceived = false
	g := st.next
	pscch, err := st.pool.PscchTransmissions(st.currentPeriod, int(g.ResPscch))
	if err != nil {
		return fmt.Errorf("startScPeriod: %w", err)
	}
	pssch, err := st.pool.PsschTransmissions(st.currentPeriod, g.Trp, g.RbStart, g.RbLen)
	if errors.Is(err, sidelink.ErrRbOutsidePool) {
		m.log.Warn(ctx, "dropping sidelink grant outside pool",
			logging.Uint("dst", uint64(dst)),
			logging.Int("rb_start", int(g.RbStart)),
			logging.Int("rb_len", int(g.RbLen)),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("startScPeriod: %w", err)
	}
	g.TbSize = m.amc.TbSizeBits(g.Mcs, g.RbLen) / 8
	st.current = g
	st.pscchTx = pscch
	st.psschTx = pssch
	m.log.Debug(ctx, "SC period started",
		logging.Uint("dst", uint64(dst)),
		logging.String("period", st.currentPeriod.String()),
		logging.Int("pssch", len(pssch)),
	)
	return nil
}

func (m *UeMac) hasSidelinkTxData(dst uint32) bool {
	for key, bs := range m.slBsr {
		if key.DstL2ID == dst && bs.TxQueue > 0 {
			return true
		}
	}
	return false
}

// drawCommGrant picks a random PSCCH resource, subchannel and time
// resource pattern.
func (m *UeMac) drawCommGrant(ctx context.Context, pool *sidelink.CommPool) (CommGrant, bool) {
	nbSubch := int((m.cfg.UlBandwidth - m.cfg.PucchSize) / m.cfg.SlGrantSize)
	if nbSubch == 0 {
		m.log.Warn(ctx, "sidelink grant size exceeds uplink bandwidth")
		return CommGrant{}, false
	}
	k := m.cfg.Ktrp
	if k == 0 {
		var allowed []int
		for _, v := range []int{1, 2, 4, 8} {
			if pool.TrpAllowed(v) {
				allowed = append(allowed, v)
			}
		}
		k = allowed[m.rng.intRange(0, len(allowed)-1)]
	} else if !pool.TrpAllowed(k) {
		m.log.Warn(ctx, "configured KTRP not allowed by pool", logging.Int("ktrp", k))
		return CommGrant{}, false
	}
	lo, hi, err := sidelink.TrpRange(k)
	if err != nil {
		m.log.Warn(ctx, "invalid KTRP", logging.Err(err))
		return CommGrant{}, false
	}

	subCh := m.rng.intRange(0, nbSubch-1)
	return CommGrant{
		ResPscch: uint16(m.rng.intRange(0, pool.NumPscchResources()-1)),
		Trp:      uint8(m.rng.intRange(int(lo), int(hi))),
		RbStart:  m.cfg.PucchSize/2 + m.cfg.SlGrantSize*uint16(subCh),
		RbLen:    m.cfg.SlGrantSize,
		Mcs:      m.cfg.SlGrantMcs,
	}, true
}
