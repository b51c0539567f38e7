package sim

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/sidelink-mac/internal/mac"
	"github.com/signalsfoundry/sidelink-mac/model"
)

type fakeReporter struct {
	reports []mac.BufferStatus
}

func (f *fakeReporter) ReportSidelinkBufferStatus(_ mac.SidelinkLcKey, bs mac.BufferStatus) error {
	f.reports = append(f.reports, bs)
	return nil
}

func TestGeneratorPeriodicArrivals(t *testing.T) {
	clock := newFakeClock(epoch)
	sched := NewEventScheduler(clock)
	rep := &fakeReporter{}
	key := mac.SidelinkLcKey{Lcid: 1, SrcL2ID: 4, DstL2ID: 255}
	var tick int64
	gen := newGenerator(key, 100, 100*time.Millisecond, 0, 9, rep, func() int64 { return tick })

	var generated []model.Packet
	gen.onGenerate = func(p model.Packet) { generated = append(generated, p) }
	gen.Start(sched, epoch)

	for tick = 1; tick <= 1000; tick++ {
		clock.AdvanceTo(epoch.Add(time.Duration(tick) * time.Millisecond))
		sched.RunDue()
	}
	if len(generated) != 10 {
		t.Fatalf("generated %d packets in 1 s, want 10", len(generated))
	}
	for i := 1; i < len(generated); i++ {
		if gap := generated[i].CreatedAt - generated[i-1].CreatedAt; gap != 100 {
			t.Fatalf("arrival gap = %d ms, want 100", gap)
		}
		if generated[i].Seq != generated[i-1].Seq+1 {
			t.Fatalf("sequence numbers not consecutive")
		}
	}
	if p := generated[0]; p.SrcL2ID != 4 || p.DstL2ID != 255 || p.Direction != model.DirectionSidelink {
		t.Fatalf("packet addressing = %+v", p)
	}

	if err := gen.Report(); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := gen.Report(); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(rep.reports) != 1 || rep.reports[0].TxQueue != 1000 {
		t.Fatalf("reports = %+v, want one report of 1000 bytes", rep.reports)
	}
}

func TestGeneratorJitterStaysWithinBound(t *testing.T) {
	clock := newFakeClock(epoch)
	sched := NewEventScheduler(clock)
	var tick int64
	gen := newGenerator(mac.SidelinkLcKey{Lcid: 1}, 50, 100*time.Millisecond, 20*time.Millisecond, 1, &fakeReporter{}, func() int64 { return tick })
	var created []int64
	gen.onGenerate = func(p model.Packet) { created = append(created, p.CreatedAt) }
	gen.Start(sched, epoch)

	for tick = 1; tick <= 3000; tick++ {
		clock.AdvanceTo(epoch.Add(time.Duration(tick) * time.Millisecond))
		sched.RunDue()
	}
	for i := 1; i < len(created); i++ {
		if gap := created[i] - created[i-1]; gap < 100 || gap > 120 {
			t.Fatalf("arrival gap %d outside [100, 120]", gap)
		}
	}
}

func TestGeneratorTxOpportunity(t *testing.T) {
	rep := &fakeReporter{}
	gen := newGenerator(mac.SidelinkLcKey{Lcid: 1, SrcL2ID: 2, DstL2ID: 3}, 100, time.Second, 0, 1, rep, func() int64 { return 0 })
	gen.arrive()
	gen.arrive()
	gen.arrive()

	var sent int
	gen.onTransmit = func(model.Packet) { sent++ }

	if got := gen.NotifyTxOpportunity(context.Background(), mac.TxOpportunity{Bytes: 2}); len(got) != 0 {
		t.Fatalf("header-only opportunity produced %d packets", len(got))
	}
	got := gen.NotifyTxOpportunity(context.Background(), mac.TxOpportunity{Bytes: 250, Rnti: 7})
	if len(got) != 2 || sent != 2 {
		t.Fatalf("250-byte opportunity carried %d packets, want 2", len(got))
	}
	if got[0].Rnti != 7 || got[0].Seq != 1 || got[1].Seq != 2 {
		t.Fatalf("packets = %+v", got)
	}
	if gen.Queued() != 100 {
		t.Fatalf("Queued = %d, want 100", gen.Queued())
	}
	if err := gen.Report(); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if last := rep.reports[len(rep.reports)-1]; last.TxQueue != 100 {
		t.Fatalf("reported %d bytes after transmission, want 100", last.TxQueue)
	}
}
