package mac

import (
	"testing"

	"github.com/signalsfoundry/sidelink-mac/model"
)

func TestSensingRecordTaggedOneSubframeEarlier(t *testing.T) {
	var w sensingWindow
	rec := w.record(model.SensingMeasurement{Indication: model.NewSubframeInfo(3, 1), PRsvp: 100, RbStart: 4, RbLen: 5})
	if want := model.NewSubframeInfo(2, 10); rec.Subframe != want {
		t.Fatalf("record subframe = %s, want %s", rec.Subframe, want)
	}
	if w.len() != 1 {
		t.Fatalf("window holds %d records, want 1", w.len())
	}
}

func TestSensingPruneDropsOldRecords(t *testing.T) {
	var w sensingWindow
	for _, ix := range []int{500, 590, 610} {
		w.record(model.SensingMeasurement{Indication: model.SubframeFromIndex(ix + 1)})
	}

	if removed := w.prune(model.SubframeFromIndex(1600)); removed != 2 {
		t.Fatalf("prune removed %d records, want 2", removed)
	}
	got := w.snapshot()
	if len(got) != 1 || got[0].Subframe.Index() != 610 {
		t.Fatalf("remaining records = %+v, want only index 610", got)
	}

	if removed := w.prune(model.SubframeFromIndex(1610)); removed != 0 {
		t.Fatalf("record exactly at the horizon was pruned")
	}
	if removed := w.prune(model.SubframeFromIndex(1611)); removed != 1 {
		t.Fatalf("record past the horizon was kept")
	}
}

func TestSensingPruneAcrossFrameWrap(t *testing.T) {
	var w sensingWindow
	w.record(model.SensingMeasurement{Indication: model.NewSubframeInfo(1024, 10)})
	if removed := w.prune(model.NewSubframeInfo(2, 1)); removed != 0 {
		t.Fatalf("recent record dropped across the wrap")
	}

	w = sensingWindow{}
	// Stored at (1000,5); 1000 subframes later is (76,5) of the next cycle.
	w.record(model.SensingMeasurement{Indication: model.NewSubframeInfo(1000, 6)})
	if removed := w.prune(model.NewSubframeInfo(76, 5)); removed != 0 {
		t.Fatalf("record within the horizon dropped across the wrap")
	}
	if removed := w.prune(model.NewSubframeInfo(77, 6)); removed != 1 {
		t.Fatalf("record older than the horizon kept across the wrap")
	}
	if w.len() != 0 {
		t.Fatalf("window holds %d records after prune, want 0", w.len())
	}
}
