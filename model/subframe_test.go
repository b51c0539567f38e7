package model

import "testing"

func TestSubframeWraparound(t *testing.T) {
	last := NewSubframeInfo(1024, 10)
	next := last.Next()
	if next.Frame != 1 || next.Subframe != 1 {
		t.Fatalf("expected 1/1 after 1024/10, got %s", next)
	}
	if !next.Valid() {
		t.Fatalf("wrapped subframe %s is not valid", next)
	}
}

func TestSubframeAddAndIndexRoundTrip(t *testing.T) {
	cases := []struct {
		start SubframeInfo
		n     int
		want  SubframeInfo
	}{
		{NewSubframeInfo(1, 1), 0, NewSubframeInfo(1, 1)},
		{NewSubframeInfo(1, 10), 1, NewSubframeInfo(2, 1)},
		{NewSubframeInfo(1, 1), -1, NewSubframeInfo(1024, 10)},
		{NewSubframeInfo(1023, 7), 100, NewSubframeInfo(9, 7)},
		{NewSubframeInfo(10, 5), 3, NewSubframeInfo(10, 8)},
		{NewSubframeInfo(10, 5), -15, NewSubframeInfo(8, 10)},
	}
	for _, tc := range cases {
		got := tc.start.Add(tc.n)
		if got != tc.want {
			t.Fatalf("%s + %d: expected %s, got %s", tc.start, tc.n, tc.want, got)
		}
		if back := SubframeFromIndex(got.Index()); back != got {
			t.Fatalf("index round trip failed for %s: got %s", got, back)
		}
	}
}

func TestSubframeDiffIsCyclic(t *testing.T) {
	a := NewSubframeInfo(1020, 1)
	b := NewSubframeInfo(2, 1)
	if d := b.Diff(a); d != 60 {
		t.Fatalf("expected forward distance 60, got %d", d)
	}
	if d := a.Diff(a); d != 0 {
		t.Fatalf("expected zero distance, got %d", d)
	}
}

func TestAdvanceScheduling(t *testing.T) {
	got := NewSubframeInfo(1024, 8).AdvanceScheduling()
	if got != NewSubframeInfo(1, 2) {
		t.Fatalf("expected 1/2, got %s", got)
	}
	got = NewSubframeInfo(5, 6).AdvanceScheduling()
	if got != NewSubframeInfo(5, 10) {
		t.Fatalf("expected 5/10, got %s", got)
	}
}
