package phy

import "testing"

func TestAmcTbSizeGrowsWithRbsAndMcs(t *testing.T) {
	var amc Amc
	if got := amc.TbSizeBits(0, 0); got != 0 {
		t.Fatalf("TbSizeBits(0, 0) = %d, want 0", got)
	}
	prev := uint32(0)
	for nRb := uint16(1); nRb <= 50; nRb++ {
		got := amc.TbSizeBits(5, nRb)
		if got < prev {
			t.Fatalf("TB size shrank from %d to %d at %d RBs", prev, got, nRb)
		}
		prev = got
	}
	if amc.TbSizeBits(20, 10) <= amc.TbSizeBits(0, 10) {
		t.Fatalf("higher MCS did not increase TB size")
	}
	if amc.TbSizeBits(28, 10) != amc.TbSizeBits(200, 10) {
		t.Fatalf("MCS above range not clamped")
	}
	// 10 RBs at MCS 0: 10*108*2*0.10 = 216 bits -> 216 - 24.
	if got := amc.TbSizeBits(0, 10); got != 192 {
		t.Fatalf("TbSizeBits(0, 10) = %d, want 192", got)
	}
}

func TestRequiredSinrIncreasesWithMcs(t *testing.T) {
	if RequiredSinrDb(0) >= RequiredSinrDb(10) || RequiredSinrDb(10) >= RequiredSinrDb(28) {
		t.Fatalf("required SINR not increasing: %v %v %v", RequiredSinrDb(0), RequiredSinrDb(10), RequiredSinrDb(28))
	}
}
