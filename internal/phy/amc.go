package phy

import "math"

// sidelinkDataRes is the number of resource elements per RB pair left for
// PSSCH data once DMRS and the guard symbol are removed.
const sidelinkDataRes = 12 * 9

// crcBits is the transport block CRC.
const crcBits = 24

// modulationOrder and codeRate approximate 36.213 Table 8.6.1-1 for the
// sidelink MCS range 0..28.
var (
	modulationOrder = [29]int{
		2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
		4, 4, 4, 4, 4, 4, 4, 4, 4, 4,
		6, 6, 6, 6, 6, 6, 6, 6,
	}
	codeRate = [29]float64{
		0.10, 0.13, 0.16, 0.21, 0.26, 0.31, 0.37, 0.44, 0.51, 0.59, 0.66,
		0.33, 0.37, 0.42, 0.48, 0.54, 0.60, 0.64, 0.70, 0.75, 0.80,
		0.55, 0.59, 0.63, 0.68, 0.72, 0.76, 0.80, 0.84,
	}
)

// Amc maps MCS and RB count to a transport block size.
type Amc struct{}

// TbSizeBits returns the transport block size in bits for nRb RBs at mcs.
// MCS values above 28 are clamped.
func (Amc) TbSizeBits(mcs uint8, nRb uint16) uint32 {
	if nRb == 0 {
		return 0
	}
	i := min(int(mcs), len(codeRate)-1)
	raw := float64(int(nRb)*sidelinkDataRes*modulationOrder[i]) * codeRate[i]
	bits := int(math.Floor(raw/8))*8 - crcBits
	if bits < 16 {
		bits = 16
	}
	return uint32(bits)
}

// RequiredSinrDb is the SINR above which a transport block at mcs decodes.
func RequiredSinrDb(mcs uint8) float64 {
	i := min(int(mcs), len(codeRate)-1)
	eff := float64(modulationOrder[i]) * codeRate[i]
	// Shannon bound with a 3 dB implementation margin.
	return 10*math.Log10(math.Pow(2, eff)-1) + 3
}
