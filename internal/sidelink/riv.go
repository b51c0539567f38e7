package sidelink

import "fmt"

// EncodeRiv maps a (length, start) subchannel allocation to a resource
// indication value for a pool with numSubch subchannels.
func EncodeRiv(numSubch, length, start int) (uint16, error) {
	if numSubch < 1 || length < 1 || length > numSubch || start < 0 || start > numSubch-length {
		return 0, fmt.Errorf("%w: length %d start %d with %d subchannels", ErrInvalidRiv, length, start, numSubch)
	}
	half := (numSubch + 1) / 2
	if length <= half {
		return uint16(numSubch*(length-1) + start), nil
	}
	return uint16(numSubch*(numSubch-length+1) + (numSubch - 1 - start)), nil
}

// DecodeRiv is the inverse of EncodeRiv.
func DecodeRiv(numSubch int, riv uint16) (length, start int, err error) {
	for l := 1; l <= numSubch; l++ {
		for s := 0; s <= numSubch-l; s++ {
			v, _ := EncodeRiv(numSubch, l, s)
			if v == riv {
				return l, s, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("%w: %d with %d subchannels", ErrInvalidRiv, riv, numSubch)
}

// ReservationPeriodFromBits converts the 4-bit SCI field into milliseconds.
func ReservationPeriodFromBits(bits uint8) (uint16, error) {
	switch {
	case bits == 11:
		return 50, nil
	case bits == 12:
		return 20, nil
	case bits >= 1 && bits <= 10:
		return uint16(bits) * 100, nil
	default:
		return 0, fmt.Errorf("%w: bits %d", ErrInvalidReservationPeriod, bits)
	}
}

// ReservationPeriodToBits is the inverse of ReservationPeriodFromBits.
func ReservationPeriodToBits(ms uint16) (uint8, error) {
	switch {
	case ms == 50:
		return 11, nil
	case ms == 20:
		return 12, nil
	case ms >= 100 && ms <= 1000 && ms%100 == 0:
		return uint8(ms / 100), nil
	default:
		return 0, fmt.Errorf("%w: %d ms", ErrInvalidReservationPeriod, ms)
	}
}
