package mac

import "math/rand/v2"

// randomStream is the single source of randomness of one UE MAC.
type randomStream struct {
	r *rand.Rand
}

func newRandomStream(seed uint64) *randomStream {
	return &randomStream{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// intRange draws uniformly from [lo, hi].
func (s *randomStream) intRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.r.IntN(hi-lo+1)
}

func (s *randomStream) float64() float64 {
	return s.r.Float64()
}
