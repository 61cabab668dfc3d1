package datamux

import (
	"math"
	"math/rand"
	"time"
)

// Backoff sleeps a random amount from a capped exponential window
// keyed by the attempt number.  Providers use it between retries of
// transient list/read failures;  the Mux itself never retries.
func Backoff(try int) {
	nf := math.Pow(2, float64(try))
	nf = math.Max(1, nf)
	nf = math.Min(nf, 20)
	r := rand.Int31n(int32(nf))
	d := time.Duration(r) * time.Second
	time.Sleep(d)
}
