package orders

import (
	"fmt"
	"math/rand/v2"
	"time"
)

const orderNumberAttempts = 5

// newOrderNumber formats ORD-<unix seconds>-<4 random digits>. Collisions are
// possible within the same second and are caught by the unique constraint.
func newOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%04d", now.Unix(), rand.IntN(10000))
}
