package checkpoint

import (
	"time"

	"github.com/zhangyunhao116/fastrand"
)

// jitter returns d reduced by up to 10%, so many documents on one
// partition arming the same idle window don't all fire in the same
// instant and hammer the repository at once.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := int(d) / 10
	if spread <= 0 {
		return d
	}
	return d - time.Duration(fastrand.Intn(spread))
}
