// Package system provides a wall-clock implementation of crawl.Clock.
package system

import (
	"time"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

type clock struct{}

// New returns a Clock backed by time.Now.
func New() crawl.Clock {
	return clock{}
}

func (clock) Now() time.Time {
	return time.Now()
}
