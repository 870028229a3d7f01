package pulse

import (
	"strconv"
	"sync"
	"time"
)

type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) stopper
}

type stopper interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }

// msStamper hands out millisecond timestamps that are unique per process:
// a second call within the same millisecond (or after the clock stepped
// back) gets last+1.
type msStamper struct {
	mu    sync.Mutex
	clock clock
	last  int64
}

func newMsStamper(c clock) *msStamper {
	return &msStamper{clock: c}
}

func (s *msStamper) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.clock.Now().UnixMilli()
	if s.last >= ms {
		s.last++
	} else {
		s.last = ms
	}
	return s.last
}

// timeOf interprets ts as seconds (10 digits) or milliseconds (13 digits).
func timeOf(ts int64) time.Time {
	if len(strconv.FormatInt(ts, 10)) == 13 {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}

// validTimestamp reports whether ts looks like a seconds or milliseconds
// unix timestamp.
func validTimestamp(ts int64) bool {
	n := len(strconv.FormatInt(ts, 10))
	return n == 10 || n == 13
}
