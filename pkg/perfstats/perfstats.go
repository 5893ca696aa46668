package perfstats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Stages accumulates timings for named stages of work.
// It is safe to use from multiple goroutines.
type Stages struct {
	lock   sync.Mutex
	stages map[string]*TimeAccumulator
}

func NewStages() *Stages {
	return &Stages{
		stages: map[string]*TimeAccumulator{},
	}
}

func (s *Stages) AddSample(stage string, v time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	a := s.stages[stage]
	if a == nil {
		a = &TimeAccumulator{}
		s.stages[stage] = a
	}
	a.AddSample(v)
}

// Time runs f and records how long it took
func (s *Stages) Time(stage string, f func()) {
	start := time.Now()
	f()
	s.AddSample(stage, time.Since(start))
}

// Return a copy of the accumulator for a stage
func (s *Stages) Get(stage string) TimeAccumulator {
	s.lock.Lock()
	defer s.lock.Unlock()
	if a := s.stages[stage]; a != nil {
		return *a
	}
	return TimeAccumulator{}
}

// Return a copy of every accumulator
func (s *Stages) All() map[string]TimeAccumulator {
	s.lock.Lock()
	defer s.lock.Unlock()
	all := make(map[string]TimeAccumulator, len(s.stages))
	for name, a := range s.stages {
		all[name] = *a
	}
	return all
}

// One line per stage, sorted by name
func (s *Stages) Summary() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	names := make([]string, 0, len(s.stages))
	for name := range s.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	b := strings.Builder{}
	for _, name := range names {
		a := s.stages[name]
		fmt.Fprintf(&b, "%v: %v samples, average %.1f ms, total %.1f s\n", name, a.Samples, float64(a.Average().Microseconds())/1000, a.Total.Seconds())
	}
	return b.String()
}
