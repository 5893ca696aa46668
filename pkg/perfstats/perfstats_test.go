package perfstats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStages(t *testing.T) {
	s := NewStages()
	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddSample("primary", 10*time.Millisecond)
		}()
	}
	wg.Wait()
	s.Time("gate", func() {})

	primary := s.Get("primary")
	require.EqualValues(t, 10, primary.Samples)
	require.Equal(t, 10*time.Millisecond, primary.Average())
	require.EqualValues(t, 1, s.Get("gate").Samples)
	require.EqualValues(t, 0, s.Get("fallback").Samples)
	require.Contains(t, s.Summary(), "primary: 10 samples")
	all := s.All()
	require.Len(t, all, 2)
	require.EqualValues(t, 10, all["primary"].Samples)
}
