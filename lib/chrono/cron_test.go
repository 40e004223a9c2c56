package chrono

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSkipOverlapDropsConcurrentRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int

	var startedOnce sync.Once
	job := SkipOverlap("test", func() {
		runs++
		startedOnce.Do(func() { close(started) })
		<-release
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		job()
	}()
	<-started

	// a trigger arriving mid-run must not start a second run
	job()
	require.Equal(t, 1, runs)

	close(release)
	wg.Wait()
	require.Equal(t, 1, runs)

	// once the first run finishes the job fires again normally
	job()
	require.Equal(t, 2, runs)
}
