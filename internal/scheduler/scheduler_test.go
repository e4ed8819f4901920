package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "cryptoingest/config"
)

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(appconfig.ScheduleConfig{Cron: "every five minutes"}, func(context.Context) {})
	assert.Error(t, err)

	_, err = New(appconfig.ScheduleConfig{Cron: "0 */5 * * * *"}, nil)
	assert.Error(t, err)
}

func TestDefaultScheduleIsUTCFiveMinutes(t *testing.T) {
	s, err := New(appconfig.ScheduleConfig{Cron: "0 */5 * * * *"}, func(context.Context) {})
	require.NoError(t, err)

	entries := s.cron.Entries()
	require.Len(t, entries, 1)
	from := time.Date(2024, 3, 1, 12, 3, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC), entries[0].Schedule.Next(from))
	next := entries[0].Schedule.Next(time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 1, 12, 10, 0, 0, time.UTC), next)
}

func TestRunOnStartup(t *testing.T) {
	var calls int32
	done := make(chan struct{}, 1)
	s, err := New(appconfig.ScheduleConfig{Cron: "0 0 0 1 1 *", RunOnStartup: true}, func(context.Context) {
		atomic.AddInt32(&calls, 1)
		done <- struct{}{}
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("startup invocation did not run")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestStartTwice(t *testing.T) {
	s, err := New(appconfig.ScheduleConfig{Cron: "0 0 0 1 1 *"}, func(context.Context) {})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}

func TestFiresOnSchedule(t *testing.T) {
	fired := make(chan struct{}, 4)
	s, err := New(appconfig.ScheduleConfig{Cron: "* * * * * *"}, func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}

func TestPanicsAreRecovered(t *testing.T) {
	s, err := New(appconfig.ScheduleConfig{Cron: "0 0 0 1 1 *"}, func(context.Context) {
		panic("boom")
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.NotPanics(t, func() { s.run.Run() })
}

func TestSkipIfStillRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls int32
	s, err := New(appconfig.ScheduleConfig{Cron: "0 0 0 1 1 *", SkipIfRunning: true}, func(context.Context) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	go s.run.Run()
	<-started
	s.run.Run()
	close(release)
	s.Stop()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCancelledContextSkipsInvocation(t *testing.T) {
	var calls int32
	s, err := New(appconfig.ScheduleConfig{Cron: "0 0 0 1 1 *"}, func(context.Context) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Start(ctx))
	s.run.Run()
	s.Stop()
	assert.Zero(t, atomic.LoadInt32(&calls))
}
