package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfter(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		require.Equal(t, epoch.Add(5*time.Second), got)
	default:
		t.Fatal("did not fire")
	}
	require.Equal(t, 0, c.Pending())
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	timer := c.AfterFunc(time.Second, func() { fired++ })
	other := c.AfterFunc(2*time.Second, func() { fired += 10 })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())
	c.Advance(3 * time.Second)

	require.Equal(t, 10, fired)
	require.False(t, other.Stop())
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)
	<-done
}

func TestRealClock(t *testing.T) {
	c := Real()
	start := c.Now()
	<-c.After(time.Millisecond)
	require.True(t, c.Now().After(start))

	fired := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(fired) })
	<-fired
}
