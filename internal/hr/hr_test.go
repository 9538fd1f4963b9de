package hr_test

import (
	"sync"
	"testing"

	"github.com/srg/hrmon/internal/hr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreStartsDisconnected(t *testing.T) {
	s := hr.NewStore()
	snap := s.Get()

	assert.Equal(t, 0, snap.BPM)
	assert.False(t, snap.Connected)
	assert.Equal(t, "disconnected", snap.Status())
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestStoreSetGetRoundTrip(t *testing.T) {
	s := hr.NewStore()

	for _, v := range []int{0, 1, 72, 180, 255, 300} {
		s.Set(v, true)
		snap := s.Get()
		assert.Equal(t, v, snap.BPM)
		assert.True(t, snap.Connected)
	}
}

func TestStoreClampsNegative(t *testing.T) {
	s := hr.NewStore()
	snap := s.Set(-5, true)
	assert.Equal(t, 0, snap.BPM)
}

func TestStoreResetAndAddress(t *testing.T) {
	s := hr.NewStore()
	s.SetAddress("AA:BB:CC:DD:EE:FF")
	s.Set(88, true)

	snap := s.Reset()
	assert.Equal(t, 0, snap.BPM)
	assert.False(t, snap.Connected)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", snap.Address, "Reset MUST keep the device address")
}

func TestStoreNoTornReads(t *testing.T) {
	// GOAL: A reader never sees a BPM from one write paired with the flag of another
	//
	// TEST SCENARIO: writers alternate (0,false) and (100,true) → every read is one of the two pairs

	s := hr.NewStore()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.Set(100, true)
					s.Reset()
				}
			}
		}()
	}

	for i := 0; i < 10000; i++ {
		snap := s.Get()
		if snap.Connected {
			require.Equal(t, 100, snap.BPM)
		} else {
			require.Equal(t, 0, snap.BPM)
		}
	}
	close(stop)
	wg.Wait()
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		in      string
		want    hr.Event
		wantErr bool
	}{
		{in: "connected", want: hr.EventConnected},
		{in: " Disconnected ", want: hr.EventDisconnected},
		{in: "HEART_RATE_UPDATED", want: hr.EventUpdated},
		{in: "test", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := hr.ParseEvent(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMachineTransitions(t *testing.T) {
	m := hr.NewMachine()
	assert.Equal(t, hr.Disconnected, m.Phase())

	require.NoError(t, m.Transition(hr.Connecting))
	require.NoError(t, m.Transition(hr.Connected))
	require.NoError(t, m.Transition(hr.Disconnected))

	// Connecting may fall back to Disconnected on failure
	require.NoError(t, m.Transition(hr.Connecting))
	require.NoError(t, m.Transition(hr.Disconnected))
}

func TestMachineRejectsInvalid(t *testing.T) {
	m := hr.NewMachine()

	err := m.Transition(hr.Connected)
	assert.ErrorIs(t, err, hr.ErrInvalidTransition)
	assert.Equal(t, hr.Disconnected, m.Phase())

	require.NoError(t, m.Transition(hr.Connecting))
	assert.ErrorIs(t, m.Transition(hr.Connecting), hr.ErrInvalidTransition)
}

func TestMachineTransitionFromAdmitsOne(t *testing.T) {
	m := hr.NewMachine()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TransitionFrom(hr.Disconnected, hr.Connecting) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted, "exactly one connection attempt MUST be admitted")
	assert.Equal(t, hr.Connecting, m.Phase())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "connecting", hr.Connecting.String())
	assert.Equal(t, "phase(9)", hr.Phase(9).String())
}
