package asr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamingEngine(t *testing.T, backend *mockTransducerBackend) (*streamingEngine, *fakeClock) {
	t.Helper()
	e := newStreamingEngine(DefaultStreamingConfig(t.TempDir()), backend)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	e.now = clock.Now
	require.NoError(t, e.Initialize())
	return e, clock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStreamingEndpointGateAOnShortSilence(t *testing.T) {
	backend := &mockTransducerBackend{decodeQueue: []string{"hello"}}
	e, clock := newTestStreamingEngine(t, backend)

	e.AcceptWaveform([]float32{0})
	e.Decode()
	assert.False(t, e.IsEndpoint())

	clock.Advance(2500 * time.Millisecond) // >= ShortPauseSec (2.4s)
	e.Decode()
	assert.True(t, e.IsEndpoint())
	assert.False(t, e.IsEndpoint(), "latch resets after one read")
}

func TestStreamingEndpointGateCOnMaxUtterance(t *testing.T) {
	backend := &mockTransducerBackend{}
	e, clock := newTestStreamingEngine(t, backend)

	e.AcceptWaveform([]float32{0})
	clock.Advance(21 * time.Second) // >= MaxUtteranceSec (20s)
	e.Decode()
	assert.True(t, e.IsEndpoint())
}

func TestStreamingEndpointGateBRequiresPriorDecode(t *testing.T) {
	backend := &mockTransducerBackend{}
	e, clock := newTestStreamingEngine(t, backend)

	e.AcceptWaveform([]float32{0})
	clock.Advance(1300 * time.Millisecond) // >= LongPauseSec but no tokens decoded yet
	e.Decode()
	assert.False(t, e.IsEndpoint())
}

func TestStreamingIsEndpointResetsBackendAndUtterance(t *testing.T) {
	backend := &mockTransducerBackend{decodeQueue: []string{"hi"}}
	e, clock := newTestStreamingEngine(t, backend)

	e.AcceptWaveform([]float32{0})
	e.Decode()
	clock.Advance(3 * time.Second)
	e.Decode()
	require.True(t, e.IsEndpoint())
	assert.Equal(t, 1, backend.resetCount)
	assert.Equal(t, Transcript{}, e.GetResult())
}

func TestStreamingInputFinishedLatchesEndpointMidUtterance(t *testing.T) {
	backend := &mockTransducerBackend{}
	e, _ := newTestStreamingEngine(t, backend)

	e.AcceptWaveform([]float32{0})
	e.InputFinished()
	assert.True(t, e.IsEndpoint())
}

func TestStreamingDisposeClosesBackend(t *testing.T) {
	backend := &mockTransducerBackend{}
	e, _ := newTestStreamingEngine(t, backend)
	assert.NoError(t, e.Dispose())
}
