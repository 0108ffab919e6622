package pipeline

import (
	"context"
	"sync"

	"nextalk/internal/asr"
	"nextalk/internal/audioio"
)

type mockCapture struct {
	mu         sync.Mutex
	openErr    error
	startErr   error
	openedWith string
	stopped    bool
	closed     bool

	frames   chan audioio.Frame
	readErrs chan error
}

func newMockCapture() *mockCapture {
	return &mockCapture{
		frames:   make(chan audioio.Frame, 8),
		readErrs: make(chan error, 1),
	}
}

func (m *mockCapture) Open(deviceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openedWith = deviceName
	return m.openErr
}

func (m *mockCapture) StartFrameStream(ctx context.Context) (<-chan audioio.Frame, <-chan error, error) {
	if m.startErr != nil {
		return nil, nil, m.startErr
	}
	return m.frames, m.readErrs, nil
}

func (m *mockCapture) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *mockCapture) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockCapture) injectFrame(samples []float32) {
	m.frames <- audioio.Frame{Samples: samples}
}

// mockEngine implements asr.Engine for pipeline tests.
type mockEngine struct {
	mu sync.Mutex

	readyCount     int // number of times IsReady returns true before false
	decodeCalls    int
	results        []asr.Transcript
	resultIdx      int
	endpointOnce   bool
	disposeCalls   int
	inputFinished  int
	resetCalls     int
	initErr        error
}

func (e *mockEngine) Initialize() error { return e.initErr }

func (e *mockEngine) AcceptWaveform(samples []float32) {}

func (e *mockEngine) Decode() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decodeCalls++
	if e.readyCount > 0 {
		e.readyCount--
	}
}

func (e *mockEngine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyCount > 0
}

func (e *mockEngine) GetResult() asr.Transcript {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resultIdx >= len(e.results) {
		if len(e.results) == 0 {
			return asr.Transcript{}
		}
		return e.results[len(e.results)-1]
	}
	r := e.results[e.resultIdx]
	e.resultIdx++
	return r
}

func (e *mockEngine) IsEndpoint() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.endpointOnce {
		e.endpointOnce = false
		return true
	}
	return false
}

func (e *mockEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetCalls++
}

func (e *mockEngine) InputFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputFinished++
}

func (e *mockEngine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposeCalls++
	return nil
}
