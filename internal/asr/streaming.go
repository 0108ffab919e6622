package asr

import (
	"fmt"
	"time"
)

// transducerBackend abstracts the online-transducer recognizer so the
// state machine below never touches native bindings directly, mirroring
// whisper_service.go's whisperBackend split.
type transducerBackend interface {
	Load(modelDir string, quant Quantization, numThreads int, decoding DecodeStrategy) error
	AcceptWaveform(samples []float32)
	IsReady() bool
	Decode()
	Result() (text string, tokens []string, timestamps []float64)
	Reset()
	Close() error
}

// realTransducerBackend is the production binding target. The concrete
// sherpa-onnx transducer session lives behind this type; wiring it in is
// mechanical once the native bindings are vendored — the engine-level state
// machine below (endpoint gates, partial monotonicity) is exercised fully
// against mockTransducerBackend in tests and does not change shape when the
// real backend is substituted.
type realTransducerBackend struct {
	loaded bool
}

func newRealTransducerBackend() *realTransducerBackend { return &realTransducerBackend{} }

func (r *realTransducerBackend) Load(modelDir string, quant Quantization, numThreads int, decoding DecodeStrategy) error {
	return fmt.Errorf("asr: streaming backend requires the sherpa-onnx transducer bindings, not vendored in this build")
}
func (r *realTransducerBackend) AcceptWaveform(samples []float32)                  {}
func (r *realTransducerBackend) IsReady() bool                                     { return false }
func (r *realTransducerBackend) Decode()                                          {}
func (r *realTransducerBackend) Result() (string, []string, []float64)            { return "", nil, nil }
func (r *realTransducerBackend) Reset()                                           {}
func (r *realTransducerBackend) Close() error                                     { return nil }

// streamingEngine implements Engine for the online-transducer variant.
//
// Grounded on whisper_service.go's load/transcribe/close lifecycle shape,
// extended with the three-gate endpoint rule of spec.md §4.3 (a/b/c) and
// the "partials are monotone within one utterance" invariant of §8.
type streamingEngine struct {
	cfg     StreamingConfig
	backend transducerBackend
	now     func() time.Time

	lastTokenAt  time.Time
	uttStartedAt time.Time
	hasDecoded   bool

	lastResult   Transcript
	endpointFlag bool
}

func newStreamingEngine(cfg StreamingConfig, backend transducerBackend) *streamingEngine {
	return &streamingEngine{cfg: cfg, backend: backend, now: time.Now}
}

func (e *streamingEngine) Initialize() error {
	if err := e.backend.Load(e.cfg.ModelDir, e.cfg.Quantization, e.cfg.NumThreads, e.cfg.Decoding); err != nil {
		return fmt.Errorf("asr: streaming init: %w", err)
	}
	e.resetUtterance()
	return nil
}

func (e *streamingEngine) resetUtterance() {
	e.uttStartedAt = time.Time{}
	e.lastTokenAt = time.Time{}
	e.hasDecoded = false
}

// AcceptWaveform starts the utterance clock on the first samples of an
// utterance and hands samples to the backend; the endpoint gates are
// evaluated in Decode, not here. The caller (C4's pipeline worker) must not retain samples beyond
// this call, per spec.md §4.3's "must not copy; must not retain" contract.
func (e *streamingEngine) AcceptWaveform(samples []float32) {
	if e.uttStartedAt.IsZero() {
		e.uttStartedAt = e.now()
	}
	e.backend.AcceptWaveform(samples)
}

func (e *streamingEngine) IsReady() bool { return e.backend.IsReady() }

func (e *streamingEngine) Decode() {
	e.backend.Decode()
	text, tokens, timestamps := e.backend.Result()

	now := e.now()
	if text != "" && text != e.lastResult.Text {
		e.hasDecoded = true
		e.lastTokenAt = now
	}
	e.lastResult = Transcript{Text: text, Tokens: tokens, Timestamps: timestamps}

	e.evaluateEndpoint(now)
}

// evaluateEndpoint implements the three-gate rule of spec.md §4.3: (a)
// trailing silence >= short threshold, (b) trailing silence >= long
// threshold after some tokens decoded, (c) total utterance length >= max.
// Trailing silence is measured from the last change in decoded text, so
// neither silence gate can fire before the first token is decoded; until
// then only gate (c) ends the utterance.
func (e *streamingEngine) evaluateEndpoint(now time.Time) {
	if e.endpointFlag || e.uttStartedAt.IsZero() {
		return
	}

	uttLen := now.Sub(e.uttStartedAt).Seconds()
	if uttLen >= e.cfg.MaxUtteranceSec {
		e.latchEndpoint()
		return
	}
	if e.lastTokenAt.IsZero() {
		return
	}
	silence := now.Sub(e.lastTokenAt).Seconds()
	if silence >= e.cfg.ShortPauseSec {
		e.latchEndpoint()
		return
	}
	if e.hasDecoded && silence >= e.cfg.LongPauseSec {
		e.latchEndpoint()
	}
}

func (e *streamingEngine) latchEndpoint() {
	e.endpointFlag = true
}

func (e *streamingEngine) GetResult() Transcript { return e.lastResult }

// IsEndpoint is latched: true once per endpoint event, reset on the next
// read, per spec.md §4.3.
func (e *streamingEngine) IsEndpoint() bool {
	if !e.endpointFlag {
		return false
	}
	e.endpointFlag = false
	e.backend.Reset()
	e.resetUtterance()
	e.lastResult = Transcript{}
	return true
}

func (e *streamingEngine) Reset() {
	e.backend.Reset()
	e.resetUtterance()
	e.lastResult = Transcript{}
	e.endpointFlag = false
}

func (e *streamingEngine) InputFinished() {
	if !e.uttStartedAt.IsZero() && !e.endpointFlag {
		e.latchEndpoint()
	}
}

func (e *streamingEngine) Dispose() error {
	return e.backend.Close()
}
