package asr

import "fmt"

// offlineRecognizerBackend abstracts the segmented variant's per-segment
// recognizer (sensevoice), mirroring whisper_service.go's whisperBackend.
type offlineRecognizerBackend interface {
	Load(modelDir string, language Language, itn bool, numThreads int) error
	Recognize(samples []float32) (text, language, emotion string, err error)
	Close() error
}

type realOfflineRecognizerBackend struct{ loaded bool }

func newRealOfflineRecognizerBackend() *realOfflineRecognizerBackend {
	return &realOfflineRecognizerBackend{}
}

func (r *realOfflineRecognizerBackend) Load(modelDir string, language Language, itn bool, numThreads int) error {
	return fmt.Errorf("asr: segmented backend requires the sensevoice offline-recognizer bindings, not vendored in this build")
}
func (r *realOfflineRecognizerBackend) Recognize(samples []float32) (string, string, string, error) {
	return "", "", "", fmt.Errorf("asr: segmented backend not loaded")
}
func (r *realOfflineRecognizerBackend) Close() error { return nil }

// segment is one completed speech region handed off by the VAD, queued for
// the offline recognizer.
type segment struct {
	samples []float32
}

// segmentedEngine implements Engine for the VAD-gated offline-recognizer
// variant of spec.md §4.3.
//
// Pipeline: AcceptWaveform feeds the VAD; completed segments are queued
// FIFO; Decode (a no-op per the spec: "segmented ignores decode") is never
// where work happens — instead each AcceptWaveform call that yields a
// completed segment immediately recognizes it, matching "each pop emits one
// endpoint" from spec.md §4.3.
type segmentedEngine struct {
	cfg      SegmentedConfig
	vad      vadEngine
	backend  offlineRecognizerBackend

	queue      []segment
	lastResult Transcript
	endpoint   bool
}

// vadEngine is the subset of sileroVAD's surface segmentedEngine depends
// on, so tests can inject a fake VAD without an ONNX Runtime session.
type vadEngine interface {
	AcceptWaveform(samples []float32) []segment
	InputFinished() []segment
	Reset()
	Close() error
}

func newSegmentedEngine(cfg SegmentedConfig, vad vadEngine, backend offlineRecognizerBackend) *segmentedEngine {
	return &segmentedEngine{cfg: cfg, vad: vad, backend: backend}
}

func (e *segmentedEngine) Initialize() error {
	if err := e.backend.Load(e.cfg.ModelDir, e.cfg.Language, e.cfg.InverseTextNormalize, e.cfg.NumThreads); err != nil {
		return fmt.Errorf("asr: segmented init: %w", err)
	}
	return nil
}

// AcceptWaveform feeds the VAD; any segments it completes are queued and
// the first is immediately recognized and exposed via GetResult, latching
// IsEndpoint, per spec.md §4.3's "multiple queued segments are processed
// FIFO; each pop emits one endpoint."
func (e *segmentedEngine) AcceptWaveform(samples []float32) {
	done := e.vad.AcceptWaveform(samples)
	e.queue = append(e.queue, done...)
	e.drainOne()
}

func (e *segmentedEngine) drainOne() {
	if len(e.queue) == 0 {
		return
	}
	seg := e.queue[0]
	e.queue = e.queue[1:]

	text, language, emotion, err := e.backend.Recognize(seg.samples)
	if err != nil {
		return
	}
	e.lastResult = Transcript{Text: text, Language: language, Emotion: emotion}
	e.endpoint = true
}

// Decode is a no-op for the segmented variant, per spec.md §4.3.
func (e *segmentedEngine) Decode() {}

// IsReady is always false for the segmented variant, per spec.md §4.3.
func (e *segmentedEngine) IsReady() bool { return false }

func (e *segmentedEngine) GetResult() Transcript { return e.lastResult }

func (e *segmentedEngine) IsEndpoint() bool {
	if !e.endpoint {
		return false
	}
	e.endpoint = false
	return true
}

func (e *segmentedEngine) Reset() {
	e.vad.Reset()
	e.queue = nil
	e.lastResult = Transcript{}
	e.endpoint = false
}

// InputFinished forces processing of any pending VAD segment, per
// spec.md §4.3.
func (e *segmentedEngine) InputFinished() {
	done := e.vad.InputFinished()
	e.queue = append(e.queue, done...)
	e.drainOne()
}

func (e *segmentedEngine) Dispose() error {
	vadErr := e.vad.Close()
	backendErr := e.backend.Close()
	if vadErr != nil {
		return vadErr
	}
	return backendErr
}
