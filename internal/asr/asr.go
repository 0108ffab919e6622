// Package asr implements the polymorphic ASR engine (C3): a `streaming`
// online-transducer variant and a `segmented` VAD-gated offline-recognizer
// variant, both behind one Engine interface.
//
// The recognizer side of both variants is grounded on whisper_service.go's
// whisperBackend interface (generalized from a single whisper.cpp backend
// to two recognizer backends sharing the same injectable-backend shape, so
// CGo/native bindings never enter unit tests). Recognizer text is passed
// on as the backend returns it; no hallucination filtering or trimming is
// applied in this package. The segmented variant's VAD stage is
// grounded on
// nupi-ai-plugin-vad-local-silero/internal/engine/silero.go's ONNX Runtime
// session/tensor lifecycle.
package asr

import "fmt"

// Kind is the closed set of spec.md §3's "Engine kind".
type Kind string

const (
	StreamingKind Kind = "streaming"
	SegmentedKind Kind = "segmented"
)

// DecodeStrategy is the streaming variant's decoding strategy selector.
type DecodeStrategy string

const (
	Greedy DecodeStrategy = "greedy"
	Beam   DecodeStrategy = "beam"
)

// Quantization selects between int8 and full-precision model variants.
type Quantization string

const (
	Int8 Quantization = "int8"
	Full Quantization = "full"
)

// StreamingConfig configures the streaming (online transducer) variant,
// per spec.md §3's tagged "Engine config" variant.
type StreamingConfig struct {
	ModelDir         string
	Quantization     Quantization
	ShortPauseSec    float64 // default 2.4
	LongPauseSec     float64 // default 1.2
	MaxUtteranceSec  float64 // default 20
	FeatureDim       int
	NumThreads       int
	Decoding         DecodeStrategy
}

// DefaultStreamingConfig returns the spec's default thresholds (§4.3).
func DefaultStreamingConfig(modelDir string) StreamingConfig {
	return StreamingConfig{
		ModelDir:        modelDir,
		Quantization:    Int8,
		ShortPauseSec:   2.4,
		LongPauseSec:    1.2,
		MaxUtteranceSec: 20,
		FeatureDim:      80,
		NumThreads:      2,
		Decoding:        Greedy,
	}
}

// Language is the closed set of spec.md §3's segmented language tag.
type Language string

const (
	Auto Language = "auto"
	Zh   Language = "zh"
	En   Language = "en"
	Ja   Language = "ja"
	Ko   Language = "ko"
	Yue  Language = "yue"
)

// SegmentedConfig configures the segmented (VAD + offline recognizer)
// variant, per spec.md §3.
type SegmentedConfig struct {
	ModelDir             string
	VADModelPath         string
	Language             Language
	InverseTextNormalize bool
	VADThreshold         float64
	MinSilenceSec        float64 // default 0.5
	MinSpeechSec         float64
	MaxSpeechSec         float64 // default 10
	NumThreads           int
}

// DefaultSegmentedConfig returns spec.md §4.3's defaults.
func DefaultSegmentedConfig(modelDir, vadModelPath string) SegmentedConfig {
	return SegmentedConfig{
		ModelDir:      modelDir,
		VADModelPath:  vadModelPath,
		Language:      Auto,
		VADThreshold:  0.5,
		MinSilenceSec: 0.5,
		MinSpeechSec:  0.25,
		MaxSpeechSec:  10,
		NumThreads:    2,
	}
}

// EngineConfig is the tagged variant selecting which Engine to construct,
// per Design Notes §9's "config is a tagged variant; a factory maps engine
// kind to constructor" — modeled as a struct-with-discriminant, matching
// the teacher's Config/modelEntry style rather than a Go interface.
type EngineConfig struct {
	Kind      Kind
	Streaming StreamingConfig
	Segmented SegmentedConfig
}

// Transcript is spec.md §3's Transcript data model. Equality is by
// (Text, Language, Emotion) per the spec's explicit equality rule.
type Transcript struct {
	Text       string
	Language   string
	Emotion    string
	Tokens     []string
	Timestamps []float64
}

// Equal compares two transcripts by (Text, Language, Emotion) only, per
// spec.md §3.
func (t Transcript) Equal(o Transcript) bool {
	return t.Text == o.Text && t.Language == o.Language && t.Emotion == o.Emotion
}

// Engine is the common contract of spec.md §4.3, implemented by both the
// streaming and segmented variants.
type Engine interface {
	Initialize() error
	AcceptWaveform(samples []float32)
	Decode()
	IsReady() bool
	GetResult() Transcript
	IsEndpoint() bool
	Reset()
	InputFinished()
	Dispose() error
}

// New constructs the Engine selected by cfg.Kind, per the factory pattern
// of Design Notes §9.
func New(cfg EngineConfig) (Engine, error) {
	switch cfg.Kind {
	case StreamingKind:
		return newStreamingEngine(cfg.Streaming, newRealTransducerBackend()), nil
	case SegmentedKind:
		seg := cfg.Segmented
		vad, err := newSileroVADWithConfig(seg.VADModelPath, seg.VADThreshold, seg.MinSilenceSec, seg.MinSpeechSec, seg.MaxSpeechSec)
		if err != nil {
			return nil, fmt.Errorf("asr: init vad: %w", err)
		}
		return newSegmentedEngine(cfg.Segmented, vad, newRealOfflineRecognizerBackend()), nil
	default:
		return nil, fmt.Errorf("asr: unknown engine kind %q", cfg.Kind)
	}
}
