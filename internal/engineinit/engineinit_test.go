package engineinit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextalk/internal/asr"
	"nextalk/internal/capsule"
	"nextalk/internal/models"
)

// writeFile creates dir/name with some non-empty content, per models.Status's
// readiness rule (an empty file reads as incomplete).
func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644))
}

// markReady populates the on-disk files a fresh models.Store needs to report
// e as Ready, per the manifest table in manifest.yaml.
func markReady(t *testing.T, dataDir string, e models.Engine) {
	t.Helper()
	switch e {
	case models.Streaming:
		dir := filepath.Join(dataDir, "models", "zipformer")
		for _, f := range []string{"encoder.int8.onnx", "decoder.int8.onnx", "joiner.int8.onnx", "tokens.txt"} {
			writeFile(t, dir, f)
		}
	case models.Segmented:
		dir := filepath.Join(dataDir, "models", "sensevoice")
		for _, f := range []string{"model.int8.onnx", "tokens.txt"} {
			writeFile(t, dir, f)
		}
	case models.VAD:
		dir := filepath.Join(dataDir, "models", "vad")
		writeFile(t, dir, "silero_vad.onnx")
	}
}

type fakeEngine struct {
	disposed bool
}

func (f *fakeEngine) Initialize() error      { return nil }
func (f *fakeEngine) AcceptWaveform([]float32) {}
func (f *fakeEngine) Decode()                {}
func (f *fakeEngine) IsReady() bool          { return false }
func (f *fakeEngine) GetResult() asr.Transcript { return asr.Transcript{} }
func (f *fakeEngine) IsEndpoint() bool       { return false }
func (f *fakeEngine) Reset()                 {}
func (f *fakeEngine) InputFinished()         {}
func (f *fakeEngine) Dispose() error         { f.disposed = true; return nil }

// newEngineSucceeding returns a factory that always succeeds with a fresh
// fakeEngine, recording which kinds were requested.
func newEngineSucceeding(calls *[]asr.Kind) newEngineFunc {
	return func(cfg asr.EngineConfig) (asr.Engine, error) {
		*calls = append(*calls, cfg.Kind)
		return &fakeEngine{}, nil
	}
}

func newTestInitializer(t *testing.T, readyEngines []models.Engine, factory newEngineFunc) *Initializer {
	t.Helper()
	dataDir := t.TempDir()
	for _, e := range readyEngines {
		markReady(t, dataDir, e)
	}
	store, err := models.New(dataDir)
	require.NoError(t, err)
	return newWithEngineFactory(store, nil, factory)
}

func TestInitSucceedsWithPreferredEngineNoFallback(t *testing.T) {
	var calls []asr.Kind
	in := newTestInitializer(t, []models.Engine{models.Streaming}, newEngineSucceeding(&calls))

	res, err := in.Init(asr.StreamingKind)
	require.NoError(t, err)
	assert.Equal(t, asr.StreamingKind, res.ActualKind)
	assert.False(t, res.FallbackOccurred)
	assert.Equal(t, []asr.Kind{asr.StreamingKind}, calls)
}

func TestInitFallsBackWhenPreferredModelMissing(t *testing.T) {
	var calls []asr.Kind
	// streaming model absent, segmented+vad ready.
	in := newTestInitializer(t, []models.Engine{models.Segmented, models.VAD}, newEngineSucceeding(&calls))

	res, err := in.Init(asr.StreamingKind)
	require.NoError(t, err)
	assert.Equal(t, asr.SegmentedKind, res.ActualKind)
	assert.True(t, res.FallbackOccurred)
	assert.Contains(t, res.FallbackReason, "streaming")
	assert.Contains(t, res.FallbackReason, string(capsule.ErrModelNotFound))
	assert.Equal(t, []asr.Kind{asr.SegmentedKind}, calls, "build must never be attempted for the not-ready preferred engine")
}

func TestInitFallsBackOnModelLoadFailure(t *testing.T) {
	dataDir := t.TempDir()
	markReady(t, dataDir, models.Streaming)
	markReady(t, dataDir, models.Segmented)
	markReady(t, dataDir, models.VAD)
	store, err := models.New(dataDir)
	require.NoError(t, err)

	factory := func(cfg asr.EngineConfig) (asr.Engine, error) {
		if cfg.Kind == asr.StreamingKind {
			return nil, errors.New("corrupted tensor header")
		}
		return &fakeEngine{}, nil
	}
	in := newWithEngineFactory(store, nil, factory)

	res, err := in.Init(asr.StreamingKind)
	require.NoError(t, err)
	assert.Equal(t, asr.SegmentedKind, res.ActualKind)
	assert.True(t, res.FallbackOccurred)
}

func TestInitRaisesNotAvailableWhenBothEnginesFail(t *testing.T) {
	in := newTestInitializer(t, nil, newEngineSucceeding(&[]asr.Kind{}))

	_, err := in.Init(asr.StreamingKind)
	require.Error(t, err)
	var na *NotAvailableError
	require.ErrorAs(t, err, &na)
	assert.ElementsMatch(t, []asr.Kind{asr.StreamingKind, asr.SegmentedKind}, na.TriedEngines)
}

func TestProviderAdaptsInitToPipelineShape(t *testing.T) {
	var calls []asr.Kind
	in := newTestInitializer(t, []models.Engine{models.Streaming}, newEngineSucceeding(&calls))

	provide := in.Provider(asr.StreamingKind)
	eng, kind, err := provide()
	require.NoError(t, err)
	assert.Equal(t, capsule.ErrorKind(""), kind)
	assert.NotNil(t, eng)
}

func TestProviderMapsNotAvailableToModelNotFound(t *testing.T) {
	in := newTestInitializer(t, nil, newEngineSucceeding(&[]asr.Kind{}))

	provide := in.Provider(asr.SegmentedKind)
	eng, kind, err := provide()
	require.Error(t, err)
	assert.Nil(t, eng)
	assert.Equal(t, capsule.ErrModelNotFound, kind)
}
