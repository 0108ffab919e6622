// Package engineinit implements the Engine Initializer (C9): given a
// user-preferred engine kind, try to build and initialize it, and on a
// model-related failure fall back to the alternate engine.
//
// Grounded on app.go's startup() — "a.whisper.Load(); if
// errors.Is(err, ErrModelNotFound) { ... }" — generalized from a single
// always-whisper engine with a missing-model notice into a
// try-preferred-then-alternate policy across two engine kinds.
package engineinit

import (
	"fmt"

	"nextalk/internal/asr"
	"nextalk/internal/capsule"
	"nextalk/internal/diagnostic"
	"nextalk/internal/models"
)

// Result is the outcome of a successful Init call, per spec.md §4.9.
type Result struct {
	Engine           asr.Engine
	ActualKind       asr.Kind
	FallbackOccurred bool
	FallbackReason   string
}

// NotAvailableError is raised when neither the preferred nor the alternate
// engine could be initialized, per spec.md §4.9's
// "EngineNotAvailable{triedEngines}".
type NotAvailableError struct {
	TriedEngines []asr.Kind
	Reasons      map[asr.Kind]error
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("engineinit: no engine available, tried %v", e.TriedEngines)
}

// isModelFailure reports whether kind is one of the capsule.ErrorKinds that
// trigger a fallback to the alternate engine, per spec.md §4.9.
func isModelFailure(kind capsule.ErrorKind) bool {
	switch kind {
	case capsule.ErrModelNotFound, capsule.ErrModelIncomplete, capsule.ErrModelLoadFailed:
		return true
	}
	return false
}

func alternate(k asr.Kind) asr.Kind {
	if k == asr.StreamingKind {
		return asr.SegmentedKind
	}
	return asr.StreamingKind
}

// newEngine constructs and Initializes the asr.Engine for cfg. Swapped out
// in tests so Init's fallback policy can be exercised without a real ONNX
// runtime or transducer model on disk.
type newEngineFunc func(cfg asr.EngineConfig) (asr.Engine, error)

func newRealEngine(cfg asr.EngineConfig) (asr.Engine, error) {
	eng, err := asr.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := eng.Initialize(); err != nil {
		eng.Dispose()
		return nil, err
	}
	return eng, nil
}

// Initializer builds engines from the model store and user configuration.
type Initializer struct {
	store     *models.Store
	log       *diagnostic.Log
	newEngine newEngineFunc
}

// New creates an Initializer backed by store. log may be nil.
func New(store *models.Store, log *diagnostic.Log) *Initializer {
	return &Initializer{store: store, log: log, newEngine: newRealEngine}
}

// newWithEngineFactory is the test-only constructor that injects a fake
// engine builder in place of asr.New+Initialize.
func newWithEngineFactory(store *models.Store, log *diagnostic.Log, f newEngineFunc) *Initializer {
	return &Initializer{store: store, log: log, newEngine: f}
}

// Init implements spec.md §4.9: try preferred, then alternate, then raise
// NotAvailableError. It satisfies pipeline.EngineProvider's
// func() (asr.Engine, capsule.ErrorKind, error) shape via Provider.
func (in *Initializer) Init(preferred asr.Kind) (Result, error) {
	tried := []asr.Kind{preferred}
	eng, err := in.build(preferred)
	if err == nil {
		return Result{Engine: eng, ActualKind: preferred}, nil
	}

	kind := classify(err)
	if !isModelFailure(kind) {
		return Result{}, err
	}
	in.logf(diagnostic.Warn, "%s engine unavailable (%s), falling back", preferred, kind)

	alt := alternate(preferred)
	tried = append(tried, alt)
	altEng, altErr := in.build(alt)
	if altErr == nil {
		reason := fmt.Sprintf("%s: %s", preferred, kind)
		return Result{
			Engine:           altEng,
			ActualKind:       alt,
			FallbackOccurred: true,
			FallbackReason:   reason,
		}, nil
	}

	return Result{}, &NotAvailableError{
		TriedEngines: tried,
		Reasons:      map[asr.Kind]error{preferred: err, alt: altErr},
	}
}

// Provider adapts Init into a pipeline.EngineProvider-shaped function for
// the given preferred kind, without internal/engineinit importing
// internal/pipeline (kept decoupled per the same reasoning as
// pipeline.EngineProvider itself).
func (in *Initializer) Provider(preferred asr.Kind) func() (asr.Engine, capsule.ErrorKind, error) {
	return func() (asr.Engine, capsule.ErrorKind, error) {
		res, err := in.Init(preferred)
		if err != nil {
			var na *NotAvailableError
			if isNotAvailable(err, &na) {
				return nil, capsule.ErrModelNotFound, err
			}
			return nil, classify(err), err
		}
		if res.FallbackOccurred {
			in.logf(diagnostic.Info, "using %s engine (fallback: %s)", res.ActualKind, res.FallbackReason)
		}
		return res.Engine, "", nil
	}
}

func isNotAvailable(err error, target **NotAvailableError) bool {
	if na, ok := err.(*NotAvailableError); ok {
		*target = na
		return true
	}
	return false
}

// build resolves model readiness for kind, then constructs the asr.Engine.
// A not-ready model status is surfaced as the matching capsule.ErrorKind
// without ever attempting construction (asr.New would otherwise fail deep
// inside ONNX/transducer init with a less specific error).
func (in *Initializer) build(kind asr.Kind) (asr.Engine, error) {
	switch kind {
	case asr.StreamingKind:
		return in.buildStreaming()
	case asr.SegmentedKind:
		return in.buildSegmented()
	default:
		return nil, fmt.Errorf("engineinit: unknown engine kind %q", kind)
	}
}

func (in *Initializer) buildStreaming() (asr.Engine, error) {
	if err := in.checkReady(models.Streaming); err != nil {
		return nil, err
	}
	dir, err := in.store.Path(models.Streaming)
	if err != nil {
		return nil, &statusError{kind: capsule.ErrModelNotFound, err: err}
	}

	cfg := asr.DefaultStreamingConfig(dir)
	eng, err := in.newEngine(asr.EngineConfig{Kind: asr.StreamingKind, Streaming: cfg})
	if err != nil {
		return nil, &statusError{kind: capsule.ErrModelLoadFailed, err: err}
	}
	return eng, nil
}

func (in *Initializer) buildSegmented() (asr.Engine, error) {
	if err := in.checkReady(models.Segmented); err != nil {
		return nil, err
	}
	if err := in.checkReady(models.VAD); err != nil {
		return nil, err
	}
	dir, err := in.store.Path(models.Segmented)
	if err != nil {
		return nil, &statusError{kind: capsule.ErrModelNotFound, err: err}
	}
	vadPath, err := in.store.Path(models.VAD)
	if err != nil {
		return nil, &statusError{kind: capsule.ErrModelNotFound, err: err}
	}

	cfg := asr.DefaultSegmentedConfig(dir, vadPath)
	eng, err := in.newEngine(asr.EngineConfig{Kind: asr.SegmentedKind, Segmented: cfg})
	if err != nil {
		return nil, &statusError{kind: capsule.ErrModelLoadFailed, err: err}
	}
	return eng, nil
}

func (in *Initializer) checkReady(e models.Engine) error {
	status, err := in.store.Status(e)
	if err != nil {
		return &statusError{kind: capsule.ErrModelNotFound, err: err}
	}
	switch status {
	case models.Ready:
		return nil
	case models.NotFound:
		return &statusError{kind: capsule.ErrModelNotFound, err: fmt.Errorf("%s: model not found", e)}
	case models.Incomplete:
		return &statusError{kind: capsule.ErrModelIncomplete, err: fmt.Errorf("%s: model incomplete", e)}
	case models.Corrupted:
		// spec.md §4.9 scenario 5: corrupted model bytes surface through
		// engine init as modelLoadFailed, not a distinct corrupted trigger —
		// modelCorrupted is reserved for the standalone C2 Verify operation.
		return &statusError{kind: capsule.ErrModelLoadFailed, err: fmt.Errorf("%s: model corrupted", e)}
	default:
		return &statusError{kind: capsule.ErrModelNotFound, err: fmt.Errorf("%s: status %s", e, status)}
	}
}

func (in *Initializer) logf(level diagnostic.Level, format string, args ...interface{}) {
	if in.log == nil {
		return
	}
	in.log.Write(level, "engineinit", format, args...)
}

// statusError tags a build failure with the capsule.ErrorKind it should
// surface as, without requiring the caller to re-derive it from error text.
type statusError struct {
	kind capsule.ErrorKind
	err  error
}

func (e *statusError) Error() string { return fmt.Sprintf("engineinit: %s: %v", e.kind, e.err) }
func (e *statusError) Unwrap() error { return e.err }

func classify(err error) capsule.ErrorKind {
	if se, ok := err.(*statusError); ok {
		return se.kind
	}
	return capsule.ErrUnknown
}
