package asr

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	vadSampleRate = 16000
	// vadWindowSize is the fixed Silero VAD v5 window size of spec.md §3:
	// 512 samples (32 ms) at 16 kHz.
	vadWindowSize = 512
	vadStateDim   = 128
	// vadRingSeconds bounds how much trailing audio a single in-progress
	// segment retains, per spec.md §4.3's "30-second ring buffer."
	vadRingSeconds   = 30
	vadRingMaxSample = vadRingSeconds * vadSampleRate
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// sileroVAD runs Silero VAD v5 inference via ONNX Runtime and delegates
// speech-region bookkeeping to a segmentTracker.
//
// Grounded on nupi-ai-plugin-vad-local-silero/internal/engine/silero.go's
// ONNX Runtime session/tensor lifecycle (NewAdvancedSessionWithONNXData,
// explicit tensor Destroy, sync.Once-guarded environment init); that
// engine only classifies each window and leaves segmentation to its
// caller, so the boundary logic here is new.
type sileroVAD struct {
	session *ort.AdvancedSession

	inputTensor  *ort.Tensor[float32]
	stateTensor  *ort.Tensor[float32]
	srTensor     *ort.Tensor[int64]
	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	threshold float64
	tracker   *segmentTracker
	windowBuf []float32
}

func newSileroVAD(modelPath string, threshold float64) (*sileroVAD, error) {
	return newSileroVADWithConfig(modelPath, threshold, 0.5, 0.25, 10)
}

func newSileroVADWithConfig(modelPath string, threshold, minSilenceSec, minSpeechSec, maxSpeechSec float64) (*sileroVAD, error) {
	modelData, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("asr: read vad model %q: %w", modelPath, err)
	}

	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = err
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("asr: onnxruntime init: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, vadWindowSize))
	if err != nil {
		return nil, fmt.Errorf("asr: vad input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, vadStateDim))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("asr: vad state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(vadSampleRate)})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("asr: vad sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("asr: vad output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, vadStateDim))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("asr: vad stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("asr: vad session: %w", err)
	}

	return &sileroVAD{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		threshold:    threshold,
		tracker: newSegmentTracker(
			int(minSilenceSec*vadSampleRate),
			int(minSpeechSec*vadSampleRate),
			int(maxSpeechSec*vadSampleRate),
			vadRingMaxSample,
		),
		windowBuf: make([]float32, 0, vadWindowSize*2),
	}, nil
}

// AcceptWaveform buffers samples to 512-sample windows, runs VAD inference
// on each, and returns any segments completed as a result.
func (v *sileroVAD) AcceptWaveform(samples []float32) []segment {
	v.windowBuf = append(v.windowBuf, samples...)

	var completed []segment
	for len(v.windowBuf) >= vadWindowSize {
		window := v.windowBuf[:vadWindowSize]
		v.windowBuf = v.windowBuf[vadWindowSize:]

		prob, err := v.infer(window)
		if err != nil {
			continue
		}
		if seg, ok := v.tracker.observe(window, prob >= v.threshold); ok {
			completed = append(completed, seg)
		}
	}
	return completed
}

// InputFinished forces processing of any pending (in-progress) segment,
// per spec.md §4.3.
func (v *sileroVAD) InputFinished() []segment {
	seg, ok := v.tracker.flush()
	if !ok {
		return nil
	}
	return []segment{seg}
}

func (v *sileroVAD) infer(window []float32) (float32, error) {
	copy(v.inputTensor.GetData(), window)
	if err := v.session.Run(); err != nil {
		return 0, fmt.Errorf("asr: vad inference: %w", err)
	}
	prob := v.outputTensor.GetData()[0]
	copy(v.stateTensor.GetData(), v.stateNTensor.GetData())
	return prob, nil
}

func (v *sileroVAD) Reset() {
	clearFloat32Slice(v.stateTensor.GetData())
	v.windowBuf = v.windowBuf[:0]
	v.tracker.reset()
}

func (v *sileroVAD) Close() error {
	if v.session != nil {
		v.session.Destroy()
		v.session = nil
	}
	if v.inputTensor != nil {
		v.inputTensor.Destroy()
		v.inputTensor = nil
	}
	if v.stateTensor != nil {
		v.stateTensor.Destroy()
		v.stateTensor = nil
	}
	if v.srTensor != nil {
		v.srTensor.Destroy()
		v.srTensor = nil
	}
	if v.outputTensor != nil {
		v.outputTensor.Destroy()
		v.outputTensor = nil
	}
	if v.stateNTensor != nil {
		v.stateNTensor.Destroy()
		v.stateNTensor = nil
	}
	return nil
}

func clearFloat32Slice(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
