package asr

// segmentTracker turns a stream of per-window speech/silence classifications
// into completed segments, per spec.md §4.3's segmented-variant rule: a
// segment completes when trailing silence reaches minSilenceDuration after
// speech of at least minSpeechDuration, or when speech alone reaches
// maxSpeechDuration. Kept independent of the ONNX Runtime session so it can
// be unit-tested without a native library, mirroring how
// nupi-ai-plugin-vad-local-silero/internal/engine/silero_test.go only tests
// the pure pcmToFloat32 helper rather than the session-backed engine.
type segmentTracker struct {
	minSilenceSamples int
	minSpeechSamples  int
	maxSpeechSamples  int
	ringMaxSamples    int

	inSpeech       bool
	speechSamples  int
	silenceSamples int
	buf            []float32
}

func newSegmentTracker(minSilenceSamples, minSpeechSamples, maxSpeechSamples, ringMaxSamples int) *segmentTracker {
	return &segmentTracker{
		minSilenceSamples: minSilenceSamples,
		minSpeechSamples:  minSpeechSamples,
		maxSpeechSamples:  maxSpeechSamples,
		ringMaxSamples:    ringMaxSamples,
	}
}

// observe applies one window's classification and returns a completed
// segment when a boundary is crossed.
func (s *segmentTracker) observe(window []float32, isSpeech bool) (segment, bool) {
	if isSpeech {
		s.inSpeech = true
		s.silenceSamples = 0
		s.appendToBuf(window)
		s.speechSamples += len(window)

		if s.speechSamples >= s.maxSpeechSamples {
			return s.cut()
		}
		return segment{}, false
	}

	if !s.inSpeech {
		return segment{}, false
	}

	s.appendToBuf(window)
	s.silenceSamples += len(window)
	if s.silenceSamples >= s.minSilenceSamples {
		return s.cut()
	}
	return segment{}, false
}

func (s *segmentTracker) appendToBuf(window []float32) {
	s.buf = append(s.buf, window...)
	if s.ringMaxSamples > 0 && len(s.buf) > s.ringMaxSamples {
		s.buf = s.buf[len(s.buf)-s.ringMaxSamples:]
	}
}

// cut finalizes the in-progress segment if it meets the minimum speech
// duration, and resets tracking state unconditionally.
func (s *segmentTracker) cut() (segment, bool) {
	emit := s.speechSamples >= s.minSpeechSamples
	var out segment
	if emit {
		out = segment{samples: append([]float32(nil), s.buf...)}
	}
	s.inSpeech = false
	s.speechSamples = 0
	s.silenceSamples = 0
	s.buf = nil
	return out, emit
}

// flush forces the in-progress segment to complete, per spec.md §4.3's
// "inputFinished forces processing of any pending VAD segment."
func (s *segmentTracker) flush() (segment, bool) {
	if !s.inSpeech {
		return segment{}, false
	}
	return s.cut()
}

func (s *segmentTracker) reset() {
	s.inSpeech = false
	s.speechSamples = 0
	s.silenceSamples = 0
	s.buf = nil
}
