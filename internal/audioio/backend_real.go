package audioio

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// realBackend wraps gordonklaus/portaudio for production use, using the
// BLOCKING stream API (stream.Read in a Go goroutine) rather than the
// callback API exactly as the teacher's realAudioBackend does — callbacks
// run on a C thread, and calling Go runtime functions (make, channel sends)
// from a C thread panics the goroutine scheduler.
type realBackend struct {
	stream    *portaudio.Stream
	buf       []float32
	framesCh  chan []float32
	readErrCh chan error
	stopCh    chan struct{}
}

func newRealBackend() *realBackend {
	return &realBackend{}
}

func (r *realBackend) Open(deviceName string) error {
	if err := portaudio.Initialize(); err != nil {
		return &Error{Kind: InitFailed, Err: err}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		portaudio.Terminate() //nolint:errcheck
		return &Error{Kind: InitFailed, Err: err}
	}

	dev, err := selectDevice(devices, deviceName)
	if err != nil {
		portaudio.Terminate() //nolint:errcheck
		return err
	}

	r.buf = make([]float32, FramesPerBuffer)
	r.framesCh = make(chan []float32, 64)
	r.readErrCh = make(chan error, 4)
	r.stopCh = make(chan struct{})

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, r.buf)
	if err != nil {
		portaudio.Terminate() //nolint:errcheck
		errStr := strings.ToLower(err.Error())
		switch {
		case strings.Contains(errStr, "denied") || strings.Contains(errStr, "unauthorized"):
			return &Error{Kind: PermissionDenied, Err: err}
		case strings.Contains(errStr, "unavailable") || strings.Contains(errStr, "in use") || strings.Contains(errStr, "busy"):
			return &Error{Kind: DeviceBusy, Err: err}
		default:
			return &Error{Kind: InitFailed, Err: err}
		}
	}
	r.stream = stream
	return nil
}

func (r *realBackend) Start() error {
	if err := r.stream.Start(); err != nil {
		return &Error{Kind: InitFailed, Err: fmt.Errorf("start stream: %w", err)}
	}

	go func() {
		defer close(r.framesCh)
		for {
			select {
			case <-r.stopCh:
				return
			default:
			}

			if err := r.stream.Read(); err != nil {
				select {
				case r.readErrCh <- err:
				case <-r.stopCh:
				}
				continue
			}

			frame := make([]float32, len(r.buf))
			copy(frame, r.buf)

			select {
			case r.framesCh <- frame:
			case <-r.stopCh:
				return
			}
		}
	}()

	return nil
}

func (r *realBackend) Stop() error {
	close(r.stopCh)
	if err := r.stream.Stop(); err != nil {
		return &Error{Kind: InitFailed, Err: err}
	}
	return nil
}

func (r *realBackend) Close() error {
	if r.stream == nil {
		return nil
	}
	err := r.stream.Close()
	portaudio.Terminate() //nolint:errcheck
	if err != nil {
		return &Error{Kind: InitFailed, Err: err}
	}
	return nil
}

func (r *realBackend) Frames() <-chan []float32 { return r.framesCh }
func (r *realBackend) ReadErrors() <-chan error { return r.readErrCh }

// enumerateDevices lists all input-capable devices via portaudio.
func enumerateDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &Error{Kind: InitFailed, Err: err}
	}
	defer portaudio.Terminate() //nolint:errcheck

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &Error{Kind: InitFailed, Err: err}
	}

	def, _ := portaudio.DefaultInputDevice()

	out := make([]Device, 0, len(devices))
	for i, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, Device{
			Index:       i,
			Name:        d.Name,
			Description: fmt.Sprintf("%s (%d ch, %.0f Hz)", d.Name, d.MaxInputChannels, d.DefaultSampleRate),
			Available:   def == nil || d.Name != "", // availability beyond device-listing is backend-specific; listed devices are considered available
		})
	}
	return out, nil
}
