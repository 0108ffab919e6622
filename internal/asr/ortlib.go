package asr

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ortLibCandidates returns, in priority order, the paths checked for the
// ONNX Runtime shared library: a copy shipped beside the executable, then
// the handful of system library directories a Linux package manager
// actually installs onnxruntime into. There is no current-working-directory
// fallback — nextalk runs as a long-lived daemon launched from a desktop
// shortcut or systemd unit, not a CLI invoked from inside a build tree, so
// CWD is not a meaningful search root and would only widen the
// library-hijack surface.
func ortLibCandidates() []string {
	name := ortLibFilename()
	archDir := runtime.GOOS + "-" + runtime.GOARCH

	var candidates []string
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append(candidates,
			filepath.Join(exeDir, "lib", archDir, name),
			filepath.Join(exeDir, "..", "lib", archDir, name),
		)
	}
	candidates = append(candidates,
		filepath.Join("/usr/lib", archTriplet(), name),
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
	)
	return candidates
}

// archTriplet approximates Debian/Ubuntu's multiarch library directory name
// (e.g. /usr/lib/x86_64-linux-gnu/libonnxruntime.so, where the upstream
// onnxruntime .deb actually installs) for the common case; an unrecognized
// GOARCH still falls through to the plain /usr/local/lib and /usr/lib
// candidates in ortLibCandidates.
func archTriplet() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64-linux-gnu"
	case "arm64":
		return "aarch64-linux-gnu"
	default:
		return runtime.GOARCH + "-linux-gnu"
	}
}

// resolveORTLibPath locates the ONNX Runtime shared library that the
// segmented engine's Silero VAD session loads when it is created; the
// recognizer backends do not load it. NEXTALK_ORT_LIB_PATH, if set, is authoritative and
// skips the search entirely; otherwise the first existing file among
// ortLibCandidates wins.
func resolveORTLibPath() (string, error) {
	if envPath := os.Getenv("NEXTALK_ORT_LIB_PATH"); envPath != "" {
		info, err := os.Stat(envPath)
		if err != nil {
			return "", fmt.Errorf("asr: NEXTALK_ORT_LIB_PATH=%q does not exist", envPath)
		}
		if info.IsDir() {
			return "", fmt.Errorf("asr: NEXTALK_ORT_LIB_PATH=%q is a directory, expected a file", envPath)
		}
		return envPath, nil
	}

	for _, path := range ortLibCandidates() {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", fmt.Errorf("asr: onnxruntime shared library %q not found in any of %v (set NEXTALK_ORT_LIB_PATH to override)", ortLibFilename(), ortLibCandidates())
}

func ortLibFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
