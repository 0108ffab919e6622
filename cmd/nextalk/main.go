// Command nextalk is the always-resident voice-input daemon: it wires
// together the audio capture, model store, ASR engine, inference pipeline,
// IME client, and session controller into the running core described by
// spec.md, and implements the command-line forms of spec.md §6.
//
// Grounded on main.go's initLogging()/wiring order (config, then model
// paths, then services, then run), restructured around the command-channel
// single-instance dance of spec.md §4.7 in place of Wails' window lifecycle,
// and on doismellburning-samoyed's cmd/direwolf use of spf13/pflag for
// argument parsing.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/spf13/pflag"

	"nextalk/internal/asr"
	"nextalk/internal/audioio"
	"nextalk/internal/capsule"
	"nextalk/internal/config"
	"nextalk/internal/diagnostic"
	"nextalk/internal/engineinit"
	"nextalk/internal/hotkeygrammar"
	"nextalk/internal/ime"
	"nextalk/internal/models"
	"nextalk/internal/pipeline"
	"nextalk/internal/session"
	"nextalk/internal/singleinstance"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	flags := pflag.NewFlagSet("nextalk", pflag.ContinueOnError)
	toggle := flags.Bool("toggle", false, "toggle a listening session on the running instance")
	show := flags.Bool("show", false, "show the capsule on the running instance")
	hide := flags.Bool("hide", false, "hide the capsule on the running instance")
	diagnose := flags.Bool("diagnose", false, "print a diagnostic report (platform, model status, recent log) and exit")
	if err := flags.Parse(argv); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, "nextalk:", err)
		return 1
	}

	if flags.NArg() > 0 && flags.Arg(0) == "audio" {
		return runAudioPicker()
	}
	if flags.NArg() > 0 && flags.Arg(0) == "hotkey" {
		return runHotkeySet(flags.Args()[1:])
	}
	if flags.NArg() > 0 && flags.Arg(0) == "models" {
		return runModels(flags.Args()[1:])
	}
	if *diagnose {
		return runDiagnose()
	}

	cmdPath := singleinstance.SocketPath()
	switch {
	case *toggle:
		return sendOrStartPrimary(cmdPath, session.CmdToggle)
	case *show:
		return sendToPrimary(cmdPath, session.CmdShow)
	case *hide:
		return sendToPrimary(cmdPath, session.CmdHide)
	default:
		return startPrimary(cmdPath, "")
	}
}

// sendToPrimary implements the "nextalk --show / --hide" form: deliver to
// the running primary, or fail if none is reachable.
func sendToPrimary(path string, cmd session.Command) int {
	if err := singleinstance.Send(path, cmd); err != nil {
		fmt.Fprintf(os.Stderr, "nextalk: no running instance to notify: %v\n", err)
		return 1
	}
	return 0
}

// sendOrStartPrimary implements "nextalk --toggle": forward to a running
// primary, or become the primary ourselves with an initial toggle queued,
// per spec.md §6's command-line table.
func sendOrStartPrimary(path string, cmd session.Command) int {
	if err := singleinstance.Send(path, cmd); err == nil {
		return 0
	}
	return startPrimary(path, cmd)
}

// startPrimary builds the full voice-input runtime and blocks until signaled
// to exit. initialCmd, if non-empty, is enqueued once the controller starts
// (the "start primary with initial toggle" case of spec.md §6).
func startPrimary(cmdSocketPath string, initialCmd session.Command) int {
	dataDir := models.DataDir()

	log, err := diagnostic.Open(dataDir, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nextalk: open diagnostic log:", err)
		return 1
	}
	defer log.Close()
	log.Infof("main", "=== nextalk starting ===")

	cfgSvc := config.NewService(dataDir)
	cfg := cfgSvc.Load()

	store, err := models.New(dataDir)
	if err != nil {
		log.Fatalf("main", "model store: %v", err)
		return 1
	}

	initr := engineinit.New(store, log)
	preferred := asr.StreamingKind
	if cfg.Engine == string(asr.SegmentedKind) {
		preferred = asr.SegmentedKind
	}

	capture := audioio.New()
	pl := pipeline.New(capture, cfg.AudioDevice, initr.Provider(preferred))

	imeClient := ime.New(imeSocketPath())

	broadcast := capsule.NewBroadcaster()
	controller := session.New(pl, imeClient, clipboard.WriteAll, broadcast, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := singleinstance.Listen(cmdSocketPath)
	if err != nil {
		log.Fatalf("main", "command channel: %v", err)
		return 1
	}
	if srv == nil {
		// A primary already owns the command socket: it was running before
		// this invocation, or (for --toggle) it started after the Send
		// attempt failed.
		fmt.Fprintln(os.Stderr, "nextalk: already running")
		return 1
	}
	defer srv.Close()
	go func() {
		if err := srv.Serve(controller.Enqueue); err != nil {
			log.Errorf("main", "command channel closed: %v", err)
		}
	}()

	if initialCmd != "" {
		controller.Enqueue(initialCmd)
	}

	log.Infof("main", "ready — listening on %s", cmdSocketPath)
	runWithCrashHandler(ctx, controller, store, log)
	log.Infof("main", "=== nextalk shutting down ===")
	return 0
}

// runWithCrashHandler runs the controller's execution context, recovering a
// panic in the controller goroutine into a logged FATAL entry plus a
// diagnostic report dumped to stderr, per spec.md §7's "fatal errors ...
// reported through a process-wide crash handler." Panics in the pipeline
// worker goroutine do not reach this handler: the worker recovers them
// itself and reports them as pipeline error events, and pipeline.safeCall
// silently recovers panics from the engine calls made during Stop. The
// restart/exit and copy-to-clipboard
// actions the spec also describes belong to the capsule UI, an external
// collaborator out of core scope per spec.md §1; this core-side handler's
// job ends at making the report available.
func runWithCrashHandler(ctx context.Context, controller *session.Controller, store *models.Store, log *diagnostic.Log) {
	defer func() {
		if r := recover(); r != nil {
			log.Fatalf("main", "panic in controller context: %v", r)
			fmt.Fprintln(os.Stderr, "nextalk: crashed — diagnostic report follows")
			fmt.Fprintln(os.Stderr, buildDiagnosticReport(store, log))
		}
	}()
	controller.Run(ctx)
}

// buildDiagnosticReport assembles spec.md §4.8's diagnostic report: platform
// info, per-engine model status, and the last 50 log lines.
func buildDiagnosticReport(store *models.Store, log *diagnostic.Log) string {
	statuses := map[string]string{}
	for _, e := range []models.Engine{models.Streaming, models.Segmented, models.VAD} {
		st, err := store.Status(e)
		if err != nil {
			statuses[string(e)] = fmt.Sprintf("error: %v", err)
			continue
		}
		statuses[string(e)] = string(st)
	}
	report, err := log.BuildReport(statuses)
	if err != nil {
		return fmt.Sprintf("nextalk: failed to build diagnostic report: %v", err)
	}
	return report.String()
}

// imeSocketPath resolves the text-commit socket of spec.md §6:
// $XDG_RUNTIME_DIR/nextalk-fcitx5.sock, falling back to /tmp.
func imeSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return dir + "/nextalk-fcitx5.sock"
}

// runDiagnose implements "nextalk --diagnose" (SPEC_FULL.md's supplemental
// ambient-tooling command): print the diagnostic report for the last run
// without starting the daemon.
func runDiagnose() int {
	dataDir := models.DataDir()

	log, err := diagnostic.Open(dataDir, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nextalk: open diagnostic log:", err)
		return 1
	}
	defer log.Close()

	store, err := models.New(dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nextalk: model store:", err)
		return 1
	}

	fmt.Println(buildDiagnosticReport(store, log))
	return 0
}

// runAudioPicker implements "nextalk audio": an interactive terminal device
// picker that persists the chosen device name to settings and advises a
// restart, per spec.md §6.
func runAudioPicker() int {
	device := audioio.New()
	devices, err := device.EnumerateInputDevices()
	if err != nil {
		fmt.Fprintln(os.Stderr, "nextalk: enumerate input devices:", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "nextalk: no input devices found")
		return 1
	}

	fmt.Println("Available input devices:")
	for _, d := range devices {
		mark := " "
		if !d.Available {
			mark = "!"
		}
		fmt.Printf("%s [%d] %s — %s\n", mark, d.Index, d.Name, d.Description)
	}
	fmt.Print("Select a device by number (blank to keep current): ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		fmt.Println("nextalk: no change made")
		return 0
	}

	idx, err := strconv.Atoi(line)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nextalk: invalid selection:", err)
		return 1
	}

	var chosen *audioio.Device
	for i := range devices {
		if devices[i].Index == idx {
			chosen = &devices[i]
			break
		}
	}
	if chosen == nil {
		fmt.Fprintln(os.Stderr, "nextalk: no device with that number")
		return 1
	}

	cfgSvc := config.NewService(models.DataDir())
	cfg := cfgSvc.Load()
	cfg.AudioDevice = chosen.Name
	if err := cfgSvc.Save(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "nextalk: save settings:", err)
		return 1
	}

	fmt.Printf("nextalk: audio device set to %q — restart nextalk for this to take effect\n", chosen.Name)
	return 0
}

// runHotkeySet implements "nextalk hotkey [combo]": validate combo against
// spec.md §6's grammar and persist it, or print the current value when
// called with no argument. nextalk itself never binds the combo to the OS
// (spec.md §9 delegates that to the desktop environment's shortcut system,
// which the user points at "nextalk --toggle"); this subcommand only keeps
// the stored value in sync with what was actually bound there.
func runHotkeySet(args []string) int {
	cfgSvc := config.NewService(models.DataDir())
	cfg := cfgSvc.Load()

	if len(args) == 0 {
		fmt.Println(cfg.Hotkey)
		return 0
	}

	combo, err := hotkeygrammar.Parse(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "nextalk:", err)
		return 1
	}

	cfg.Hotkey = combo.String()
	if err := cfgSvc.Save(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "nextalk: save settings:", err)
		return 1
	}

	fmt.Printf("nextalk: hotkey set to %q — bind this combo in your desktop environment's shortcut settings to run `nextalk --toggle`\n", cfg.Hotkey)
	return 0
}

var allEngines = []models.Engine{models.Streaming, models.Segmented, models.VAD}

// runModels implements "nextalk models [status|download <engine>...]": the
// standalone asset-management form of spec.md §4.2/§6, independent of the
// running daemon. "download" with more than one engine name (or "all")
// fetches them concurrently through Store.DownloadEngines rather than one
// at a time, since the common case — bringing the segmented variant's
// recognizer asset and the VAD asset it also needs both up to Ready — has
// no ordering dependency between the two downloads.
func runModels(args []string) int {
	dataDir := models.DataDir()
	store, err := models.New(dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nextalk: model store:", err)
		return 1
	}

	if len(args) == 0 || args[0] == "status" {
		for _, e := range allEngines {
			st, err := store.Status(e)
			if err != nil {
				fmt.Printf("%-10s error: %v\n", e, err)
				continue
			}
			fmt.Printf("%-10s %s\n", e, st)
		}
		return 0
	}

	if args[0] != "download" {
		fmt.Fprintf(os.Stderr, "nextalk: unknown models subcommand %q\n", args[0])
		return 1
	}

	engines, err := parseEngineArgs(args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "nextalk:", err)
		return 1
	}
	if len(engines) == 0 {
		fmt.Fprintln(os.Stderr, "nextalk: models download needs at least one engine name (streaming, segmented, vad, all)")
		return 1
	}

	progressCh := make(chan models.Progress, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progressCh {
			fmt.Printf("%-10s %-12s %d/%d\n", p.Engine, p.Phase, p.Bytes, p.Total)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = store.DownloadEngines(ctx, engines, nil, progressCh)
	close(progressCh)
	<-done
	if err != nil {
		fmt.Fprintln(os.Stderr, "nextalk: download failed:", err)
		return 1
	}
	fmt.Println("nextalk: download complete")
	return 0
}

// parseEngineArgs resolves "all" or a list of engine names into Engine
// values, rejecting anything unknown rather than silently skipping it.
func parseEngineArgs(names []string) ([]models.Engine, error) {
	seen := map[models.Engine]bool{}
	var engines []models.Engine
	add := func(e models.Engine) {
		if !seen[e] {
			seen[e] = true
			engines = append(engines, e)
		}
	}
	for _, n := range names {
		switch strings.ToLower(n) {
		case "all":
			for _, e := range allEngines {
				add(e)
			}
		case string(models.Streaming):
			add(models.Streaming)
		case string(models.Segmented):
			add(models.Segmented)
		case string(models.VAD):
			add(models.VAD)
		default:
			return nil, fmt.Errorf("unknown engine %q (want streaming, segmented, vad, or all)", n)
		}
	}
	return engines, nil
}
