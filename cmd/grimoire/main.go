// Command grimoire runs the Grimoire behavioral pattern engine: it attaches
// the grimoire-oracle eBPF tracepoint, consumes its ring buffer, advances
// per-process pattern state machines, and logs or enforces on a match.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/guardianshield/grimoire/internal/alertlog"
	"github.com/guardianshield/grimoire/internal/config"
	"github.com/guardianshield/grimoire/internal/enforce"
	"github.com/guardianshield/grimoire/internal/engine"
	"github.com/guardianshield/grimoire/internal/oracle"
	"github.com/guardianshield/grimoire/internal/procmeta"
)

const (
	exitOK         = 0
	exitInitFailed = 1
	exitPermission = 2
	exitSignal     = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	var cfg config.Config
	var enforceFlagSet bool

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	rootCmd := &cobra.Command{
		Use:           "grimoire",
		Short:         "Grimoire behavioral pattern engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().BoolVar(&cfg.Enable, "enable-grimoire", false, "arm the engine (without it the producer is not attached)")
	rootCmd.Flags().BoolVar(&cfg.Enforce, "grimoire-enforce", false, "enforcement mode; absent = shadow")
	rootCmd.Flags().StringVar(&cfg.LogPath, "grimoire-log", config.DefaultAlertLogPath, "alert log path")
	rootCmd.Flags().IntVar(&cfg.Duration, "duration", 0, "bounded run in seconds; 0 = until signalled")
	rootCmd.Flags().BoolVar(&cfg.Debug, "grimoire-debug", false, "per-event trace to stderr")
	rootCmd.Flags().StringVar(&cfg.ObjectPath, "grimoire-object", "", "path to the compiled grimoire-oracle BPF object (default: alongside the binary, bpf/grimoire_oracle.o)")
	rootCmd.Flags().IntVar(&cfg.RingBufSizeBytes, "grimoire-ringbuf-bytes", 512*1024, "ring buffer size in bytes (rounded up to a power of two, floor 512KiB)")

	exitCode := exitOK
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		enforceFlagSet = cmd.Flags().Changed("grimoire-enforce")
		code, err := mainRun(cfg, enforceFlagSet, log)
		exitCode = code
		return err
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "grimoire: %v\n", err)
		if exitCode == exitOK {
			exitCode = exitInitFailed
		}
	}
	return exitCode
}

func mainRun(cfg config.Config, enforceFlagSet bool, log *logrus.Logger) (int, error) {
	if !cfg.Enable {
		log.Info("grimoire disabled (pass --enable-grimoire to arm)")
		return exitOK, nil
	}
	cfg.ApplyEnv(enforceFlagSet)

	if unix.Geteuid() != 0 {
		// Non-root: CAP_PERFMON (38) and CAP_BPF (39) must both be in the
		// effective set; they live in the second 32-bit capability word.
		hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
		var data [2]unix.CapUserData
		const capPerfmon, capBPF = 38, 39
		need := uint32(1)<<(capPerfmon-32) | uint32(1)<<(capBPF-32)
		if err := unix.Capget(&hdr, &data[0]); err != nil || data[1].Effective&need != need {
			return exitPermission, fmt.Errorf("grimoire requires CAP_BPF+CAP_PERFMON or root")
		}
	}

	if cfg.ObjectPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			return exitInitFailed, fmt.Errorf("resolve executable path: %w", err)
		}
		cfg.ObjectPath = filepath.Join(filepath.Dir(execPath), "bpf", "grimoire_oracle.o")
	}

	entry := log.WithField("component", "oracle")
	loader, err := oracle.Load(cfg.ObjectPath, cfg.RingBufSizeBytes, entry)
	if err != nil {
		return exitInitFailed, err
	}
	defer loader.Close()

	resolver, err := procmeta.NewResolver()
	if err != nil {
		return exitInitFailed, err
	}

	mode := enforce.Shadow
	if cfg.Enforce {
		mode = enforce.Enforce
	}

	alog, err := alertlog.Open(cfg.LogPath)
	if err != nil {
		return exitInitFailed, err
	}
	defer alog.Close()

	matchCounts := make(map[string]int)
	var enforcementsOK, enforcementsFailed uint64

	eng := engine.New(resolver, engine.DefaultTrackCap, func(m engine.MatchResult) {
		action := enforce.Decide(mode, m.PID)
		switch action {
		case enforce.ActionTerminated:
			enforcementsOK++
		case enforce.ActionTerminateFailed:
			enforcementsFailed++
		}

		matchCounts[m.Pattern.Name]++

		trace := make([]alertlog.StepObservation, len(m.StepTrace))
		for i, s := range m.StepTrace {
			trace[i] = alertlog.StepObservation{SyscallNr: s.SyscallNr, TimestampNs: s.TimestampNs}
		}
		rec := alertlog.Record{
			Pattern:    m.Pattern,
			PID:        m.PID,
			NsInum:     m.NsInum,
			Container:  m.Container,
			BinaryPath: m.BinaryPath,
			Action:     action,
			StepTrace:  trace,
			OccurredAt: time.Now(),
		}
		if err := alog.Write(rec); err != nil {
			log.WithError(err).Error("alert log write failed")
		}

		log.WithFields(logrus.Fields{
			"pattern": m.Pattern.Name,
			"severity": m.Pattern.Severity.String(),
			"pid":      m.PID,
			"action":   action,
		}).Warn("pattern match")
	})

	consumer := oracle.NewConsumer(loader, eng, log.WithField("component", "consumer"), cfg.Debug)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, unix.SIGTERM)

	done := make(chan struct{})
	go func() {
		consumer.Run(stop)
		close(done)
	}()

	exitCode := exitOK
	if cfg.Duration > 0 {
		select {
		case <-time.After(time.Duration(cfg.Duration) * time.Second):
		case <-sig:
			exitCode = exitSignal
		}
	} else {
		<-sig
		exitCode = exitSignal
	}

	close(stop)
	<-done

	producerDropped, err := loader.DroppedEvents()
	if err != nil {
		log.WithError(err).Warn("failed to read producer-side dropped-events counter")
	}

	log.WithFields(logrus.Fields{
		"events_processed":        consumer.Stats.Processed(),
		"events_dropped":          consumer.Stats.Dropped(),
		"producer_events_dropped": producerDropped,
		"decode_errors":           consumer.Stats.DecodeErrors(),
		"degraded_events":         consumer.Stats.Degraded(),
		"tracks_evicted":          eng.EvictedCount(),
		"matches_per_pattern":     matchCounts,
		"enforcements_ok":         enforcementsOK,
		"enforcements_failed":     enforcementsFailed,
	}).Info("shutdown summary")

	return exitCode, nil
}
