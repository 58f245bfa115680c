//go:build darwin

// Command machprofdemo starts the profiler on itself, runs a small
// recursive busy workload under it, stops, and writes the resulting
// pprof profile to stdout (or a file given with -out). It exists as a
// runnable demonstration of the Handle API boundary (package
// profiler), trimmed from the teacher's flag-parsing +
// mainWithExitCode shape to the handful of flags this module needs.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/DataDog/mach-profiler/internal/machkern"
	"github.com/DataDog/mach-profiler/mplog"
	"github.com/DataDog/mach-profiler/pprofenc"
	"github.com/DataDog/mach-profiler/profiler"
	log "github.com/sirupsen/logrus"
)

type exitCode int

const (
	exitSuccess    exitCode = 0
	exitFailure    exitCode = 1
	exitParseError exitCode = 2
)

type args struct {
	duration    time.Duration
	sampleRate  float64
	timeout     time.Duration
	out         string
	verboseMode bool
}

func parseArgs() (args, error) {
	var a args
	fs := flag.NewFlagSet("machprofdemo", flag.ContinueOnError)
	fs.DurationVar(&a.duration, "duration", 2*time.Second, "how long to run the busy workload under the profiler")
	fs.Float64Var(&a.sampleRate, "sample-rate", 100, "sample rate percentage in [0, 100]")
	fs.DurationVar(&a.timeout, "timeout", 60*time.Second, "profiling session timeout")
	fs.StringVar(&a.out, "out", "", "output file for the pprof profile (default: stdout)")
	fs.BoolVar(&a.verboseMode, "verbose", false, "enable debug logging")
	err := fs.Parse(os.Args[1:])
	return a, err
}

func main() {
	// Pin this goroutine to the process's actual main OS thread and
	// record it before anything else runs, mirroring
	// dd_profiler_auto_start's set_main_thread(pthread_self()) call.
	// The original only calls that from its constructor-priority
	// auto-start hook, which this module treats as out of scope
	// (spec.md §1); main() here is the nearest available stand-in for
	// "the actual main OS thread, recorded before anything else runs"
	// for a module with no such hook. It is what lets
	// machkern.ThreadName later substitute "com.apple.main-thread" for
	// this thread's pthread name.
	runtime.LockOSThread()
	machkern.RecordMainThread()

	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	a, err := parseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse arguments: %v\n", err)
		return exitParseError
	}

	if a.verboseMode {
		mplog.SetLevel(log.DebugLevel)
	}

	p := profiler.NewForTesting(a.sampleRate, false, a.timeout)
	if err := p.Start(); err != nil {
		mplog.Errorf("failed to start profiler: %v", err)
		return exitFailure
	}
	if status := p.Status(); status != profiler.StatusRunning {
		mplog.Warnf("profiler did not start running, status is %s", status)
		return exitSuccess
	}
	defer p.Destroy()

	mplog.Infof("profiling for %s", a.duration)
	runBusyWorkload(a.duration)

	p.Stop()

	prof, err := p.GetProfile(true)
	if err != nil {
		mplog.Errorf("failed to get profile: %v", err)
		return exitFailure
	}

	data, err := pprofenc.Encode(prof)
	if err != nil {
		mplog.Errorf("failed to encode profile: %v", err)
		return exitFailure
	}

	out := os.Stdout
	if a.out != "" {
		f, err := os.Create(a.out)
		if err != nil {
			mplog.Errorf("failed to create %s: %v", a.out, err)
			return exitFailure
		}
		defer f.Close()
		out = f
	}

	if _, err := out.Write(data); err != nil {
		mplog.Errorf("failed to write profile: %v", err)
		return exitFailure
	}

	mplog.Infof("wrote %d bytes, %d samples", len(data), prof.SampleCount())
	return exitSuccess
}

// runBusyWorkload keeps four helper goroutines busy for duration while
// the calling goroutine waits, giving the sampler something to capture
// besides an idle runtime.
func runBusyWorkload(duration time.Duration) {
	deadline := time.Now().Add(duration)
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			for time.Now().Before(deadline) {
				fibonacci(24)
			}
		}()
	}
	go func() {
		for time.Now().Before(deadline) {
			fibonacci(24)
		}
		close(done)
	}()
	<-done
}

func fibonacci(n int) int {
	if n < 2 {
		return n
	}
	return fibonacci(n-1) + fibonacci(n-2)
}
