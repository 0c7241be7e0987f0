// Command sweep 对 /24 网段做存活扫描，并把存活地址逐行写入输出文件。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/levels"
	"github.com/schollz/progressbar/v3"

	"github.com/hitushen/netsweep/internal/config"
	"github.com/hitushen/netsweep/internal/models"
	"github.com/hitushen/netsweep/internal/probe"
	"github.com/hitushen/netsweep/internal/sweep"
	"github.com/hitushen/netsweep/internal/targets"
)

const (
	exitOK          = 0
	exitUsage       = 1
	exitWrite       = 2
	exitInterrupted = 130
)

type options struct {
	Range       string
	Concurrency int
	Timeout     time.Duration
	Method      string
	Verbose     bool
	Silent      bool
	NoProgress  bool

	Prefix string
	Output string
}

func main() {
	scan, err := config.LoadScan()
	if err != nil {
		gologger.Fatal().Msgf("config: %s", err)
	}
	opts, err := parseOptions(scan)
	if err != nil {
		gologger.Error().Msgf("%s", err)
		fmt.Fprintln(os.Stderr, "usage: sweep [flags] <subnet_prefix> <output_file>")
		fmt.Fprintln(os.Stderr, "example: sweep 192.168.1 live_ips.txt")
		os.Exit(exitUsage)
	}
	switch {
	case opts.Silent:
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	case opts.Verbose:
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}

	prober, err := probe.NewLiveness(opts.Method)
	if err != nil {
		gologger.Error().Msgf("%s", err)
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts, prober, os.Stdout, os.Stderr))
}

func parseOptions(scan *config.Scan) (*options, error) {
	opts := &options{}
	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription("sweep probes every host of a /24 prefix and writes the live ones to a file.")

	flagSet.CreateGroup("target", "Target",
		flagSet.StringVarP(&opts.Range, "range", "r", "1-254", "host suffix range to probe (e.g. 1-254, 10-20, 7)"),
	)
	flagSet.CreateGroup("probe", "Probe",
		flagSet.IntVarP(&opts.Concurrency, "concurrency", "c", scan.SweepConcurrency, "maximum probes in flight"),
		flagSet.DurationVarP(&opts.Timeout, "timeout", "t", scan.SweepTimeout, "per-host probe timeout"),
		flagSet.StringVarP(&opts.Method, "method", "m", scan.Liveness, "liveness method (exec, icmp, icmp-udp)"),
	)
	flagSet.CreateGroup("output", "Output",
		flagSet.BoolVarP(&opts.Verbose, "verbose", "v", false, "show every probed host"),
		flagSet.BoolVar(&opts.Silent, "silent", false, "print live hosts only"),
		flagSet.BoolVarP(&opts.NoProgress, "no-progress", "np", false, "disable the progress bar"),
	)

	if err := flagSet.Parse(); err != nil {
		return nil, err
	}
	prefix, output, err := positional(flagSet.CommandLine.Args())
	if err != nil {
		return nil, err
	}
	opts.Prefix, opts.Output = prefix, output

	check := *scan
	check.SweepConcurrency, check.SweepTimeout, check.Liveness = opts.Concurrency, opts.Timeout, opts.Method
	if err := check.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// positional 要求恰好两个位置参数：网段前缀与输出文件。
func positional(args []string) (string, string, error) {
	if len(args) != 2 {
		return "", "", &targets.ArgumentError{
			Field: "arguments",
			Msg:   fmt.Sprintf("expected <subnet_prefix> <output_file>, got %d argument(s)", len(args)),
		}
	}
	return args[0], args[1], nil
}

func run(ctx context.Context, opts *options, prober probe.LivenessProber, stdout, stderr io.Writer) int {
	rng, err := targets.ParseRange(opts.Prefix, opts.Range)
	if err != nil {
		gologger.Error().Msgf("%s", err)
		return exitUsage
	}

	gologger.Info().Msgf("Scanning %s with %d workers (timeout %s)", rng, opts.Concurrency, opts.Timeout)
	start := time.Now()

	var bar *progressbar.ProgressBar
	if !opts.Silent && !opts.NoProgress && rng.Len() > 0 {
		bar = progressbar.NewOptions(rng.Len(),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetDescription("[cyan][sweeping][reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	sweeper := sweep.New(prober, opts.Concurrency, opts.Timeout, sweep.WithObserver(func(l models.Liveness) {
		if bar != nil {
			_ = bar.Add(1)
		}
		gologger.Verbose().Msgf("%s alive=%t", l.Address, l.Alive)
	}))
	alive, sweepErr := sweeper.Sweep(ctx, rng)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(stderr)
	}

	for _, addr := range alive {
		if opts.Silent {
			fmt.Fprintln(stdout, addr)
			continue
		}
		fmt.Fprintln(stdout, color.GreenString("[+] %s is up", addr))
	}

	if err := sweep.WriteList(opts.Output, alive); err != nil {
		gologger.Error().Msgf("write %s: %s", opts.Output, err)
		return exitWrite
	}

	if errors.Is(sweepErr, context.Canceled) {
		gologger.Warning().Msgf("Interrupted: wrote %d live host(s) found so far to %s", len(alive), opts.Output)
		return exitInterrupted
	}
	if len(alive) == 0 {
		gologger.Info().Msgf("No live hosts found (%s)", time.Since(start).Truncate(time.Millisecond))
	} else {
		gologger.Info().Msgf("Wrote %d live IP(s) to %s (%s)", len(alive), opts.Output, time.Since(start).Truncate(time.Millisecond))
	}
	return exitOK
}
