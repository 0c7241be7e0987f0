// Command portprobe 对目标的常见端口做 TCP 连接探测，支持命令行、主机列表与交互模式。
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

	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/levels"

	"github.com/hitushen/netsweep/internal/config"
	"github.com/hitushen/netsweep/internal/probe"
	"github.com/hitushen/netsweep/internal/scanner"
	"github.com/hitushen/netsweep/internal/sweep"
	"github.com/hitushen/netsweep/internal/targets"
)

const (
	exitOK         = 0
	exitUsage      = 1
	exitUnresolved = 3
)

const engineNaabu = "naabu"

type options struct {
	Ports       string
	Concurrency int
	Timeout     time.Duration
	Engine      string
	Method      string
	List        string
	Local       bool
	Silent      bool

	// -local 发现阶段的巡检参数
	SweepConcurrency int
	SweepTimeout     time.Duration

	Targets []string
}

// engine 对单个目标的端口集合做一次探测。
type engine func(ctx context.Context, target string, ports []int) (*scanner.Report, error)

func main() {
	scan, err := config.LoadScan()
	if err != nil {
		gologger.Fatal().Msgf("config: %s", err)
	}
	opts, err := parseOptions(scan)
	if err != nil {
		gologger.Error().Msgf("%s", err)
		os.Exit(exitUsage)
	}
	if opts.Silent {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	}

	ports, err := targets.ParsePorts(opts.Ports)
	if err != nil {
		gologger.Error().Msgf("%s", err)
		os.Exit(exitUsage)
	}
	eng, err := newEngine(opts)
	if err != nil {
		gologger.Error().Msgf("%s", err)
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hosts := opts.Targets
	if opts.List != "" {
		listed, err := sweep.ReadList(opts.List)
		if err != nil {
			gologger.Error().Msgf("%s", err)
			os.Exit(exitUsage)
		}
		hosts = append(hosts, listed...)
	}

	if opts.Local {
		d, err := discoverLocal(ctx, opts)
		if err != nil {
			gologger.Fatal().Msgf("local discovery: %s", err)
		}
		gologger.Info().Msgf("Local address %s, found %d host(s) on %s.0/24", d.LocalIP, len(d.Hosts), d.Prefix)
		hosts = append(hosts, d.Hosts...)
	}

	if len(hosts) == 0 && !opts.Local {
		s := newSession(os.Stdin, os.Stdout)
		s.discover = func(ctx context.Context) (*sweep.Discovery, error) { return discoverLocal(ctx, opts) }
		s.resolve = targets.Resolve
		s.probe = func(ctx context.Context, target string) {
			probeOne(ctx, eng, target, ports, os.Stdout)
		}
		if err := s.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			gologger.Error().Msgf("%s", err)
		}
		return
	}

	os.Exit(run(ctx, eng, hosts, ports, os.Stdout))
}

// newOptions 从扫描配置取得命令行未覆盖的参数。
func newOptions(scan *config.Scan) *options {
	return &options{SweepConcurrency: scan.SweepConcurrency, SweepTimeout: scan.SweepTimeout}
}

func parseOptions(scan *config.Scan) (*options, error) {
	opts := newOptions(scan)
	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription("portprobe checks which common TCP ports accept connections on a target.")

	flagSet.CreateGroup("input", "Input",
		flagSet.StringVarP(&opts.List, "list", "l", "", "file with one target per line (e.g. sweep output)"),
		flagSet.BoolVar(&opts.Local, "local", false, "discover and probe every host on the local /24"),
	)
	flagSet.CreateGroup("probe", "Probe",
		flagSet.StringVarP(&opts.Ports, "ports", "p", scan.Ports, "ports to probe (e.g. 22,80,8000-8100)"),
		flagSet.IntVarP(&opts.Concurrency, "concurrency", "c", scan.PortConcurrency, "maximum connection attempts in flight"),
		flagSet.DurationVarP(&opts.Timeout, "timeout", "t", scan.PortTimeout, "per-port connect timeout"),
		flagSet.StringVarP(&opts.Engine, "engine", "e", scan.PortProber, "probe engine (connect, exec, naabu)"),
		flagSet.StringVarP(&opts.Method, "method", "m", scan.Liveness, "liveness method for -local discovery (exec, icmp, icmp-udp)"),
	)
	flagSet.CreateGroup("output", "Output",
		flagSet.BoolVar(&opts.Silent, "silent", false, "suppress informational logs"),
	)

	if err := flagSet.Parse(); err != nil {
		return nil, err
	}
	opts.Targets = flagSet.CommandLine.Args()

	check := *scan
	check.PortConcurrency, check.PortTimeout, check.Liveness = opts.Concurrency, opts.Timeout, opts.Method
	if opts.Engine != engineNaabu {
		check.PortProber = opts.Engine
	}
	if err := check.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func newEngine(opts *options) (engine, error) {
	if opts.Engine == engineNaabu {
		return naabuEngine(opts.Timeout), nil
	}
	pp, err := probe.NewPortProber(opts.Engine)
	if err != nil {
		return nil, err
	}
	return scanner.NewProber(pp, opts.Concurrency, opts.Timeout).ProbePorts, nil
}

// naabuEngine 用 naabu 探测，报告中只包含开放端口。
func naabuEngine(timeout time.Duration) engine {
	return func(ctx context.Context, target string, ports []int) (*scanner.Report, error) {
		addr, err := targets.Resolve(target)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		results, err := scanner.NaabuScan(ctx, addr, ports, scanner.NaabuOptions{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		return &scanner.Report{
			Target:    target,
			Address:   addr,
			Results:   results,
			StartedAt: start.UTC(),
			Duration:  time.Since(start),
		}, nil
	}
}

func discoverLocal(ctx context.Context, opts *options) (*sweep.Discovery, error) {
	liveness, err := probe.NewLiveness(opts.Method)
	if err != nil {
		return nil, err
	}
	sw := sweep.New(liveness, opts.SweepConcurrency, opts.SweepTimeout)
	return sweep.DiscoverLocal(ctx, sw, probe.ExecRunner, "")
}

// probeOne 探测并输出单个目标，目标无法解析时返回 false。
func probeOne(ctx context.Context, eng engine, target string, ports []int, out io.Writer) bool {
	gologger.Info().Msgf("Scanning %d port(s) on %s", len(ports), target)
	report, err := eng(ctx, target, ports)
	var resErr *targets.ResolutionError
	switch {
	case errors.As(err, &resErr):
		failColor.Fprintf(out, "Could not resolve hostname/IP: %s (%v)\n", target, resErr)
		return false
	case err != nil && report == nil:
		failColor.Fprintf(out, "Scan of %s failed: %v\n", target, err)
		return true
	}
	renderReport(out, report, len(ports))
	return true
}

// run 依次探测 hosts，任一目标解析失败时返回 exitUnresolved，其余目标仍会被探测。
func run(ctx context.Context, eng engine, hosts []string, ports []int, out io.Writer) int {
	code := exitOK
	for _, host := range hosts {
		if ctx.Err() != nil {
			break
		}
		if !probeOne(ctx, eng, host, ports, out) {
			code = exitUnresolved
		}
	}
	if len(hosts) == 0 {
		fmt.Fprintln(out, "No targets to probe.")
	}
	return code
}
