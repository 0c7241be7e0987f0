package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/hitushen/netsweep/internal/scanner"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
)

// renderReport 以表格形式输出开放端口，candidates 为本次探测的端口数。
func renderReport(out io.Writer, report *scanner.Report, candidates int) {
	name := report.Target
	if name != report.Address {
		name = fmt.Sprintf("%s (%s)", report.Target, report.Address)
	}
	infoColor.Fprintf(out, "\nPort scan results for %s:\n", name)
	fmt.Fprintln(out, strings.Repeat("=", 50))

	open := report.Open()
	if len(open) == 0 {
		failColor.Fprintln(out, "No open ports found")
	} else {
		okColor.Fprintf(out, "Found %d open port(s):\n", len(open))
		fmt.Fprintln(out, strings.Repeat("-", 40))
		fmt.Fprintf(out, "%-8s %-12s %-10s\n", "Port", "Service", "Status")
		fmt.Fprintln(out, strings.Repeat("-", 40))
		for _, res := range open {
			fmt.Fprintf(out, "%-8d %-12s %-10s\n", res.Port, res.Service, strings.ToUpper(res.State))
		}
	}
	fmt.Fprintf(out, "\nScanned %d port(s) in %s\n", candidates, report.Duration.Truncate(time.Millisecond))
}

func renderHosts(out io.Writer, hosts []string) {
	okColor.Fprintf(out, "\nFound %d IP address(es):\n", len(hosts))
	fmt.Fprintln(out, strings.Repeat("-", 40))
	for i, h := range hosts {
		fmt.Fprintf(out, "%2d. %s\n", i+1, h)
	}
}
