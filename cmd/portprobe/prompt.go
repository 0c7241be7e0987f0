package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hitushen/netsweep/internal/sweep"
)

// session 驱动交互式选择：扫描本地网段 (L)、指定目标 (S) 或退出 (q)。
type session struct {
	in       *bufio.Scanner
	out      io.Writer
	discover func(ctx context.Context) (*sweep.Discovery, error)
	resolve  func(target string) (string, error)
	probe    func(ctx context.Context, target string)
}

func newSession(in io.Reader, out io.Writer) *session {
	return &session{in: bufio.NewScanner(in), out: out}
}

// ask 输出提示并读取一行，输入结束时返回 false。
func (s *session) ask(prompt string) (string, bool) {
	fmt.Fprint(s.out, prompt)
	if !s.in.Scan() {
		fmt.Fprintln(s.out)
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

// run 循环选择目标并探测，直到用户退出或输入结束。
func (s *session) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, ok := s.chooseTarget(ctx)
		if !ok {
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		}
		if target == "" {
			continue
		}
		s.probe(ctx, target)
		if !s.again() {
			return nil
		}
	}
}

// chooseTarget 返回选中的目标；空字符串表示需要重新选择，false 表示退出。
func (s *session) chooseTarget(ctx context.Context) (string, bool) {
	for {
		choice, ok := s.ask("Scan local network (L) or enter a specific target (S)? (L/S/q): ")
		if !ok {
			return "", false
		}
		switch strings.ToLower(choice) {
		case "q":
			return "", false
		case "l":
			return s.pickLocal(ctx)
		case "s":
			return s.enterTarget()
		default:
			failColor.Fprintln(s.out, "Invalid choice. Please enter 'L', 'S', or 'q'.")
		}
	}
}

func (s *session) pickLocal(ctx context.Context) (string, bool) {
	infoColor.Fprintln(s.out, "Discovering hosts on the local network...")
	d, err := s.discover(ctx)
	if err != nil {
		failColor.Fprintf(s.out, "Network detection failed: %v\n", err)
		return "", true
	}
	fmt.Fprintf(s.out, "Your IP: %s\n", d.LocalIP)
	if len(d.Hosts) == 0 {
		failColor.Fprintln(s.out, "No IP addresses found in network.")
		return "", true
	}
	renderHosts(s.out, d.Hosts)

	for {
		choice, ok := s.ask(fmt.Sprintf("\nSelect IP to scan (1-%d) or 'q' to quit: ", len(d.Hosts)))
		if !ok || strings.EqualFold(choice, "q") {
			return "", false
		}
		n, err := strconv.Atoi(choice)
		if err != nil {
			failColor.Fprintln(s.out, "Please enter a valid number")
			continue
		}
		if n < 1 || n > len(d.Hosts) {
			failColor.Fprintf(s.out, "Please enter a number between 1 and %d\n", len(d.Hosts))
			continue
		}
		return d.Hosts[n-1], true
	}
}

func (s *session) enterTarget() (string, bool) {
	for {
		target, ok := s.ask("Enter target IP or domain name: ")
		if !ok {
			return "", false
		}
		if target == "" {
			continue
		}
		addr, err := s.resolve(target)
		if err != nil {
			failColor.Fprintf(s.out, "Could not resolve hostname/IP: %s. Try again.\n", target)
			continue
		}
		if addr != target {
			okColor.Fprintf(s.out, "Target IP resolved to: %s\n", addr)
		}
		return target, true
	}
}

func (s *session) again() bool {
	for {
		answer, ok := s.ask("\nScan another target? (y/n): ")
		if !ok {
			return false
		}
		switch strings.ToLower(answer) {
		case "y":
			return true
		case "n":
			return false
		default:
			failColor.Fprintln(s.out, "Please enter 'y' or 'n'")
		}
	}
}
