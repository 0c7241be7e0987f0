package main

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hitushen/netsweep/internal/sweep"
)

func testSession(input string, hosts []string) (*session, *bytes.Buffer, *[]string) {
	var out bytes.Buffer
	var probed []string
	s := newSession(strings.NewReader(input), &out)
	s.discover = func(context.Context) (*sweep.Discovery, error) {
		return &sweep.Discovery{LocalIP: "192.168.1.10", Prefix: "192.168.1", Hosts: hosts}, nil
	}
	s.resolve = func(target string) (string, error) {
		if target == "bad.invalid" {
			return "", errors.New("no such host")
		}
		if target == "lab.local" {
			return "10.0.0.5", nil
		}
		return target, nil
	}
	s.probe = func(_ context.Context, target string) {
		probed = append(probed, target)
	}
	return s, &out, &probed
}

func TestSessionSpecificTarget(t *testing.T) {
	s, out, probed := testSession("x\ns\n\nbad.invalid\nlab.local\nn\n", nil)
	if err := s.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(*probed, []string{"lab.local"}) {
		t.Fatalf("probed %v", *probed)
	}
	text := out.String()
	for _, want := range []string{"Invalid choice", "Could not resolve hostname/IP: bad.invalid", "resolved to: 10.0.0.5"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestSessionLocalPick(t *testing.T) {
	s, out, probed := testSession("l\n0\nabc\n2\ny\nq\n", []string{"192.168.1.1", "192.168.1.20"})
	if err := s.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(*probed, []string{"192.168.1.20"}) {
		t.Fatalf("probed %v", *probed)
	}
	text := out.String()
	for _, want := range []string{" 1. 192.168.1.1", " 2. 192.168.1.20", "between 1 and 2", "valid number", "Goodbye!"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestSessionLocalNoHostsReturnsToMenu(t *testing.T) {
	s, out, probed := testSession("l\nq\n", nil)
	if err := s.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(*probed) != 0 {
		t.Fatalf("nothing should be probed, got %v", *probed)
	}
	if !strings.Contains(out.String(), "No IP addresses found") {
		t.Fatalf("missing empty-network message:\n%s", out.String())
	}
}

func TestSessionEOFQuits(t *testing.T) {
	s, _, probed := testSession("s\n10.0.0.1\n", nil)
	if err := s.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(*probed, []string{"10.0.0.1"}) {
		t.Fatalf("probed %v", *probed)
	}
}

func TestSessionAgainValidation(t *testing.T) {
	s, out, probed := testSession("s\n10.0.0.1\nmaybe\ny\ns\n10.0.0.2\nn\n", nil)
	if err := s.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(*probed, []string{"10.0.0.1", "10.0.0.2"}) {
		t.Fatalf("probed %v", *probed)
	}
	if !strings.Contains(out.String(), "Please enter 'y' or 'n'") {
		t.Fatalf("missing validation message")
	}
}
