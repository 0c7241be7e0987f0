package targets

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Example.COM ":             "example.com",
		"https://user:pw@host.lan/x": "host.lan",
		"10.0.0.1:8080":              "10.0.0.1",
		"[::1]:443":                  "::1",
		"//router.local?q=1":         "router.local",
		"":                           "",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			if got := Normalize(in); got != want {
				t.Fatalf("Normalize(%q) = %q want %q", in, got, want)
			}
		})
	}
}

func TestResolveWithLiteralSkipsLookup(t *testing.T) {
	lookup := func(string) ([]string, error) {
		t.Fatalf("lookup must not be called for literals")
		return nil, nil
	}
	ip, err := ResolveWith(lookup, "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip != "1.2.3.4" {
		t.Fatalf("got %s want 1.2.3.4", ip)
	}
}

func TestResolveWithPicksFirstIPv4(t *testing.T) {
	lookup := func(host string) ([]string, error) {
		if host != "lab.example" {
			t.Fatalf("unexpected host %q", host)
		}
		return []string{"2001:db8::1", "192.0.2.7", "192.0.2.8"}, nil
	}
	ip, err := ResolveWith(lookup, "Lab.Example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip != "192.0.2.7" {
		t.Fatalf("got %s want 192.0.2.7", ip)
	}
}

func TestResolveWithFailures(t *testing.T) {
	lookupErr := errors.New("no such host")
	cases := map[string]LookupFunc{
		"lookup error": func(string) ([]string, error) { return nil, lookupErr },
		"ipv6 only":    func(string) ([]string, error) { return []string{"2001:db8::1"}, nil },
	}
	for name, lookup := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ResolveWith(lookup, "missing.example")
			var resErr *ResolutionError
			if !errors.As(err, &resErr) {
				t.Fatalf("expected ResolutionError, got %v", err)
			}
			if resErr.Host != "missing.example" {
				t.Fatalf("unexpected host %q", resErr.Host)
			}
		})
	}

	_, err := ResolveWith(cases["lookup error"], "missing.example")
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected wrapped lookup error, got %v", err)
	}
}

func TestResolveRejectsIPv6Literal(t *testing.T) {
	_, err := Resolve("::1")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
}

func TestSortAddresses(t *testing.T) {
	got := []string{"10.0.0.254", "10.0.0.10", "10.0.0.2", "host", "10.0.0.1"}
	SortAddresses(got)
	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.10", "10.0.0.254", "host"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
