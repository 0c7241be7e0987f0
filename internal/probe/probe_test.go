package probe

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

func TestConnectProberOpenAndClosed(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port

	var p ConnectProber
	if !p.Open(context.Background(), "127.0.0.1", port, time.Second) {
		t.Fatalf("expected port %d open", port)
	}

	_ = l.Close()
	time.Sleep(50 * time.Millisecond)

	if p.Open(context.Background(), "127.0.0.1", port, 300*time.Millisecond) {
		t.Fatalf("expected port %d closed after listener shutdown", port)
	}
}

type call struct {
	name string
	args []string
}

func recordingRunner(calls *[]call, err error) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if _, ok := ctx.Deadline(); !ok {
			return nil, errors.New("runner called without deadline")
		}
		*calls = append(*calls, call{name: name, args: args})
		return nil, err
	}
}

func TestPingProberArgsAndResult(t *testing.T) {
	var calls []call
	p := NewPingProber(recordingRunner(&calls, nil))
	p.goos = "linux"
	if !p.Alive(context.Background(), "10.0.0.5", 1500*time.Millisecond) {
		t.Fatalf("expected alive on zero exit")
	}
	want := []string{"-c", "1", "-W", "2", "10.0.0.5"}
	if len(calls) != 1 || calls[0].name != "ping" || !reflect.DeepEqual(calls[0].args, want) {
		t.Fatalf("unexpected calls %+v", calls)
	}

	failing := NewPingProber(recordingRunner(&calls, errors.New("exit status 1")))
	if failing.Alive(context.Background(), "10.0.0.6", time.Second) {
		t.Fatalf("expected unreachable on non-zero exit")
	}
}

func TestPingArgsPerPlatform(t *testing.T) {
	cases := map[string][]string{
		"windows": {"-n", "1", "-w", "2000", "1.1.1.1"},
		"darwin":  {"-c", "1", "-W", "2000", "1.1.1.1"},
		"linux":   {"-c", "1", "-W", "2", "1.1.1.1"},
	}
	for goos, want := range cases {
		if got := pingArgs(goos, "1.1.1.1", 2*time.Second); !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: got %v want %v", goos, got, want)
		}
	}
}

func TestNetcatProber(t *testing.T) {
	var calls []call
	n := NewNetcatProber(recordingRunner(&calls, nil))
	if !n.Open(context.Background(), "10.0.0.5", 22, 200*time.Millisecond) {
		t.Fatalf("expected open on zero exit")
	}
	want := []string{"-z", "-w", "1", "10.0.0.5", "22"}
	if calls[0].name != "nc" || !reflect.DeepEqual(calls[0].args, want) {
		t.Fatalf("unexpected call %+v", calls[0])
	}
}

func TestIsEchoReply(t *testing.T) {
	dst := net.ParseIP("192.0.2.10").To4()
	reply := func(typ icmp.Type, id, seq int) []byte {
		b, err := (&icmp.Message{Type: typ, Body: &icmp.Echo{ID: id, Seq: seq}}).Marshal(nil)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return b
	}
	peer := &net.IPAddr{IP: dst}

	if !isEchoReply(reply(ipv4.ICMPTypeEchoReply, 7, 3), peer, dst, 7, 3, true) {
		t.Fatalf("expected matching reply")
	}
	if isEchoReply(reply(ipv4.ICMPTypeEchoReply, 7, 4), peer, dst, 7, 3, true) {
		t.Fatalf("sequence mismatch must not match")
	}
	if isEchoReply(reply(ipv4.ICMPTypeEchoReply, 8, 3), peer, dst, 7, 3, true) {
		t.Fatalf("id mismatch must not match on raw sockets")
	}
	if !isEchoReply(reply(ipv4.ICMPTypeEchoReply, 8, 3), &net.UDPAddr{IP: dst}, dst, 7, 3, false) {
		t.Fatalf("datagram sockets ignore id")
	}
	if isEchoReply(reply(ipv4.ICMPTypeEcho, 7, 3), peer, dst, 7, 3, true) {
		t.Fatalf("echo requests must not match")
	}
	other := &net.IPAddr{IP: net.ParseIP("192.0.2.11")}
	if isEchoReply(reply(ipv4.ICMPTypeEchoReply, 7, 3), other, dst, 7, 3, true) {
		t.Fatalf("reply from another host must not match")
	}
}

func TestICMPProberRejectsNonIPv4(t *testing.T) {
	if NewICMPProber(false).Alive(context.Background(), "not-an-ip", 10*time.Millisecond) {
		t.Fatalf("expected unreachable for invalid address")
	}
}

func TestFactories(t *testing.T) {
	for _, kind := range []string{"exec", "icmp", "icmp-udp"} {
		if _, err := NewLiveness(kind); err != nil {
			t.Fatalf("NewLiveness(%q): %v", kind, err)
		}
	}
	if _, err := NewLiveness("arp"); err == nil {
		t.Fatalf("expected error for unknown liveness method")
	}
	for _, kind := range []string{"connect", "exec"} {
		if _, err := NewPortProber(kind); err != nil {
			t.Fatalf("NewPortProber(%q): %v", kind, err)
		}
	}
	if _, err := NewPortProber("syn"); err == nil {
		t.Fatalf("expected error for unknown port prober")
	}
}
