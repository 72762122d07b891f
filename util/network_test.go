package util

import (
	"net"
	"testing"
)

func TestFormatAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"127.0.0.1", 7172, "127.0.0.1:7172"},
		{"::1", 7173, "[::1]:7173"},
		{"", 8080, ":8080"},
	}
	for _, tt := range tests {
		if got := FormatAddr(tt.host, tt.port); got != tt.want {
			t.Errorf("FormatAddr(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestHostOf(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 51000}
	if got := HostOf(tcp); got != "10.1.2.3" {
		t.Errorf("HostOf(tcp) = %q", got)
	}

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if got := HostOf(a.RemoteAddr()); got != "pipe" {
		t.Errorf("HostOf(pipe) = %q, want %q", got, "pipe")
	}

	if got := HostOf(nil); got != "" {
		t.Errorf("HostOf(nil) = %q", got)
	}
}

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("port %d out of range", port)
	}
}
