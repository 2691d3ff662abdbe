package util

import (
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestIsHarmless(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"closed", net.ErrClosed, true},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, false},
		{"timeout", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ETIMEDOUT}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHarmless(tt.err); got != tt.want {
				t.Errorf("IsHarmless(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCloseWrite_SendsEOF(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	if err := CloseWrite(client); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := server.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("server read = %v, want EOF", err)
	}

	// The other direction still works.
	if _, err := server.Write([]byte("ok")); err != nil {
		t.Fatalf("server write after peer half-close: %v", err)
	}
	buf := make([]byte, 2)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, buf); err != nil || string(buf) != "ok" {
		t.Errorf("client read = %q, %v", buf, err)
	}
}

func TestHalfClose_Unsupported(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if err := CloseWrite(a); err != nil {
		t.Errorf("CloseWrite on pipe: %v", err)
	}
	if err := CloseRead(a); err != nil {
		t.Errorf("CloseRead on pipe: %v", err)
	}
}
