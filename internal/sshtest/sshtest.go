// Package sshtest provides an in-process SSH gateway for tests.  It
// speaks enough of RFC 4254 to stand in for a jump host or a public
// tunnel service.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"

	"luka/util"
)

// Gateway is an in-process SSH server that behaves like a small
// public tunnel service: password and keyboard-interactive auth,
// direct-tcpip, tcpip-forward and a shell session that prints a line.
type Gateway struct {
	ln       net.Listener
	config   *ssh.ServerConfig
	Banner   string
	ShellOut string

	// Forwards receives the local address of every remote listener
	// opened by tcpip-forward.
	Forwards chan string

	mu        sync.Mutex
	conns     []net.Conn
	listeners []net.Listener
}

// NewGateway starts a gateway on a loopback port.  It accepts user
// "tester" with password "secret", and user "nokey" through
// keyboard-interactive.  It is closed when the test ends.
func NewGateway(t testing.TB) *Gateway {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	gw := &Gateway{
		Banner:   "Welcome to the test gateway\n",
		ShellOut: "abc123.lhr.life tunneled with tls termination, https://abc123.lhr.life",
		Forwards: make(chan string, 8),
	}
	gw.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "tester" && string(pass) == "secret" {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("bad password for %q", c.User())
		},
		KeyboardInteractiveCallback: func(c ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			if c.User() != "nokey" {
				return nil, fmt.Errorf("keyboard-interactive not allowed for %q", c.User())
			}
			if _, err := challenge("", "", []string{"Press enter: "}, []bool{false}); err != nil {
				return nil, err
			}
			return &ssh.Permissions{}, nil
		},
		BannerCallback: func(ssh.ConnMetadata) string { return gw.Banner },
	}
	gw.config.AddHostKey(signer)

	gw.ln, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go gw.serve()
	t.Cleanup(gw.Close)
	return gw
}

// Port is the gateway's SSH port on 127.0.0.1.
func (gw *Gateway) Port() int {
	return gw.ln.Addr().(*net.TCPAddr).Port
}

// Close stops the gateway and drops every connection.
func (gw *Gateway) Close() {
	gw.ln.Close()
	gw.DropConns()
}

// DropConns severs every SSH connection but keeps accepting new ones.
func (gw *Gateway) DropConns() {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	for _, c := range gw.conns {
		c.Close()
	}
	for _, l := range gw.listeners {
		l.Close()
	}
	gw.conns = nil
	gw.listeners = nil
}

func (gw *Gateway) serve() {
	for {
		nc, err := gw.ln.Accept()
		if err != nil {
			return
		}
		gw.mu.Lock()
		gw.conns = append(gw.conns, nc)
		gw.mu.Unlock()
		go gw.handleConn(nc)
	}
}

func (gw *Gateway) handleConn(nc net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, gw.config)
	if err != nil {
		nc.Close()
		return
	}
	defer sconn.Close()

	go gw.handleGlobal(sconn, reqs)

	for nch := range chans {
		switch nch.ChannelType() {
		case "direct-tcpip":
			go gw.handleDirect(nch)
		case "session":
			go gw.handleSession(nch)
		default:
			nch.Reject(ssh.UnknownChannelType, "unsupported channel type") //nolint:errcheck
		}
	}
}

func (gw *Gateway) handleGlobal(sconn *ssh.ServerConn, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			var msg struct {
				Addr string
				Port uint32
			}
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil) //nolint:errcheck
				continue
			}
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				req.Reply(false, nil) //nolint:errcheck
				continue
			}
			gw.mu.Lock()
			gw.listeners = append(gw.listeners, ln)
			gw.mu.Unlock()

			port := uint32(ln.Addr().(*net.TCPAddr).Port)
			req.Reply(true, ssh.Marshal(&struct{ Port uint32 }{port})) //nolint:errcheck
			select {
			case gw.Forwards <- ln.Addr().String():
			default:
			}
			go gw.serveForward(sconn, ln, port)
		case "cancel-tcpip-forward":
			req.Reply(true, nil) //nolint:errcheck
		default:
			// keepalive@openssh.com lands here, answered the way OpenSSH does.
			req.Reply(false, nil) //nolint:errcheck
		}
	}
}

// serveForward opens a forwarded-tcpip channel for each connection on
// ln.  It reports "0.0.0.0" as the bound address, as public gateways do.
func (gw *Gateway) serveForward(sconn *ssh.ServerConn, ln net.Listener, port uint32) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer c.Close()
			origin := c.RemoteAddr().(*net.TCPAddr)
			msg := struct {
				Addr       string
				Port       uint32
				OriginAddr string
				OriginPort uint32
			}{
				Addr:       "0.0.0.0",
				Port:       port,
				OriginAddr: origin.IP.String(),
				OriginPort: uint32(origin.Port),
			}
			ch, reqs, err := sconn.OpenChannel("forwarded-tcpip", ssh.Marshal(&msg))
			if err != nil {
				return
			}
			go ssh.DiscardRequests(reqs)
			pump(c, ch)
		}()
	}
}

func (gw *Gateway) handleDirect(nch ssh.NewChannel) {
	var d struct {
		DestHost   string
		DestPort   uint32
		OriginHost string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(nch.ExtraData(), &d); err != nil {
		nch.Reject(ssh.ConnectionFailed, err.Error()) //nolint:errcheck
		return
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(d.DestHost, strconv.Itoa(int(d.DestPort))))
	if err != nil {
		nch.Reject(ssh.ConnectionFailed, err.Error()) //nolint:errcheck
		return
	}
	defer conn.Close()

	ch, reqs, err := nch.Accept()
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	pump(conn, ch)
}

func (gw *Gateway) handleSession(nch ssh.NewChannel) {
	ch, reqs, err := nch.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "shell", "exec":
			req.Reply(true, nil) //nolint:errcheck
			if gw.ShellOut != "" {
				fmt.Fprintf(ch, "%s\r\n", gw.ShellOut)
			}
		default:
			req.Reply(false, nil) //nolint:errcheck
		}
	}
}

// pump copies both ways between a TCP connection and a channel,
// forwarding EOF in each direction.
func pump(conn net.Conn, ch ssh.Channel) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(ch, conn) //nolint:errcheck
		ch.CloseWrite()   //nolint:errcheck
	}()
	go func() {
		defer wg.Done()
		io.Copy(conn, ch)     //nolint:errcheck
		util.CloseWrite(conn) //nolint:errcheck
	}()
	wg.Wait()
	ch.Close()
}

// StartEcho runs a TCP server that echoes until EOF and then closes.
func StartEcho(t testing.TB) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c) //nolint:errcheck
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}
