package tunnel

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ssh.Client.Listen only routes forwarded-tcpip channels whose bind
// address matches the one it requested.  Public gateways answer an
// empty bind address with "0.0.0.0" or their own hostname, so every
// channel would be rejected.  forwardListener claims the channel type
// itself and accepts whatever arrives.

// tcpipForwardMsg is the payload of tcpip-forward and
// cancel-tcpip-forward (RFC 4254 7.1).
type tcpipForwardMsg struct {
	Addr string
	Port uint32
}

// forwardedTCPMsg is the channel-open payload of forwarded-tcpip
// (RFC 4254 7.2).
type forwardedTCPMsg struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// forwardListener is a [net.Listener] over forwarded-tcpip channels.
type forwardListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// Accept returns io.EOF once the listener is closed or the SSH
// connection goes away.
func (l *forwardListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, io.EOF
	case newCh, ok := <-l.incoming:
		if !ok {
			return nil, io.EOF
		}
		ch, reqs, err := newCh.Accept()
		if err != nil {
			return nil, fmt.Errorf("channel accept: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		var raddr net.Addr = &net.TCPAddr{}
		var msg forwardedTCPMsg
		if err := ssh.Unmarshal(newCh.ExtraData(), &msg); err == nil {
			raddr = &net.TCPAddr{IP: net.ParseIP(msg.OriginAddr), Port: int(msg.OriginPort)}
		}
		return &channelConn{Channel: ch, raddr: raddr}, nil
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		msg := tcpipForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		l.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

func (l *forwardListener) Addr() net.Addr {
	return &net.TCPAddr{Port: int(l.bindPort)}
}

// channelConn adapts an [ssh.Channel] to [net.Conn].  CloseWrite comes
// from the embedded channel and sends EOF to the peer.
type channelConn struct {
	ssh.Channel
	raddr net.Addr
}

func (c *channelConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (c *channelConn) RemoteAddr() net.Addr               { return c.raddr }
func (c *channelConn) SetDeadline(_ time.Time) error      { return nil }
func (c *channelConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *channelConn) SetWriteDeadline(_ time.Time) error { return nil }

// listenRemoteForward registers the forwarded-tcpip handler, then asks
// the gateway to listen on bindAddr:bindPort.
func listenRemoteForward(client *ssh.Client, bindAddr string, bindPort int) (net.Listener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := tcpipForwardMsg{Addr: bindAddr, Port: uint32(bindPort)}
	ok, _, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward request denied by peer")
	}

	return &forwardListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: uint32(bindPort),
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}
