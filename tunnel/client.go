package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	lkerr "luka/internal/errors"
	"luka/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	Password      string // used as-is when set; PromptPass asks instead
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// AllowKeyboardInteractive adds keyboard-interactive with empty
	// answers.  localhost.run and similar services authenticate anonymous
	// users this way.
	AllowKeyboardInteractive bool
}

// Addr returns "host:port" for the gateway.
func (c *SSHConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *SSHConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnTimeout == 0 {
		c.ConnTimeout = 30 * time.Second
	}
}

// dialClient performs the TCP dial and SSH handshake.  Banner text, if
// the server sends any, is split into lines and passed to onLine.
func dialClient(ctx context.Context, cfg *SSHConfig, logger *util.Logger, onLine func(string)) (*ssh.Client, error) {
	authMethods, err := BuildAuthMethods(cfg)
	if err != nil {
		return nil, lkerr.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}
	hkCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, lkerr.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         cfg.ConnTimeout,
		BannerCallback: func(message string) error {
			for _, line := range strings.Split(message, "\n") {
				if line = strings.TrimRight(line, "\r"); line != "" && onLine != nil {
					onLine(line)
				}
			}
			return nil
		},
	}

	addr := cfg.Addr()
	logger.Debug("SSH: dialing %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, lkerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return nil, lkerr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// String describes the gateway for logs.
func (c *SSHConfig) String() string {
	if c.User == "" {
		return c.Addr()
	}
	return fmt.Sprintf("%s@%s", c.User, c.Addr())
}
