package tunnel

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// emit hands one line of gateway output to the configured callback and
// the verbose log.
func (rt *ReverseTunnel) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	rt.logger.Verbose("gateway: %s", line)
	if rt.config.OnOutput != nil {
		rt.config.OnOutput(line)
	}
}

// drainServerMessages opens a shell session and forwards its stdout and
// stderr line by line to emit.  Gateways that refuse sessions are fine;
// the goroutine just exits.
func (rt *ReverseTunnel) drainServerMessages(client *ssh.Client) {
	sess, err := client.NewSession()
	if err != nil {
		rt.logger.Debug("reverse tunnel: session for server messages: %v", err)
		return
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return
	}

	// Some services need a shell, others accept a bare session.
	_ = sess.Shell()

	var wg sync.WaitGroup
	scan := func(r io.Reader) {
		defer wg.Done()
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			rt.emit(sc.Text())
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()
}
