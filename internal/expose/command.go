package expose

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CommandRunner runs an external tunnel client, by default
// "ssh -R 80:localhost:{port} ssh.localhost.run".  The command goes
// through the system shell and {port} is replaced with the local port.
// The client gets its own process group so that cancellation reaches
// ssh and anything it spawned.
type CommandRunner struct {
	Command string
}

func (r *CommandRunner) String() string { return "command" }

// CommandLine returns the shell command for port.
func (r *CommandRunner) CommandLine(port int) string {
	return strings.ReplaceAll(r.Command, "{port}", strconv.Itoa(port))
}

// Run starts the client and blocks until it exits.  Cancelling ctx
// terminates the whole process group.
func (r *CommandRunner) Run(ctx context.Context, port int, onLine func(string)) error {
	line := r.CommandLine(port)

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/C", line)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", line)
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminateGroup(cmd) }
	cmd.WaitDelay = 3 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %q: %w", line, err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	scan := func(rd io.Reader) {
		defer wg.Done()
		sc := bufio.NewScanner(rd)
		for sc.Scan() {
			if text := strings.TrimRight(sc.Text(), "\r"); text != "" {
				mu.Lock()
				onLine(text)
				mu.Unlock()
			}
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%q: %w", line, err)
	}
	return nil
}
