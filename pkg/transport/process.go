package transport

import (
	"bufio"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	pkgLogger "github.com/fpt/signal-bot/pkg/logger"
)

// processExitGrace is how long Close waits for signal-cli to exit after its
// stdin is closed before killing it.
const processExitGrace = 5 * time.Second

// processConn speaks JSON-RPC over a child process's stdin and stdout.
type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *pkgLogger.Logger

	closeOnce sync.Once
	closeErr  error
}

func startProcess(path string, args []string, logger *pkgLogger.Logger) (*processConn, error) {
	if path == "" {
		found, err := exec.LookPath("signal-cli")
		if err != nil {
			return nil, errors.Wrap(err, "could not find signal-cli on PATH")
		}
		path = found
	}

	cmd := exec.Command(path, append([]string{"jsonRpc"}, args...)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open signal-cli stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open signal-cli stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open signal-cli stderr")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", path)
	}

	pc := &processConn{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		logger: logger.WithComponent("signal-cli"),
	}
	go pc.relayStderr(stderr)
	pc.logger.InfoWithIntention(pkgLogger.IntentionConnect, "Started signal-cli", "path", path, "pid", cmd.Process.Pid)
	return pc, nil
}

func (p *processConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close ends the session by closing stdin, then waits for the process,
// killing it if it lingers.
func (p *processConn) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()

		exited := make(chan error, 1)
		go func() { exited <- p.cmd.Wait() }()

		select {
		case err := <-exited:
			p.closeErr = ignoreExit(err)
		case <-time.After(processExitGrace):
			p.logger.Warn("signal-cli did not exit, killing it", "pid", p.cmd.Process.Pid)
			_ = p.cmd.Process.Kill()
			<-exited
		}
	})
	return p.closeErr
}

func (p *processConn) relayStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "ERROR"):
			p.logger.Error(line)
		case strings.Contains(line, "WARN"):
			p.logger.Warn(line)
		default:
			p.logger.Debug(line)
		}
	}
}

// ignoreExit treats a non-zero exit after we closed stdin as a normal stop.
func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
