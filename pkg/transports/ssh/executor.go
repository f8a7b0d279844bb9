package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// executor handles command execution over SSH.
type executor struct {
	client *SSHClient
	config *Config
}

// ExecuteCommand runs a command on the remote host.
func (c *SSHClient) ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error) {
	if c.executor == nil {
		return "", "", &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("executor not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.executor.execute(ctx, cmd)
}

// execute is the internal implementation of command execution.
func (e *executor) execute(ctx context.Context, cmd string) (stdout string, stderr string, err error) {
	startTime := time.Now()

	log.Debug().
		Str("command", cmd).
		Msg("executing command")

	sshClient, err := e.client.getClient()
	if err != nil {
		return "", "", err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return "", "", &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	// The configured command timeout is a ceiling on top of whatever
	// deadline the caller already carries.
	if e.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.CommandTimeout)
		defer cancel()
	}

	doneChan := make(chan error, 1)

	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		// Context cancelled, try to signal the session
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
		// Command completed
	}

	duration := time.Since(startTime)

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	log.Debug().
		Str("command", cmd).
		Int("stdout_len", len(stdout)).
		Int("stderr_len", len(stderr)).
		Dur("duration", duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		// Check if it's an exit error
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			// Command ran but returned non-zero exit code
			return stdout, stderr, &TransportError{
				Op:          "execute",
				Err:         fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
				IsTemporary: false,
				IsAuthError: false,
			}
		}
		// Other error (connection issue, etc.)
		return stdout, stderr, &TransportError{
			Op:          "execute",
			Err:         execErr,
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return stdout, stderr, nil
}

// RemoteProcess is a command started on the remote host with its stdio
// pipes attached. The probe runner client drives its agent through one
// of these.
type RemoteProcess struct {
	// Stdin feeds the remote process.
	Stdin io.WriteCloser

	// Stdout is the remote process's standard output.
	Stdout io.Reader

	// Stderr is the remote process's standard error.
	Stderr io.Reader

	session *ssh.Session
}

// Wait blocks until the remote command exits.
func (p *RemoteProcess) Wait() error {
	return p.session.Wait()
}

// Close terminates the remote command and releases the session.
func (p *RemoteProcess) Close() error {
	_ = p.session.Signal(ssh.SIGTERM)
	return p.session.Close()
}

// StartCommand starts cmd on the remote host and returns the running
// process. Unlike ExecuteCommand it does not wait: the caller talks to
// the process over its pipes and decides when it ends.
func (c *SSHClient) StartCommand(ctx context.Context, cmd string) (*RemoteProcess, error) {
	if c.executor == nil {
		return nil, &TransportError{
			Op:          "start",
			Err:         fmt.Errorf("executor not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.executor.start(ctx, cmd)
}

// start launches cmd with stdio pipes.
func (e *executor) start(ctx context.Context, cmd string) (*RemoteProcess, error) {
	log.Debug().Str("command", cmd).Msg("starting remote process")

	if err := ctx.Err(); err != nil {
		return nil, &TransportError{
			Op:          "start",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	sshClient, err := e.client.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "start",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{
			Op:          "start",
			Err:         fmt.Errorf("failed to create stdin pipe: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{
			Op:          "start",
			Err:         fmt.Errorf("failed to create stdout pipe: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{
			Op:          "start",
			Err:         fmt.Errorf("failed to create stderr pipe: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, &TransportError{
			Op:          "start",
			Err:         fmt.Errorf("failed to start command: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	log.Info().Str("command", cmd).Msg("remote process started")
	return &RemoteProcess{
		Stdin:   stdin,
		Stdout:  stdout,
		Stderr:  stderr,
		session: session,
	}, nil
}
