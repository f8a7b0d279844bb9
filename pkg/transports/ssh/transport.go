// Package ssh provides the SSH transport for bastion operations:
// remote command execution, the stdio channel the probe runner is
// driven through, and SFTP file transfer with checksum verification.
package ssh

import (
	"context"
	"time"
)

// Transport defines the operations the bastion, archive, and probe
// runner layers need from an SSH connection.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	// Returns an error if connection fails or authentication is rejected.
	Connect(ctx context.Context) error

	// Disconnect closes the SSH connection and releases all resources.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is still alive and responsive.
	HealthCheck(ctx context.Context) error

	// ExecuteCommand runs a command on the remote host.
	// Returns stdout, stderr, and any error that occurred.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// StartCommand starts a long-running command on the remote host and
	// returns the process with its stdio pipes attached. The caller owns
	// the process and must Close it.
	StartCommand(ctx context.Context, cmd string) (*RemoteProcess, error)

	// UploadFile uploads a single file to the remote host via SFTP.
	// The mode parameter sets file permissions (e.g. 0755). The result
	// carries the local SHA-256 digest computed while copying.
	UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) (*FileTransferResult, error)

	// DownloadFile downloads a single file from the remote host via SFTP.
	DownloadFile(ctx context.Context, remotePath string, localPath string) (*FileTransferResult, error)

	// ComputeChecksum calculates the SHA-256 checksum of a remote file
	// by running sha256sum on the remote host.
	ComputeChecksum(ctx context.Context, remotePath string) (string, error)

	// GetConnectionInfo returns information about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when the connection was last used
	LastActivity time.Time
}

// FileTransferResult represents the result of a file transfer operation.
type FileTransferResult struct {
	// BytesTransferred is the number of bytes transferred
	BytesTransferred int64

	// Duration is the time taken for the transfer
	Duration time.Duration

	// Checksum is the SHA-256 checksum of the local file contents,
	// computed while the bytes were copied
	Checksum string

	// StartedAt is when the transfer started
	StartedAt time.Time

	// FinishedAt is when the transfer completed
	FinishedAt time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
