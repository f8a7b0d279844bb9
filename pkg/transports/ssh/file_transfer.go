package ssh

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// fileTransfer handles file transfer operations via SFTP.
type fileTransfer struct {
	client *SSHClient
	config *Config
}

// UploadFile uploads a single file to the remote host via SFTP.
func (c *SSHClient) UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) (*FileTransferResult, error) {
	if c.fileTransfer == nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("file transfer not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.fileTransfer.uploadFile(ctx, localPath, remotePath, mode)
}

// DownloadFile downloads a single file from the remote host via SFTP.
func (c *SSHClient) DownloadFile(ctx context.Context, remotePath string, localPath string) (*FileTransferResult, error) {
	if c.fileTransfer == nil {
		return nil, &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("file transfer not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.fileTransfer.downloadFile(ctx, remotePath, localPath)
}

// ComputeChecksum calculates the SHA-256 checksum of a remote file.
func (c *SSHClient) ComputeChecksum(ctx context.Context, remotePath string) (string, error) {
	if c.fileTransfer == nil {
		return "", &TransportError{
			Op:          "checksum",
			Err:         fmt.Errorf("file transfer not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.fileTransfer.computeChecksum(ctx, remotePath)
}

// createSFTPClient creates a new SFTP client.
func (f *fileTransfer) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := f.client.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return sftpClient, nil
}

// uploadFile uploads a single file to the remote host.
func (f *fileTransfer) uploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) (*FileTransferResult, error) {
	startTime := time.Now()

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Uint32("mode", mode).
		Msg("uploading file")

	localFile, err := os.Open(localPath)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to open local file: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	defer localFile.Close()

	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	// Ensure remote directory exists
	remoteDir := filepath.Dir(remotePath)
	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote directory: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer remoteFile.Close()

	// Digest the bytes while they stream so verification needs no
	// second pass over the file.
	hash := sha256.New()
	bytesWritten, err := copyWithContext(ctx, remoteFile, io.TeeReader(localFile, hash))
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	// Set file permissions if specified
	if mode > 0 {
		if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
			log.Warn().Err(err).Msg("failed to set file permissions")
		}
	}

	result := &FileTransferResult{
		BytesTransferred: bytesWritten,
		Duration:         time.Since(startTime),
		Checksum:         fmt.Sprintf("%x", hash.Sum(nil)),
		StartedAt:        startTime,
		FinishedAt:       time.Now(),
	}

	log.Info().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", result.BytesTransferred).
		Str("checksum", result.Checksum).
		Dur("duration", result.Duration).
		Msg("file uploaded successfully")

	return result, nil
}

// downloadFile downloads a single file from the remote host.
func (f *fileTransfer) downloadFile(ctx context.Context, remotePath string, localPath string) (*FileTransferResult, error) {
	startTime := time.Now()

	log.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Msg("downloading file")

	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("failed to open remote file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer remoteFile.Close()

	// Ensure local directory exists
	localDir := filepath.Dir(localPath)
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return nil, &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("failed to create local directory: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	localFile, err := os.Create(localPath)
	if err != nil {
		return nil, &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("failed to create local file: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	defer localFile.Close()

	hash := sha256.New()
	bytesWritten, err := copyWithContext(ctx, io.MultiWriter(localFile, hash), remoteFile)
	if err != nil {
		return nil, &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	result := &FileTransferResult{
		BytesTransferred: bytesWritten,
		Duration:         time.Since(startTime),
		Checksum:         fmt.Sprintf("%x", hash.Sum(nil)),
		StartedAt:        startTime,
		FinishedAt:       time.Now(),
	}

	log.Info().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", result.BytesTransferred).
		Dur("duration", result.Duration).
		Msg("file downloaded successfully")

	return result, nil
}

// computeChecksum calculates the SHA-256 checksum of a remote file.
func (f *fileTransfer) computeChecksum(ctx context.Context, remotePath string) (string, error) {
	log.Debug().Str("path", remotePath).Msg("computing checksum")

	cmd := fmt.Sprintf("sha256sum %s", remotePath)
	stdout, stderr, err := f.client.ExecuteCommand(ctx, cmd)
	if err != nil {
		return "", &TransportError{
			Op:          "checksum",
			Err:         fmt.Errorf("failed to compute checksum: %s", stderr),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	// Parse the output (format: "checksum  filename")
	parts := strings.Fields(stdout)
	if len(parts) < 1 {
		return "", &TransportError{
			Op:          "checksum",
			Err:         fmt.Errorf("invalid checksum output: %s", stdout),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	checksum := parts[0]
	log.Debug().Str("path", remotePath).Str("checksum", checksum).Msg("checksum computed")

	return checksum, nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, err := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if err != nil {
				return written, err
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
