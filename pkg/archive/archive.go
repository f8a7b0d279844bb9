// Package archive uploads completed run artifacts to an archive host
// over SFTP and verifies each upload by checksum. Archival is advisory:
// callers surface failures as warnings and never let them change a run
// outcome.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlander/openlander/pkg/transports/ssh"
)

// DefaultRemoteDir is where run artifacts land on the archive host.
const DefaultRemoteDir = "/var/lib/lander/archive"

// FileResult describes one verified upload.
type FileResult struct {
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	Bytes      int64  `json:"bytes"`
	Checksum   string `json:"checksum"`
}

// Result describes one archived run.
type Result struct {
	RunID      string       `json:"run_id"`
	RemoteDir  string       `json:"remote_dir"`
	Files      []FileResult `json:"files"`
	ArchivedAt time.Time    `json:"archived_at"`
}

// Archiver copies run artifacts to an archive host.
type Archiver struct {
	transport ssh.Transport
	remoteDir string
	logger    zerolog.Logger
}

// NewArchiver creates an archiver over a configured SSH transport.
// remoteDir empty means DefaultRemoteDir.
func NewArchiver(transport ssh.Transport, remoteDir string, logger zerolog.Logger) (*Archiver, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if remoteDir == "" {
		remoteDir = DefaultRemoteDir
	}
	return &Archiver{
		transport: transport,
		remoteDir: remoteDir,
		logger:    logger.With().Str("component", "archive").Logger(),
	}, nil
}

// ArchiveRun uploads the given artifact files under <remoteDir>/<runID>/
// and verifies each installed file's SHA-256 against the transfer
// digest. Remote names keep the local base names. Archive hosts are
// POSIX, so remote paths join with forward slashes regardless of the
// controller's platform.
func (a *Archiver) ArchiveRun(ctx context.Context, runID string, localPaths ...string) (*Result, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if len(localPaths) == 0 {
		return nil, fmt.Errorf("no artifact files to archive")
	}
	for _, localPath := range localPaths {
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("artifact not readable: %w", err)
		}
	}

	if err := a.transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to archive host: %w", err)
	}
	defer a.transport.Disconnect()

	runDir := path.Join(a.remoteDir, runID)
	result := &Result{RunID: runID, RemoteDir: runDir}

	for _, localPath := range localPaths {
		file, err := a.archiveFile(ctx, localPath, runDir)
		if err != nil {
			return nil, err
		}
		result.Files = append(result.Files, *file)
	}

	result.ArchivedAt = time.Now().UTC()
	a.logger.Info().
		Str("run_id", runID).
		Str("remote_dir", runDir).
		Int("files", len(result.Files)).
		Msg("Run artifacts archived")

	return result, nil
}

// archiveFile uploads one artifact and verifies the remote digest.
func (a *Archiver) archiveFile(ctx context.Context, localPath, runDir string) (*FileResult, error) {
	name := filepath.Base(localPath)
	remotePath := path.Join(runDir, name)

	upload, err := a.transport.UploadFile(ctx, localPath, remotePath, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	remoteChecksum, err := a.transport.ComputeChecksum(ctx, remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to verify %s: %w", name, err)
	}
	if remoteChecksum != upload.Checksum {
		return nil, fmt.Errorf("checksum mismatch for %s: local %s, remote %s",
			name, upload.Checksum, remoteChecksum)
	}

	a.logger.Info().
		Str("remote_path", remotePath).
		Int64("bytes", upload.BytesTransferred).
		Str("checksum", upload.Checksum).
		Msg("Artifact uploaded")

	return &FileResult{
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      upload.BytesTransferred,
		Checksum:   upload.Checksum,
	}, nil
}
