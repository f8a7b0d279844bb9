package archive

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openlander/openlander/pkg/transports/ssh"
)

var _ ssh.Transport = (*fakeArchiveHost)(nil)

// fakeArchiveHost records uploads keyed by remote path and answers
// checksum queries from the stored content.
type fakeArchiveHost struct {
	mu             sync.Mutex
	connected      bool
	uploads        map[string][]byte
	remoteChecksum string // overrides the computed digest when set
	uploadErr      error
}

func newFakeArchiveHost() *fakeArchiveHost {
	return &fakeArchiveHost{uploads: make(map[string][]byte)}
}

func (f *fakeArchiveHost) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeArchiveHost) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeArchiveHost) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeArchiveHost) HealthCheck(ctx context.Context) error {
	return nil
}

func (f *fakeArchiveHost) ExecuteCommand(ctx context.Context, cmd string) (string, string, error) {
	return "", "", fmt.Errorf("unexpected command %q", cmd)
}

func (f *fakeArchiveHost) StartCommand(ctx context.Context, cmd string) (*ssh.RemoteProcess, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeArchiveHost) UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) (*ssh.FileTransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	content, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	f.uploads[remotePath] = content
	return &ssh.FileTransferResult{
		BytesTransferred: int64(len(content)),
		Checksum:         fmt.Sprintf("%x", sha256.Sum256(content)),
	}, nil
}

func (f *fakeArchiveHost) DownloadFile(ctx context.Context, remotePath, localPath string) (*ssh.FileTransferResult, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeArchiveHost) ComputeChecksum(ctx context.Context, remotePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteChecksum != "" {
		return f.remoteChecksum, nil
	}
	content, ok := f.uploads[remotePath]
	if !ok {
		return "", fmt.Errorf("sha256sum: %s: No such file or directory", remotePath)
	}
	return fmt.Sprintf("%x", sha256.Sum256(content)), nil
}

func (f *fakeArchiveHost) GetConnectionInfo() ssh.ConnectionInfo {
	return ssh.ConnectionInfo{Host: "archive.example.com", Port: 22, User: "deployer"}
}

func (f *fakeArchiveHost) uploaded(remotePath string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[remotePath]
}

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write artifact: %v", err)
	}
	return p
}

func TestArchiveRun(t *testing.T) {
	dir := t.TempDir()
	auditPath := writeArtifact(t, dir, "run-1.jsonl", `{"sequence":1,"action":"run.accepted"}`+"\n")
	reportPath := writeArtifact(t, dir, "run-1.json", `{"run_id":"run-1","state":"succeeded"}`+"\n")

	fake := newFakeArchiveHost()
	archiver, err := NewArchiver(fake, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}

	result, err := archiver.ArchiveRun(context.Background(), "run-1", auditPath, reportPath)
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}

	wantDir := DefaultRemoteDir + "/run-1"
	if result.RemoteDir != wantDir {
		t.Errorf("RemoteDir = %q, want %q", result.RemoteDir, wantDir)
	}
	if len(result.Files) != 2 {
		t.Fatalf("archived %d files, want 2", len(result.Files))
	}
	if result.ArchivedAt.IsZero() {
		t.Error("ArchivedAt should be set")
	}

	audit := result.Files[0]
	if audit.RemotePath != wantDir+"/run-1.jsonl" {
		t.Errorf("audit RemotePath = %q, want %q", audit.RemotePath, wantDir+"/run-1.jsonl")
	}
	content := fake.uploaded(audit.RemotePath)
	if content == nil {
		t.Fatal("audit chain was not uploaded")
	}
	if want := fmt.Sprintf("%x", sha256.Sum256(content)); audit.Checksum != want {
		t.Errorf("audit Checksum = %q, want %q", audit.Checksum, want)
	}
	if audit.Bytes != int64(len(content)) {
		t.Errorf("audit Bytes = %d, want %d", audit.Bytes, len(content))
	}

	if fake.uploaded(wantDir+"/run-1.json") == nil {
		t.Error("run report was not uploaded")
	}
	if fake.IsConnected() {
		t.Error("transport should be disconnected after archiving")
	}
}

func TestArchiveRunCustomRemoteDir(t *testing.T) {
	dir := t.TempDir()
	auditPath := writeArtifact(t, dir, "run-7.jsonl", "{}\n")

	fake := newFakeArchiveHost()
	archiver, err := NewArchiver(fake, "/srv/deploy-archive", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}

	result, err := archiver.ArchiveRun(context.Background(), "run-7", auditPath)
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}
	if result.RemoteDir != "/srv/deploy-archive/run-7" {
		t.Errorf("RemoteDir = %q, want /srv/deploy-archive/run-7", result.RemoteDir)
	}
}

func TestArchiveRunChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	auditPath := writeArtifact(t, dir, "run-2.jsonl", "{}\n")

	fake := newFakeArchiveHost()
	fake.remoteChecksum = "deadbeef"
	archiver, err := NewArchiver(fake, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}

	_, err = archiver.ArchiveRun(context.Background(), "run-2", auditPath)
	if err == nil {
		t.Fatal("expected error for checksum mismatch")
	}
	if !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("error = %v, want mention of checksum mismatch", err)
	}
}

func TestArchiveRunMissingArtifact(t *testing.T) {
	fake := newFakeArchiveHost()
	archiver, err := NewArchiver(fake, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}

	_, err = archiver.ArchiveRun(context.Background(), "run-3", filepath.Join(t.TempDir(), "missing.jsonl"))
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
	if !strings.Contains(err.Error(), "artifact not readable") {
		t.Errorf("error = %v, want mention of unreadable artifact", err)
	}
	if fake.IsConnected() {
		t.Error("transport should not connect when artifacts are missing")
	}
}

func TestArchiveRunValidation(t *testing.T) {
	fake := newFakeArchiveHost()
	archiver, err := NewArchiver(fake, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}

	if _, err := archiver.ArchiveRun(context.Background(), "", "a.jsonl"); err == nil {
		t.Error("expected error for empty run id")
	}
	if _, err := archiver.ArchiveRun(context.Background(), "run-4"); err == nil {
		t.Error("expected error for no artifact files")
	}
	if _, err := NewArchiver(nil, "", zerolog.Nop()); err == nil {
		t.Error("expected error for nil transport")
	}
}

func TestArchiveRunUploadFailure(t *testing.T) {
	dir := t.TempDir()
	auditPath := writeArtifact(t, dir, "run-5.jsonl", "{}\n")

	fake := newFakeArchiveHost()
	fake.uploadErr = fmt.Errorf("connection reset")
	archiver, err := NewArchiver(fake, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}

	_, err = archiver.ArchiveRun(context.Background(), "run-5", auditPath)
	if err == nil {
		t.Fatal("expected error for failed upload")
	}
	if !strings.Contains(err.Error(), "failed to upload run-5.jsonl") {
		t.Errorf("error = %v, want upload failure naming the file", err)
	}
}
