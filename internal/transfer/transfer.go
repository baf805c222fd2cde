// Package transfer moves blobs from the chat transport to the remote disk.
//
// An upload runs through a fixed sequence: size gate, credential resolve,
// staging to a local temp file, write-target request, chunked streaming
// with throttled progress, publish, persist. The staged file is removed on
// every exit path. Each failing step keeps its identity so the front-end
// can tell the user how far the job got.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/creds"
	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/metrics"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
)

// ChunkSize is the upload streaming chunk ceiling.
const ChunkSize = 64 * 1024

// Blob is an incoming file reference on the chat transport. Size is the
// transport's declared size, trusted for the pre-flight gate only.
type Blob struct {
	FileID string
	Name   string
	Size   int64
}

// Fetcher downloads a blob's bytes from the chat transport.
type Fetcher interface {
	Fetch(ctx context.Context, fileID string, dst io.Writer) error
}

// CredentialSource resolves a user's disk credential.
type CredentialSource interface {
	Resolve(ctx context.Context, userID int64) (*creds.Credential, error)
}

// Recorder persists finished uploads.
type Recorder interface {
	SaveUploadedFile(ctx context.Context, r *store.UploadedFileRow) (int64, error)
}

// StatusFunc receives throttled progress percentages.
type StatusFunc func(pct int)

// OversizedError rejects a blob before any I/O happens.
type OversizedError struct {
	Size  int64
	Limit int64
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("file of %d bytes exceeds the %d byte limit", e.Size, e.Limit)
}

// FetchError marks a failure to pull the blob from the chat transport or
// to stage it locally, before the remote disk was ever involved.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return "fetch blob: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Config holds pipeline settings.
type Config struct {
	TempDir       string
	MaxUploadSize int64
}

// Result describes a finished upload.
type Result struct {
	Name       string
	RemotePath string
	PublicURL  string
	Size       int64
	RecordID   int64
}

// Pipeline executes uploads.
type Pipeline struct {
	cfg    Config
	opener remote.Opener
	creds  CredentialSource
	fetch  Fetcher
	rec    Recorder
}

// New creates a Pipeline.
func New(cfg Config, opener remote.Opener, cs CredentialSource, fetch Fetcher, rec Recorder) *Pipeline {
	return &Pipeline{cfg: cfg, opener: opener, creds: cs, fetch: fetch, rec: rec}
}

// Upload runs one blob through the pipeline. targetFolder is the consumed
// pending upload target; empty means the user's default folder, then the
// disk root. status receives throttled progress percentages, including a
// single final 100.
func (p *Pipeline) Upload(ctx context.Context, userID int64, blob Blob, targetFolder string, status StatusFunc) (*Result, error) {
	start := time.Now()

	if blob.Size > p.cfg.MaxUploadSize {
		metrics.RecordUpload(0, time.Since(start), "oversize")
		return nil, &OversizedError{Size: blob.Size, Limit: p.cfg.MaxUploadSize}
	}

	cred, err := p.creds.Resolve(ctx, userID)
	if err != nil {
		metrics.RecordUpload(0, time.Since(start), "credential")
		return nil, err
	}
	disk, err := p.opener.Open(ctx, cred.Token)
	if err != nil {
		metrics.RecordUpload(0, time.Since(start), "credential")
		return nil, err
	}

	name := SanitizeName(blob.Name)
	tmpPath, staged, err := p.stage(ctx, blob.FileID, name)
	if err != nil {
		metrics.RecordUpload(0, time.Since(start), "fetch")
		return nil, &FetchError{Err: err}
	}
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logging.Warn("staged file not removed", zap.String("path", tmpPath), zap.Error(rmErr))
		}
	}()

	// The staged size is authoritative from here on; the declared size
	// only gated the download.
	if staged > p.cfg.MaxUploadSize {
		metrics.RecordUpload(0, time.Since(start), "oversize")
		return nil, &OversizedError{Size: staged, Limit: p.cfg.MaxUploadSize}
	}

	folder := targetFolder
	if folder == "" {
		folder = cred.DefaultFolder
	}
	if folder == "" {
		folder = "/"
	}
	remotePath := joinPath(folder, name)

	target, err := disk.WriteTarget(ctx, remotePath, true)
	if err != nil {
		metrics.RecordUpload(0, time.Since(start), failStep(err))
		return nil, err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		metrics.RecordUpload(0, time.Since(start), "fetch")
		return nil, &FetchError{Err: err}
	}

	throttle := &Throttle{}
	reader := &progressReader{r: f, total: staged, throttle: throttle, emit: status}
	err = disk.Write(ctx, target, reader, staged)
	f.Close()
	if err != nil {
		metrics.RecordUpload(0, time.Since(start), failStep(err))
		return nil, err
	}
	if pct, ok := throttle.Report(100); ok && status != nil {
		status(pct)
	}

	publicURL, err := disk.Publish(ctx, remotePath)
	if err != nil {
		metrics.RecordUpload(0, time.Since(start), failStep(err))
		return nil, err
	}

	result := &Result{
		Name:       name,
		RemotePath: remotePath,
		PublicURL:  publicURL,
		Size:       staged,
	}

	id, err := p.rec.SaveUploadedFile(ctx, &store.UploadedFileRow{
		UserID:     userID,
		Name:       name,
		RemotePath: remotePath,
		PublicURL:  publicURL,
		SizeBytes:  staged,
	})
	if err != nil {
		// The remote write already succeeded; keep it and only log the
		// missing record.
		logging.Error("upload finished but record not persisted",
			zap.Int64("user_id", userID),
			zap.String("remote_path", remotePath),
			zap.Error(err))
	} else {
		result.RecordID = id
	}

	metrics.RecordUpload(staged, time.Since(start), "success")
	logging.Info("upload complete",
		zap.Int64("user_id", userID),
		zap.String("remote_path", remotePath),
		zap.Int64("size", staged),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// stage pulls the blob into TempDir under a unique sanitized name and
// returns the path and actual byte count. On failure nothing is left
// behind.
func (p *Pipeline) stage(ctx context.Context, fileID, name string) (string, int64, error) {
	if err := os.MkdirAll(p.cfg.TempDir, 0o755); err != nil {
		return "", 0, err
	}

	tmpPath := filepath.Join(p.cfg.TempDir, uuid.NewString()+"_"+name)
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, err
	}

	if err := p.fetch.Fetch(ctx, fileID, f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}
	return tmpPath, info.Size(), nil
}

func failStep(err error) string {
	if op := remote.OpOf(err); op != "" {
		return op
	}
	return "remote"
}

func joinPath(folder, name string) string {
	if !strings.HasPrefix(folder, "/") {
		folder = "/" + folder
	}
	folder = strings.TrimRight(folder, "/")
	return folder + "/" + name
}

// progressReader caps reads at ChunkSize and feeds cumulative percentage
// through the throttle.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	throttle *Throttle
	emit     StatusFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	if int64(len(b)) > ChunkSize {
		b = b[:ChunkSize]
	}
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && p.emit != nil {
		if pct, ok := p.throttle.Report(int(p.read * 100 / p.total)); ok {
			p.emit(pct)
		}
	}
	return n, err
}
