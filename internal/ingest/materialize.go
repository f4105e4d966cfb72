package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/codelens/internal/pkg/errors"
)

// SourceDescriptor names where a project's file tree comes from. The rest of
// the pipeline only ever sees the materialized tree root.
type SourceDescriptor struct {
	Type        string // model.SourceTypeUpload or model.SourceTypeGithub
	ArchivePath string // local path of the uploaded zip
	RepoURL     string // remote repository URL
}

type Materializer struct {
	maxTotalBytes int64
	cloneTimeout  time.Duration
}

func NewMaterializer(maxTotalBytes int64, cloneTimeout time.Duration) *Materializer {
	return &Materializer{maxTotalBytes: maxTotalBytes, cloneTimeout: cloneTimeout}
}

// Materialize produces a local walkable tree for the descriptor. The cleanup
// func removes the tree and is safe to call more than once.
func (m *Materializer) Materialize(ctx context.Context, desc SourceDescriptor) (string, func(), error) {
	switch desc.Type {
	case "upload":
		return m.extractZip(ctx, desc.ArchivePath)
	case "github":
		return m.cloneRepo(ctx, desc.RepoURL)
	default:
		return "", nil, fmt.Errorf("%w: unknown source type %q", appErr.ErrInvalid, desc.Type)
	}
}

func (m *Materializer) extractZip(ctx context.Context, archivePath string) (string, func(), error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("%w: open archive: %v", appErr.ErrIngestion, err)
	}
	defer reader.Close()

	tempDir, err := os.MkdirTemp("", "codelens-extract-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tempDir) }

	var written int64
	for _, file := range reader.File {
		if ctx.Err() != nil {
			cleanup()
			return "", nil, ctx.Err()
		}
		name := filepath.FromSlash(file.Name)
		if !filepath.IsLocal(name) {
			cleanup()
			return "", nil, fmt.Errorf("%w: archive entry escapes extraction root: %s", appErr.ErrIngestion, file.Name)
		}
		target := filepath.Join(tempDir, name)
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				cleanup()
				return "", nil, err
			}
			continue
		}
		written += int64(file.UncompressedSize64)
		if m.maxTotalBytes > 0 && written > m.maxTotalBytes {
			cleanup()
			return "", nil, fmt.Errorf("%w: archive exceeds %d bytes", appErr.ErrTreeTooLarge, m.maxTotalBytes)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			cleanup()
			return "", nil, err
		}
		if err := extractEntry(file, target); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("%w: extract %s: %v", appErr.ErrIngestion, file.Name, err)
		}
	}
	return unwrapSingleDir(tempDir), cleanup, nil
}

func extractEntry(file *zip.File, target string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// unwrapSingleDir descends into the root when the archive wraps everything
// in a single top-level directory, the common zip layout.
func unwrapSingleDir(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return root
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(root, entries[0].Name())
	}
	return root
}

func (m *Materializer) cloneRepo(ctx context.Context, repoURL string) (string, func(), error) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return "", nil, fmt.Errorf("%w: repository url is required", appErr.ErrInvalid)
	}
	tempDir, err := os.MkdirTemp("", "codelens-clone-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tempDir) }

	cloneCtx := ctx
	if m.cloneTimeout > 0 {
		var cancel context.CancelFunc
		cloneCtx, cancel = context.WithTimeout(ctx, m.cloneTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth", "1", "--single-branch", repoURL, tempDir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		cleanup()
		logutil.GetLogger(ctx).Warn("git clone failed",
			zap.String("repo", repoURL),
			zap.String("output", strings.TrimSpace(string(output))),
			zap.Error(err),
		)
		return "", nil, fmt.Errorf("%w: clone %s: %v", appErr.ErrIngestion, repoURL, err)
	}
	return tempDir, cleanup, nil
}
