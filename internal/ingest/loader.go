package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/codelens/internal/config"
	appErr "github.com/xxxsen/codelens/internal/pkg/errors"
)

// LoadedFile is one processable source file with its decoded text.
type LoadedFile struct {
	RelPath   string
	Extension string
	Content   string
}

// Report counts what the walk saw and skipped. Oversized and binary files
// are reported, never silently dropped.
type Report struct {
	Files           int
	SkippedOversize int
	SkippedBinary   int
	TotalBytes      int64
}

type Loader struct {
	ignoreDirs    map[string]struct{}
	ignoreFiles   map[string]struct{}
	allowExts     map[string]struct{}
	maxFileSize   int64
	maxTotalBytes int64
}

func NewLoader(cfg config.IngestConfig) *Loader {
	l := &Loader{
		ignoreDirs:    make(map[string]struct{}, len(cfg.IgnoreDirs)),
		ignoreFiles:   make(map[string]struct{}, len(cfg.IgnoreFiles)),
		allowExts:     make(map[string]struct{}, len(cfg.AllowExtensions)),
		maxFileSize:   cfg.MaxFileSize,
		maxTotalBytes: cfg.MaxTotalBytes,
	}
	for _, dir := range cfg.IgnoreDirs {
		l.ignoreDirs[dir] = struct{}{}
	}
	for _, name := range cfg.IgnoreFiles {
		l.ignoreFiles[name] = struct{}{}
	}
	for _, ext := range cfg.AllowExtensions {
		l.allowExts[strings.ToLower(ext)] = struct{}{}
	}
	return l
}

// Load walks root and returns the processable files in lexical path order.
// Ignored directories are pruned at traversal time so their contents are
// never opened. An empty result is an ingestion error, not success.
func (l *Loader) Load(ctx context.Context, root string) ([]LoadedFile, *Report, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("root", root))
	report := &Report{}
	var files []LoadedFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if _, ok := l.ignoreDirs[d.Name()]; ok && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if _, ok := l.ignoreFiles[d.Name()]; ok {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := l.allowExts[ext]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			logger.Warn("stat failed, skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		if info.Size() > l.maxFileSize {
			report.SkippedOversize++
			logger.Info("file exceeds size cap, skipped", zap.String("path", path), zap.Int64("size", info.Size()))
			return nil
		}
		report.TotalBytes += info.Size()
		if l.maxTotalBytes > 0 && report.TotalBytes > l.maxTotalBytes {
			return fmt.Errorf("%w: exceeds %d bytes", appErr.ErrTreeTooLarge, l.maxTotalBytes)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("read failed, skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		content, ok := decodeText(raw)
		if !ok {
			report.SkippedBinary++
			return nil
		}
		if strings.TrimSpace(content) == "" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = d.Name()
		}
		files = append(files, LoadedFile{
			RelPath:   filepath.ToSlash(rel),
			Extension: ext,
			Content:   content,
		})
		report.Files++
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, report, appErr.ErrNoProcessableFiles
	}
	logger.Info("source tree loaded",
		zap.Int("files", report.Files),
		zap.Int("skipped_oversize", report.SkippedOversize),
		zap.Int("skipped_binary", report.SkippedBinary),
		zap.Int64("total_bytes", report.TotalBytes),
	)
	return files, report, nil
}

// decodeText returns the file content as UTF-8 text. Invalid UTF-8 falls
// back to a latin-1 reinterpretation; content with NUL bytes is treated as
// binary and rejected.
func decodeText(raw []byte) (string, bool) {
	if bytes.IndexByte(raw, 0) >= 0 {
		return "", false
	}
	if utf8.Valid(raw) {
		return string(raw), true
	}
	var sb strings.Builder
	sb.Grow(len(raw))
	for _, b := range raw {
		sb.WriteRune(rune(b))
	}
	return sb.String(), true
}
