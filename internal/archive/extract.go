// Package archive unpacks the raw image corpus.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/lookalike/internal/common"
	"github.com/mholt/archiver"
)

// Options controls Extract.
type Options struct {
	Logger *slog.Logger
	// KeepArchive leaves the archive in place after a successful extraction.
	KeepArchive bool
}

type unarchiver interface {
	Unarchive(source, destination string) error
}

func forPath(path string) (unarchiver, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return archiver.NewZip(), nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return archiver.NewTarGz(), nil
	case strings.HasSuffix(lower, ".tar"):
		return archiver.NewTar(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported archive format %s", common.ErrInput, path)
	}
}

// Extract unpacks archivePath into destDir. Anything already in destDir is
// removed first. The archive itself is deleted afterwards unless
// opts.KeepArchive is set.
func Extract(archivePath, destDir string, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: archive %s", common.ErrMissingResource, archivePath)
		}
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: archive %s is a directory", common.ErrInput, archivePath)
	}

	u, err := forPath(archivePath)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", destDir, err)
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	logger.Info("Extracting archive", "archive", archivePath, "destination", destDir)
	if err := u.Unarchive(archivePath, destDir); err != nil {
		return fmt.Errorf("failed to extract %s: %w", archivePath, err)
	}

	if !opts.KeepArchive {
		if err := os.Remove(archivePath); err != nil {
			return fmt.Errorf("failed to remove archive: %w", err)
		}
		logger.Debug("Removed archive", "archive", archivePath)
	}
	return nil
}
