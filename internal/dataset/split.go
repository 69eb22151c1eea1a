// Package dataset partitions a labeled image corpus into train and
// validation trees.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/spf13/afero"
)

// Split directory and manifest names under the target directory.
const (
	TrainDir     = "train"
	ValDir       = "val"
	ManifestName = "split.json"
)

// Default split parameters.
const (
	DefaultRatio = 0.8
	DefaultSeed  = 42
)

// imageExtensions are matched case-insensitively.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// IsImageFile reports whether name carries one of the recognized image
// extensions.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Options parameterizes Split.
type Options struct {
	Logger *slog.Logger
	// Ratio is the fraction of each label that goes to training, in (0, 1].
	Ratio float64
	Seed  int64
}

// DefaultOptions returns the standard 80/20 split seeded with 42.
func DefaultOptions() Options {
	return Options{Ratio: DefaultRatio, Seed: DefaultSeed}
}

// Result describes a completed split.
type Result struct {
	CreatedAt time.Time          `json:"created_at"`
	Source    string             `json:"source"`
	Target    string             `json:"target"`
	Classes   model.ClassIndex   `json:"classes"`
	Counts    []model.LabelCount `json:"counts"`
	Ratio     float64            `json:"ratio"`
	Seed      int64              `json:"seed"`
}

// TrainPath is the directory holding the training partition.
func (r *Result) TrainPath() string {
	return filepath.Join(r.Target, TrainDir)
}

// ValPath is the directory holding the validation partition.
func (r *Result) ValPath() string {
	return filepath.Join(r.Target, ValDir)
}

// Totals returns the number of train and validation files over all labels.
func (r *Result) Totals() (train, val int) {
	for _, c := range r.Counts {
		train += c.Train
		val += c.Val
	}
	return train, val
}

// Split copies every image under source/<label>/ into target/train/<label>/
// or target/val/<label>/. For each label, files are sorted by name, shuffled
// with a generator seeded by opts.Seed, and the first floor(ratio*n) go to
// training. Both partitions are cleared first, so running Split twice with
// the same inputs reproduces the same partition. Source files are never
// modified.
func Split(afs afero.Fs, source, target string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Ratio <= 0 || opts.Ratio > 1 || math.IsNaN(opts.Ratio) {
		return nil, fmt.Errorf("%w: split ratio must be in (0, 1], got %g", common.ErrInput, opts.Ratio)
	}

	info, err := afs.Stat(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: source directory %s", common.ErrMissingResource, source)
		}
		return nil, fmt.Errorf("failed to stat source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: source %s is not a directory", common.ErrMissingResource, source)
	}

	labels, err := listLabels(afs, source, target)
	if err != nil {
		return nil, err
	}

	classes, err := model.NewClassIndex(labels)
	if err != nil {
		return nil, fmt.Errorf("failed to build class index: %w", err)
	}

	trainRoot := filepath.Join(target, TrainDir)
	valRoot := filepath.Join(target, ValDir)
	for _, dir := range []string{trainRoot, valRoot} {
		if err := afs.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", dir, err)
		}
		if err := afs.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	result := &Result{
		Source:    source,
		Target:    target,
		Ratio:     opts.Ratio,
		Seed:      opts.Seed,
		Classes:   classes,
		Counts:    make([]model.LabelCount, 0, len(labels)),
		CreatedAt: time.Now().UTC(),
	}

	for _, label := range classes.Names() {
		files, err := listImages(afs, filepath.Join(source, label))
		if err != nil {
			return nil, err
		}

		// One generator per label keeps each label's partition independent
		// of which other labels exist.
		rng := rand.New(rand.NewSource(opts.Seed)) //nolint:gosec // reproducible shuffle, not security sensitive
		rng.Shuffle(len(files), func(i, j int) {
			files[i], files[j] = files[j], files[i]
		})

		cut := int(math.Floor(opts.Ratio * float64(len(files))))
		train, val := files[:cut], files[cut:]

		if err := copyAll(afs, filepath.Join(source, label), filepath.Join(trainRoot, label), train); err != nil {
			return nil, err
		}
		if err := copyAll(afs, filepath.Join(source, label), filepath.Join(valRoot, label), val); err != nil {
			return nil, err
		}

		logger.Info(fmt.Sprintf("%d imgs for training [%s]", len(train), label))
		logger.Info(fmt.Sprintf("%d imgs for validation [%s]", len(val), label))

		result.Counts = append(result.Counts, model.LabelCount{
			Label: label,
			Total: len(files),
			Train: len(train),
			Val:   len(val),
		})
	}

	if err := writeManifest(afs, filepath.Join(target, ManifestName), result); err != nil {
		return nil, err
	}

	return result, nil
}

// ReadManifest loads the split.json written by Split.
func ReadManifest(afs afero.Fs, target string) (*Result, error) {
	path := filepath.Join(target, ManifestName)
	data, err := afero.ReadFile(afs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: split manifest %s", common.ErrMissingResource, path)
		}
		return nil, fmt.Errorf("failed to read split manifest: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse split manifest: %w", err)
	}
	return &result, nil
}

func listLabels(afs afero.Fs, source, target string) ([]string, error) {
	entries, err := afero.ReadDir(afs, source)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	// The target and its partitions are output, not labels, wherever they
	// sit relative to the source.
	absTarget, _ := filepath.Abs(target)
	output := map[string]bool{absTarget: true}
	for _, dir := range []string{TrainDir, ValDir} {
		output[filepath.Join(absTarget, dir)] = true
	}

	labels := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if abs, _ := filepath.Abs(filepath.Join(source, entry.Name())); output[abs] {
			continue
		}
		labels = append(labels, entry.Name())
	}
	sort.Strings(labels)
	return labels, nil
}

func listImages(afs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(afs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read label directory %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Mode().IsRegular() || !IsImageFile(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func copyAll(afs afero.Fs, srcDir, dstDir string, names []string) error {
	if err := afs.MkdirAll(dstDir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dstDir, err)
	}
	for _, name := range names {
		if err := copyFile(afs, filepath.Join(srcDir, name), filepath.Join(dstDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(afs afero.Fs, src, dst string) (err error) {
	in, err := afs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	out, err := afs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dst, closeErr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}

func writeManifest(afs afero.Fs, path string, result *Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode split manifest: %w", err)
	}
	if err := afero.WriteFile(afs, path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write split manifest: %w", err)
	}
	return nil
}
