// Package imagefolder reads a root/<label>/<image> tree as a labeled dataset
// that skips undecodable files instead of failing.
package imagefolder

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/dataset"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/preprocess"
	"github.com/spf13/afero"
)

// DecodeError is returned when a single file cannot be decoded as an image.
type DecodeError struct {
	Err   error
	Path  string
	Index int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes the error match common.ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == common.ErrDecode
}

// ExhaustedSourceError is returned when no decodable sample exists from
// Start to the end of the source.
type ExhaustedSourceError struct {
	Start int
	Len   int
}

func (e *ExhaustedSourceError) Error() string {
	return fmt.Sprintf("no valid images found from index %d to end of source (%d entries)", e.Start, e.Len)
}

// Is makes the error match common.ErrExhaustedSource.
func (e *ExhaustedSourceError) Is(target error) bool {
	return target == common.ErrExhaustedSource
}

// Sample is a decoded, preprocessed image.
type Sample struct {
	Path   string
	Tensor []float64
	// Index is the position the sample was actually decoded from, which may
	// be after the requested one when entries were skipped.
	Index int
	Label int
}

// SkipHook is called once for every entry skipped because it failed to decode.
type SkipHook func(index int, path string, err error)

// Option configures a Source.
type Option func(*Source)

// WithClassIndex fixes the class index instead of deriving it from the
// directory names. Directories that are not in the index are rejected.
func WithClassIndex(classes model.ClassIndex) Option {
	return func(s *Source) {
		s.classes = classes
		s.fixedClasses = true
	}
}

// WithLogger sets the logger that receives skip warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSkipHook registers a callback for skipped entries.
func WithSkipHook(hook SkipHook) Option {
	return func(s *Source) {
		s.onSkip = hook
	}
}

// Source is an indexable, fault-tolerant view of a labeled image directory.
// It holds no iteration state, so one Source may serve many passes.
type Source struct {
	fs           afero.Fs
	logger       *slog.Logger
	onSkip       SkipHook
	root         string
	samples      []model.LabeledSample
	classes      model.ClassIndex
	transform    preprocess.Transform
	fixedClasses bool
}

// Open scans root for <label>/<image> entries. Samples are ordered by label
// then file name.
func Open(afs afero.Fs, root string, transform preprocess.Transform, opts ...Option) (*Source, error) {
	if err := transform.Validate(); err != nil {
		return nil, err
	}

	s := &Source{
		fs:        afs,
		root:      root,
		transform: transform,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	entries, err := afero.ReadDir(afs, root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: image directory %s", common.ErrMissingResource, root)
		}
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	var labels []string
	for _, entry := range entries {
		if entry.IsDir() {
			labels = append(labels, entry.Name())
		}
	}
	sort.Strings(labels)

	if s.fixedClasses {
		for _, label := range labels {
			if _, ok := s.classes.Index(label); !ok {
				found, _ := model.NewClassIndex(labels)
				return nil, &model.ClassMismatchError{
					Context:  "image directory " + root,
					Expected: s.classes.Names(),
					Actual:   found.Names(),
				}
			}
		}
	} else {
		s.classes, err = model.NewClassIndex(labels)
		if err != nil {
			return nil, fmt.Errorf("failed to build class index: %w", err)
		}
	}

	for _, label := range s.classes.Names() {
		id, _ := s.classes.Index(label)
		dir := filepath.Join(root, label)

		files, err := afero.ReadDir(afs, dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read label directory %s: %w", dir, err)
		}

		names := make([]string, 0, len(files))
		for _, f := range files {
			if f.Mode().IsRegular() && dataset.IsImageFile(f.Name()) {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			s.samples = append(s.samples, model.LabeledSample{
				Path:    filepath.Join(dir, name),
				Label:   label,
				ClassID: id,
			})
		}
	}

	return s, nil
}

// Root returns the directory the source was opened on.
func (s *Source) Root() string {
	return s.root
}

// Len is the number of discovered entries, decodable or not.
func (s *Source) Len() int {
	return len(s.samples)
}

// Classes returns the class index of the source.
func (s *Source) Classes() model.ClassIndex {
	return s.classes
}

// Transform returns the preprocessing applied to every sample.
func (s *Source) Transform() preprocess.Transform {
	return s.transform
}

// Entry returns the undecoded entry at index.
func (s *Source) Entry(index int) (model.LabeledSample, bool) {
	if index < 0 || index >= len(s.samples) {
		return model.LabeledSample{}, false
	}
	return s.samples[index], true
}

// Counts returns the number of entries per class in ClassIndex order.
func (s *Source) Counts() []int {
	counts := make([]int, s.classes.Len())
	for _, sample := range s.samples {
		counts[sample.ClassID]++
	}
	return counts
}

// Decode makes a single attempt at decoding the entry at index. A file that
// cannot be opened or is not a valid image yields a *DecodeError.
func (s *Source) Decode(index int) (Sample, error) {
	entry, ok := s.Entry(index)
	if !ok {
		return Sample{}, fmt.Errorf("%w: index %d out of range [0, %d)", common.ErrInput, index, len(s.samples))
	}

	f, err := s.fs.Open(entry.Path)
	if err != nil {
		return Sample{}, &DecodeError{Index: index, Path: entry.Path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	tensor, err := s.transform.Decode(f)
	if err != nil {
		return Sample{}, &DecodeError{Index: index, Path: entry.Path, Err: err}
	}

	return Sample{
		Index:  index,
		Path:   entry.Path,
		Label:  entry.ClassID,
		Tensor: tensor,
	}, nil
}

// Get returns the first decodable sample at or after index. Every entry
// skipped on the way is logged as a warning. The scan never wraps around; if
// it reaches the end an *ExhaustedSourceError is returned.
func (s *Source) Get(index int) (Sample, error) {
	if index < 0 {
		return Sample{}, fmt.Errorf("%w: negative index %d", common.ErrInput, index)
	}

	for i := index; i < len(s.samples); i++ {
		sample, err := s.Decode(i)
		if err == nil {
			return sample, nil
		}
		if common.IsFatal(err) {
			return Sample{}, err
		}
		s.skip(i, err)
	}

	return Sample{}, &ExhaustedSourceError{Start: index, Len: len(s.samples)}
}

func (s *Source) skip(index int, err error) {
	path := s.samples[index].Path
	s.logger.Warn("Skipping corrupted image",
		"index", index,
		"path", path,
		"error", err)
	if s.onSkip != nil {
		s.onSkip(index, path, err)
	}
}
