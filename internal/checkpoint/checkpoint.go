// Package checkpoint persists trained networks together with everything
// needed to use them again: the class index, the preprocessing transform and
// the architecture.
//
// A checkpoint file is laid out as
//
//	magic "LKCK" | version uint16 | header length uint32 | JSON header |
//	payload length uint32 | snappy-compressed payload | CRC-32 (IEEE) uint32
//
// with all integers little-endian. The payload is every parameter value as a
// little-endian float64, in parameter order. The CRC covers every preceding
// byte.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"time"

	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/nn"
	"github.com/Veraticus/lookalike/internal/preprocess"
	"github.com/golang/snappy"
	"github.com/spf13/afero"
)

// Version is the format version written by Encode.
const Version uint16 = 1

var magic = [4]byte{'L', 'K', 'C', 'K'}

// maxSection bounds header and payload sizes read from disk.
const maxSection = 1 << 30

// Checkpoint is a trained network and its metadata. It is written once at
// the end of training and only read afterwards.
type Checkpoint struct {
	CreatedAt time.Time
	RunID     string
	Classes   model.ClassIndex
	Params    []*nn.Param
	Transform preprocess.Transform
	Arch      nn.Arch
}

type paramHeader struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

type header struct {
	CreatedAt time.Time            `json:"created_at"`
	RunID     string               `json:"run_id,omitempty"`
	Classes   model.ClassIndex     `json:"classes"`
	Params    []paramHeader        `json:"params"`
	Transform preprocess.Transform `json:"transform"`
	Arch      nn.Arch              `json:"arch"`
}

// New captures net. The class index must size the network's output head.
func New(net *nn.Network, classes model.ClassIndex, transform preprocess.Transform, runID string) (*Checkpoint, error) {
	arch := net.Arch()
	if classes.Len() != arch.Classes {
		return nil, &model.ClassMismatchError{
			Context:  fmt.Sprintf("network has %d outputs", arch.Classes),
			Expected: classes.Names(),
		}
	}

	params := make([]*nn.Param, len(net.Params()))
	for i, p := range net.Params() {
		data := make([]float64, len(p.Data))
		copy(data, p.Data)
		params[i] = &nn.Param{Name: p.Name, Rows: p.Rows, Cols: p.Cols, Data: data}
	}

	return &Checkpoint{
		CreatedAt: time.Now().UTC(),
		RunID:     runID,
		Classes:   classes,
		Transform: transform,
		Arch:      arch,
		Params:    params,
	}, nil
}

// Network rebuilds the network from the stored weights.
func (c *Checkpoint) Network() (*nn.Network, error) {
	if c.Classes.Len() != c.Arch.Classes {
		return nil, &model.ClassMismatchError{
			Context:  fmt.Sprintf("checkpoint head has %d outputs", c.Arch.Classes),
			Expected: c.Classes.Names(),
		}
	}
	net, err := nn.FromParams(c.Arch, c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild network: %w", err)
	}
	return net, nil
}

// VerifyClasses checks a caller-supplied class index against the one the
// network was trained with.
func (c *Checkpoint) VerifyClasses(classes model.ClassIndex) error {
	return model.CheckClasses("checkpoint", c.Classes, classes)
}

// Encode writes c to w.
func Encode(w io.Writer, c *Checkpoint) error {
	h := header{
		CreatedAt: c.CreatedAt,
		RunID:     c.RunID,
		Classes:   c.Classes,
		Transform: c.Transform,
		Arch:      c.Arch,
		Params:    make([]paramHeader, len(c.Params)),
	}
	total := 0
	for i, p := range c.Params {
		h.Params[i] = paramHeader{Name: p.Name, Rows: p.Rows, Cols: p.Cols}
		total += len(p.Data)
	}

	headerBytes, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint header: %w", err)
	}

	raw := make([]byte, 0, total*8)
	for _, p := range c.Params {
		for _, v := range p.Data {
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(v))
		}
	}
	payload := snappy.Encode(nil, raw)

	crc := crc32.NewIEEE()
	out := io.MultiWriter(w, crc)

	var buf bytes.Buffer
	buf.Write(magic[:])
	_ = binary.Write(&buf, binary.LittleEndian, Version)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(headerBytes)))
	buf.Write(headerBytes)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)

	if _, err := out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, crc.Sum32()); err != nil {
		return fmt.Errorf("failed to write checkpoint checksum: %w", err)
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{common.ErrCorruptCheckpoint}, args...)...)
}

// Decode reads a checkpoint written by Encode. Any structural problem is
// reported as common.ErrCorruptCheckpoint.
func Decode(r io.Reader) (*Checkpoint, error) {
	crc := crc32.NewIEEE()
	tr := io.TeeReader(r, crc)

	var gotMagic [4]byte
	if _, err := io.ReadFull(tr, gotMagic[:]); err != nil {
		return nil, corrupt("reading magic: %v", err)
	}
	if gotMagic != magic {
		return nil, corrupt("not a checkpoint file")
	}

	var version uint16
	if err := binary.Read(tr, binary.LittleEndian, &version); err != nil {
		return nil, corrupt("reading version: %v", err)
	}
	if version != Version {
		return nil, corrupt("unsupported version %d", version)
	}

	headerBytes, err := readSection(tr, "header")
	if err != nil {
		return nil, err
	}
	payload, err := readSection(tr, "payload")
	if err != nil {
		return nil, err
	}

	var want uint32
	if err := binary.Read(r, binary.LittleEndian, &want); err != nil {
		return nil, corrupt("reading checksum: %v", err)
	}
	if got := crc.Sum32(); got != want {
		return nil, corrupt("checksum mismatch: stored %08x, computed %08x", want, got)
	}

	var h header
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return nil, corrupt("parsing header: %v", err)
	}

	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, corrupt("decompressing payload: %v", err)
	}

	total := 0
	for _, p := range h.Params {
		if p.Rows < 0 || p.Cols < 0 {
			return nil, corrupt("negative shape for %s", p.Name)
		}
		total += p.Rows * p.Cols
	}
	if len(raw) != total*8 {
		return nil, corrupt("payload holds %d bytes, header describes %d values", len(raw), total)
	}

	params := make([]*nn.Param, len(h.Params))
	offset := 0
	for i, p := range h.Params {
		data := make([]float64, p.Rows*p.Cols)
		for j := range data {
			data[j] = math.Float64frombits(binary.LittleEndian.Uint64(raw[offset:]))
			offset += 8
		}
		params[i] = &nn.Param{Name: p.Name, Rows: p.Rows, Cols: p.Cols, Data: data}
	}

	return &Checkpoint{
		CreatedAt: h.CreatedAt,
		RunID:     h.RunID,
		Classes:   h.Classes,
		Transform: h.Transform,
		Arch:      h.Arch,
		Params:    params,
	}, nil
}

func readSection(r io.Reader, name string) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, corrupt("reading %s length: %v", name, err)
	}
	if n > maxSection {
		return nil, corrupt("%s length %d too large", name, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, corrupt("reading %s: %v", name, err)
	}
	return data, nil
}

// Save writes c to path, replacing any existing file atomically.
func Save(afs afero.Fs, path string, c *Checkpoint) error {
	err := common.WriteFileAtomic(afs, path, 0o600, func(w io.Writer) error {
		return Encode(w, c)
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint at path. A missing file is reported as
// common.ErrMissingResource.
func Load(afs afero.Fs, path string) (*Checkpoint, error) {
	f, err := afs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: checkpoint %s", common.ErrMissingResource, path)
		}
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	c, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", path, err)
	}
	return c, nil
}

// Size returns the encoded size of the checkpoint file at path.
func Size(afs afero.Fs, path string) (int64, error) {
	info, err := afs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
