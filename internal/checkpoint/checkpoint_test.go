package checkpoint

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/nn"
	"github.com/Veraticus/lookalike/internal/preprocess"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCheckpoint(t *testing.T) (*Checkpoint, *nn.Network) {
	t.Helper()
	classes, err := model.NewClassIndex([]string{"cats", "dogs"})
	require.NoError(t, err)
	net, err := nn.New(nn.Arch{InputSize: 8, InChannels: 3, Filters: []int{2, 3}, Classes: 2}, 42)
	require.NoError(t, err)
	ck, err := New(net, classes, preprocess.Default(8), "run-1")
	require.NoError(t, err)
	return ck, net
}

func TestEncodeDecode(t *testing.T) {
	ck, net := testCheckpoint(t)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, ck))

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, "run-1", decoded.RunID)
	assert.True(t, ck.Classes.Equal(decoded.Classes))
	assert.Equal(t, ck.Transform, decoded.Transform)
	assert.Equal(t, ck.Arch, decoded.Arch)
	assert.True(t, ck.CreatedAt.Equal(decoded.CreatedAt))
	require.Len(t, decoded.Params, len(net.Params()))
	for i, p := range net.Params() {
		assert.Equal(t, p.Name, decoded.Params[i].Name)
		assert.Equal(t, p.Data, decoded.Params[i].Data)
	}

	rebuilt, err := decoded.Network()
	require.NoError(t, err)
	x := make([]float64, rebuilt.Arch().InputLen())
	for i := range x {
		x[i] = float64(i%7) / 7
	}
	want, err := net.Logits(x)
	require.NoError(t, err)
	got, err := rebuilt.Logits(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNew_CopiesWeights(t *testing.T) {
	ck, net := testCheckpoint(t)
	before := ck.Params[0].Data[0]
	net.Params()[0].Data[0] += 1
	assert.Equal(t, before, ck.Params[0].Data[0])
}

func TestNew_ClassCountMismatch(t *testing.T) {
	classes, err := model.NewClassIndex([]string{"a", "b", "c"})
	require.NoError(t, err)
	net, err := nn.New(nn.Arch{InputSize: 4, InChannels: 3, Filters: []int{2}, Classes: 2}, 1)
	require.NoError(t, err)

	_, err = New(net, classes, preprocess.Default(4), "")
	assert.True(t, errors.Is(err, common.ErrClassMismatch))
}

func TestDecode_Corrupt(t *testing.T) {
	ck, _ := testCheckpoint(t)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, ck))
	good := buf.Bytes()

	flipped := append([]byte(nil), good...)
	flipped[len(flipped)/2] ^= 0xff

	wrongVersion := append([]byte(nil), good...)
	wrongVersion[4] = 9

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "bad magic", data: []byte("PK\x03\x04 not a checkpoint")},
		{name: "truncated", data: good[:len(good)-10]},
		{name: "bit flip", data: flipped},
		{name: "wrong version", data: wrongVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrCorruptCheckpoint), "got %v", err)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	ck, _ := testCheckpoint(t)

	require.NoError(t, Save(fs, "/models/model.ckpt", ck))

	loaded, err := Load(fs, "/models/model.ckpt")
	require.NoError(t, err)
	assert.True(t, ck.Classes.Equal(loaded.Classes))

	size, err := Size(fs, "/models/model.ckpt")
	require.NoError(t, err)
	assert.Positive(t, size)

	entries, err := afero.ReadDir(fs, "/models")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/nope.ckpt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrMissingResource))
}

func TestLoad_CorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/model.ckpt", []byte("garbage"), 0o600))

	_, err := Load(fs, "/model.ckpt")
	assert.True(t, errors.Is(err, common.ErrCorruptCheckpoint))
}

func TestVerifyClasses(t *testing.T) {
	ck, _ := testCheckpoint(t)

	same, err := model.NewClassIndex([]string{"dogs", "cats"})
	require.NoError(t, err)
	assert.NoError(t, ck.VerifyClasses(same))

	other, err := model.NewClassIndex([]string{"cats", "wolves"})
	require.NoError(t, err)
	err = ck.VerifyClasses(other)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrClassMismatch))

	var mismatch *model.ClassMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, []string{"cats", "dogs"}, mismatch.Expected)
	assert.Equal(t, []string{"cats", "wolves"}, mismatch.Actual)
}
