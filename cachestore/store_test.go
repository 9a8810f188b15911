package cachestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/compress"
	"github.com/psfkit/psfkit/conf"
	"github.com/psfkit/psfkit/endian"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/fit"
	"github.com/psfkit/psfkit/gridmodel"
)

func testSnapshot() conf.Snapshot {
	return conf.Snapshot{
		Filter:    "F444W",
		ImageMask: "MASK430R",
		Pupil:     "CIRCLYOT",
		WaveMin:   3.8,
		WaveMax:   5.0,
	}.Normalize()
}

func testCube(deg, h, w int, seed float64) *fit.Cube {
	c := fit.NewCube(deg, basis.Legendre, basis.Domain{Lo: 3.8, Hi: 5.0}, h, w)
	for i := range c.Planes.Data {
		c.Planes.Data[i] = seed + float64(i)*0.01
	}

	return c
}

func TestFileNameDeterministic(t *testing.T) {
	cfg := testSnapshot()
	name := FileName(cfg, AxisWave)
	require.Equal(t, name, FileName(cfg, AxisWave))
	require.Contains(t, name, "f444w-mask430r-circlyot_")
	require.Contains(t, name, "_wave.pcc")

	// Any key field flips the hash.
	mod := cfg
	mod.JitterSigma = 7
	require.NotEqual(t, KeyHash(cfg), KeyHash(mod))

	mod = cfg
	mod.Degree++
	require.NotEqual(t, KeyHash(cfg), KeyHash(mod))

	require.NotEqual(t, FileName(cfg, AxisWave), FileName(cfg, AxisDrift))
}

func TestKeyHashSeparatesFieldPositions(t *testing.T) {
	cfg := testSnapshot()

	moved := cfg
	moved.FieldPos = conf.Coord{X: 120.5, Y: -80.25}
	require.NotEqual(t, KeyHash(cfg), KeyHash(moved))
	require.NotEqual(t, FileName(cfg, AxisWave), FileName(moved, AxisWave))

	framed := cfg
	framed.FieldFrame = conf.FrameSci
	require.NotEqual(t, KeyHash(cfg), KeyHash(framed))
}

func TestKeyHashSeparatesMaskGeometries(t *testing.T) {
	cfg := testSnapshot()
	cfg.Geometry = conf.MaskGeometry{
		OffsetsX:   []float64{0, 0.1, 0.25},
		OffsetsY:   []float64{0, 0.1},
		SymmetricX: true,
	}

	nodes := cfg
	nodes.Geometry.OffsetsX = []float64{0, 0.1, 0.3}
	require.NotEqual(t, KeyHash(cfg), KeyHash(nodes))

	sym := cfg
	sym.Geometry.SymmetricX = false
	require.NotEqual(t, KeyHash(cfg), KeyHash(sym))

	rot := cfg
	rot.Geometry.FrameRotation = 4.5
	require.NotEqual(t, KeyHash(cfg), KeyHash(rot))
}

func TestSaveLoadCubeRoundTrip(t *testing.T) {
	for _, ctype := range []compress.Type{compress.None, compress.Zstd, compress.S2, compress.LZ4} {
		t.Run(ctype.String(), func(t *testing.T) {
			store, err := NewStore(t.TempDir(), WithCompression(ctype))
			require.NoError(t, err)

			cfg := testSnapshot()
			cube := testCube(3, 8, 8, 0.5)
			require.NoError(t, store.SaveCube(cfg, AxisWave, cube))

			got, err := store.LoadCube(cfg, AxisWave, 8, 8)
			require.NoError(t, err)
			require.Equal(t, cube.Degree, got.Degree)
			require.Equal(t, cube.Kind, got.Kind)
			require.Equal(t, cube.Domain, got.Domain)
			require.Equal(t, cube.Planes.Data, got.Planes.Data)
		})
	}
}

func TestLoadCubeSurvivesProcessRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := testSnapshot()
	cube := testCube(2, 6, 6, 1)

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveCube(cfg, AxisDrift, cube))

	// A fresh store has an empty memo map and must read from disk.
	fresh, err := NewStore(dir)
	require.NoError(t, err)
	got, err := fresh.LoadCube(cfg, AxisDrift, 6, 6)
	require.NoError(t, err)
	require.Equal(t, cube.Planes.Data, got.Planes.Data)
}

func TestLoadCubeBigEndianEntry(t *testing.T) {
	dir := t.TempDir()
	cfg := testSnapshot()
	cube := testCube(1, 4, 4, 2)

	writer, err := NewStore(dir, WithEngine(endian.Big()))
	require.NoError(t, err)
	require.NoError(t, writer.SaveCube(cfg, AxisWave, cube))

	reader, err := NewStore(dir)
	require.NoError(t, err)
	got, err := reader.LoadCube(cfg, AxisWave, 4, 4)
	require.NoError(t, err)
	require.Equal(t, cube.Planes.Data, got.Planes.Data)
}

func TestLoadCubePadCropRecovery(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := testSnapshot()
	// Legacy entry one pixel larger than the current configuration.
	cube := testCube(1, 7, 7, 0.1)
	require.NoError(t, store.SaveCube(cfg, AxisWave, cube))

	got, err := store.LoadCube(cfg, AxisWave, 6, 6)
	require.NoError(t, err)
	require.Equal(t, 6, got.H())
	require.Equal(t, 6, got.W())
}

func TestLoadCubeMiss(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.LoadCube(testSnapshot(), AxisWave, 0, 0)
	require.ErrorIs(t, err, errs.ErrCacheMiss)
}

func TestLoadCubeKeyMismatch(t *testing.T) {
	dir := t.TempDir()
	cfg := testSnapshot()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveCube(cfg, AxisWave, testCube(1, 4, 4, 0)))

	// Same file name forged under a different configuration.
	other := cfg
	other.WFEMapID = "opd-2029-01"
	src := filepath.Join(dir, FileName(cfg, AxisWave))
	dst := filepath.Join(dir, FileName(other, AxisWave))
	require.NoError(t, os.Rename(src, dst))

	fresh, err := NewStore(dir)
	require.NoError(t, err)
	_, err = fresh.LoadCube(other, AxisWave, 0, 0)
	require.ErrorIs(t, err, errs.ErrKeyMismatch)
}

func TestLoadCorruptPayload(t *testing.T) {
	dir := t.TempDir()
	cfg := testSnapshot()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveCube(cfg, AxisWave, testCube(1, 4, 4, 0)))

	path := filepath.Join(dir, FileName(cfg, AxisWave))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	fresh, err := NewStore(dir)
	require.NoError(t, err)
	_, err = fresh.LoadCube(cfg, AxisWave, 0, 0)
	require.ErrorIs(t, err, errs.ErrPayloadCorrupt)
}

func TestLoadTruncatedHeader(t *testing.T) {
	dir := t.TempDir()
	cfg := testSnapshot()
	path := filepath.Join(dir, FileName(cfg, AxisWave))
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))

	store, err := NewStore(dir)
	require.NoError(t, err)
	_, err = store.LoadCube(cfg, AxisWave, 0, 0)
	require.ErrorIs(t, err, errs.ErrInvalidHeaderSize)
}

func TestLoadBadMagic(t *testing.T) {
	dir := t.TempDir()
	cfg := testSnapshot()
	path := filepath.Join(dir, FileName(cfg, AxisWave))
	require.NoError(t, os.WriteFile(path, make([]byte, 80), 0o644))

	store, err := NewStore(dir)
	require.NoError(t, err)
	_, err = store.LoadCube(cfg, AxisWave, 0, 0)
	require.ErrorIs(t, err, errs.ErrInvalidMagicNumber)
}

func TestSaveLoadGridRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), WithClock(func() time.Time {
		return time.Unix(1700000000, 0)
	}))
	require.NoError(t, err)

	cfg := testSnapshot()
	xs := []float64{-1, 0, 1}
	ys := []float64{-2, 0, 2}
	nodes := make([]*fit.Cube, 9)
	for i := range nodes {
		nodes[i] = testCube(2, 5, 5, float64(i))
	}
	grid, err := gridmodel.NewResidualGrid(xs, ys, nodes)
	require.NoError(t, err)
	require.NoError(t, store.SaveGrid(cfg, AxisMask, grid))

	fresh, err := NewStore(store.Dir())
	require.NoError(t, err)
	got, err := fresh.LoadGrid(cfg, AxisMask, 5, 5)
	require.NoError(t, err)
	require.Equal(t, xs, got.X)
	require.Equal(t, ys, got.Y)
	require.Len(t, got.Nodes, 9)
	for i := range nodes {
		require.Equal(t, nodes[i].Planes.Data, got.Nodes[i].Planes.Data, "node %d", i)
	}
}

func TestLoadMemoizesEntries(t *testing.T) {
	dir := t.TempDir()
	cfg := testSnapshot()
	cube := testCube(1, 4, 4, 3)

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveCube(cfg, AxisWave, cube))

	// Deleting the file does not evict the in-memory entry.
	require.NoError(t, os.Remove(filepath.Join(dir, FileName(cfg, AxisWave))))
	got, err := store.LoadCube(cfg, AxisWave, 4, 4)
	require.NoError(t, err)
	require.Equal(t, cube.Planes.Data, got.Planes.Data)

	// Remove evicts both the file and the memo.
	require.NoError(t, store.Remove(cfg, AxisWave))
	_, err = store.LoadCube(cfg, AxisWave, 4, 4)
	require.ErrorIs(t, err, errs.ErrCacheMiss)
}

func TestHeaderVersion1Readable(t *testing.T) {
	h := &Header{
		Version:     Version1,
		Basis:       basis.Legendre,
		Compression: compress.None,
		Degree:      3,
		Axis:        AxisWave,
		H:           8,
		W:           8,
		DomainLo:    3.8,
		DomainHi:    5.0,
		ConfigHash:  0xfeedbeef,
		CreatedAt:   1700000000,
	}

	got, err := parseHeader(h.marshal(nil))
	require.NoError(t, err)
	require.Equal(t, Version1, got.Version)
	require.Zero(t, got.FineRadius)
	require.Equal(t, h.Degree, got.Degree)
	require.Equal(t, h.DomainHi, got.DomainHi)
	require.Equal(t, h.ConfigHash, got.ConfigHash)
}

func TestHeaderUnsupportedVersion(t *testing.T) {
	h := &Header{
		Version:     Version2,
		Basis:       basis.Power,
		Compression: compress.None,
		Axis:        AxisWave,
	}
	buf := h.marshal(nil)
	buf[4] = 9

	_, err := parseHeader(buf)
	require.ErrorIs(t, err, errs.ErrUnsupportedVersion)
}
