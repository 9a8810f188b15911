package cachestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/compress"
	"github.com/psfkit/psfkit/conf"
	"github.com/psfkit/psfkit/endian"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/fit"
	"github.com/psfkit/psfkit/gridmodel"
	"github.com/psfkit/psfkit/internal/options"
	"github.com/psfkit/psfkit/tensor"
)

// Store reads and writes cache entries in one directory. Loaded entries
// are memoized in memory for the store's lifetime, so repeated loads of
// the same model hit the map, not the disk.
//
// Concurrent builders targeting the same key are not coordinated; callers
// serialize builds per key.
type Store struct {
	dir    string
	ctype  compress.Type
	codec  compress.Codec
	engine endian.Engine
	logger log.Interface
	now    func() time.Time

	mu  sync.Mutex
	mem map[string]*entry
}

type entry struct {
	header *Header
	axis1  []float64
	axis2  []float64
	tensor []float64
}

// Option configures a Store.
type Option = options.Option[*Store]

// WithCompression selects the payload codec. Default is Zstd.
func WithCompression(t compress.Type) Option {
	return options.New(func(s *Store) error {
		codec, err := compress.ForType(t)
		if err != nil {
			return err
		}
		s.ctype = t
		s.codec = codec

		return nil
	})
}

// WithEngine selects the byte order for new entries. Default is
// little-endian; entries of either order load regardless.
func WithEngine(e endian.Engine) Option {
	return options.NoError(func(s *Store) {
		s.engine = e
	})
}

// WithLogger routes cache hit/miss logging.
func WithLogger(l log.Interface) Option {
	return options.NoError(func(s *Store) {
		s.logger = l
	})
}

// WithClock overrides the build timestamp source.
func WithClock(now func() time.Time) Option {
	return options.NoError(func(s *Store) {
		s.now = now
	})
}

// NewStore opens (creating if needed) a cache directory.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		ctype:  compress.Zstd,
		codec:  compress.NewZstdCodec(),
		engine: endian.Little(),
		logger: log.Log,
		now:    time.Now,
		mem:    make(map[string]*entry),
	}
	if err := options.Apply(s, opts...); err != nil {
		return nil, err
	}

	return s, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// SaveCube persists a coefficient cube under the snapshot's key and axis.
// The write is atomic: a temp file in the cache directory is synced and
// renamed over the final name, so readers never observe a partial entry.
func (s *Store) SaveCube(cfg conf.Snapshot, axis ModelAxis, cube *fit.Cube) error {
	h := s.newHeader(cfg, axis, cube.Degree, cube.Kind, cube.Domain, cube.H(), cube.W())

	return s.save(cfg, axis, h, nil, nil, cube.Planes.Data)
}

// LoadCube loads the cube stored for the snapshot and axis.
//
// The entry's config hash must match the snapshot (errs.ErrKeyMismatch
// otherwise). When the stored pixel dimensions differ from wantH×wantW by a
// pure size difference, each plane is centered pad/cropped to the expected
// size; wantH/wantW of 0 accept the stored size as-is.
//
// Returns errs.ErrCacheMiss when no entry exists.
func (s *Store) LoadCube(cfg conf.Snapshot, axis ModelAxis, wantH, wantW int) (*fit.Cube, error) {
	ent, err := s.load(cfg, axis)
	if err != nil {
		return nil, err
	}

	h := ent.header
	nplanes := int(h.Degree) + 1
	npix := int(h.H) * int(h.W)
	if len(ent.tensor) != nplanes*npix {
		return nil, fmt.Errorf("%w: tensor has %d values, want %d",
			errs.ErrPayloadCorrupt, len(ent.tensor), nplanes*npix)
	}

	data := make([]float64, len(ent.tensor))
	copy(data, ent.tensor)
	st := &tensor.Stack{N: nplanes, H: int(h.H), W: int(h.W), Data: data}
	if wantH > 0 && wantW > 0 && (int(h.H) != wantH || int(h.W) != wantW) {
		st = tensor.PadOrCropStack(st, wantH, wantW)
	}

	cube := &fit.Cube{
		Degree: int(h.Degree),
		Kind:   h.Basis,
		Domain: basis.Domain{Lo: h.DomainLo, Hi: h.DomainHi},
		Planes: st,
	}

	return cube, nil
}

// SaveGrid persists a residual grid under the snapshot's key and axis.
// Node cubes are concatenated y-major into one tensor payload; the axis
// vectors are stored alongside.
func (s *Store) SaveGrid(cfg conf.Snapshot, axis ModelAxis, g *gridmodel.ResidualGrid) error {
	ref := g.Nodes[0]
	h := s.newHeader(cfg, axis, ref.Degree, ref.Kind, ref.Domain, ref.H(), ref.W())
	h.N1 = uint32(len(g.X))
	h.N2 = uint32(len(g.Y))

	tensorData := make([]float64, 0, len(g.Nodes)*len(ref.Planes.Data))
	for _, c := range g.Nodes {
		tensorData = append(tensorData, c.Planes.Data...)
	}

	return s.save(cfg, axis, h, g.X, g.Y, tensorData)
}

// LoadGrid loads the residual grid stored for the snapshot and axis,
// applying the same validation and pad/crop recovery as LoadCube to every
// node cube.
func (s *Store) LoadGrid(cfg conf.Snapshot, axis ModelAxis, wantH, wantW int) (*gridmodel.ResidualGrid, error) {
	ent, err := s.load(cfg, axis)
	if err != nil {
		return nil, err
	}

	h := ent.header
	nnodes := int(h.N1) * int(h.N2)
	if nnodes == 0 {
		return nil, fmt.Errorf("%w: entry has no grid axes", errs.ErrPayloadCorrupt)
	}
	nplanes := int(h.Degree) + 1
	per := nplanes * int(h.H) * int(h.W)
	if len(ent.tensor) != nnodes*per {
		return nil, fmt.Errorf("%w: tensor has %d values, want %d",
			errs.ErrPayloadCorrupt, len(ent.tensor), nnodes*per)
	}

	dom := basis.Domain{Lo: h.DomainLo, Hi: h.DomainHi}
	nodes := make([]*fit.Cube, nnodes)
	for i := range nodes {
		data := make([]float64, per)
		copy(data, ent.tensor[i*per:(i+1)*per])
		st := &tensor.Stack{N: nplanes, H: int(h.H), W: int(h.W), Data: data}
		if wantH > 0 && wantW > 0 && (int(h.H) != wantH || int(h.W) != wantW) {
			st = tensor.PadOrCropStack(st, wantH, wantW)
		}
		nodes[i] = &fit.Cube{Degree: nplanes - 1, Kind: h.Basis, Domain: dom, Planes: st}
	}

	x := make([]float64, len(ent.axis1))
	copy(x, ent.axis1)
	y := make([]float64, len(ent.axis2))
	copy(y, ent.axis2)

	return gridmodel.NewResidualGrid(x, y, nodes)
}

// Remove deletes the entry for the snapshot and axis from disk and memory.
// Removing a missing entry is not an error.
func (s *Store) Remove(cfg conf.Snapshot, axis ModelAxis) error {
	name := FileName(cfg, axis)

	s.mu.Lock()
	delete(s.mem, name)
	s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

func (s *Store) newHeader(cfg conf.Snapshot, axis ModelAxis, deg int, kind basis.Kind, dom basis.Domain, h, w int) *Header {
	return &Header{
		Version:     CurrentVersion,
		BigEndian:   s.engine == endian.Big(),
		Basis:       kind,
		Compression: s.ctype,
		Degree:      uint8(deg),
		Axis:        axis,
		H:           uint32(h),
		W:           uint32(w),
		DomainLo:    dom.Lo,
		DomainHi:    dom.Hi,
		ConfigHash:  KeyHash(cfg),
		CreatedAt:   s.now().Unix(),
		FineRadius:  cfg.Geometry.FineRadius,
	}
}

func (s *Store) save(cfg conf.Snapshot, axis ModelAxis, h *Header, axis1, axis2, tensorData []float64) error {
	p1, err := s.pack(axis1)
	if err != nil {
		return err
	}
	p2, err := s.pack(axis2)
	if err != nil {
		return err
	}
	pt, err := s.pack(tensorData)
	if err != nil {
		return err
	}
	h.Len1 = uint32(len(p1))
	h.Len2 = uint32(len(p2))
	h.LenT = uint32(len(pt))

	buf := make([]byte, 0, h.size()+len(p1)+len(p2)+len(pt))
	buf = h.marshal(buf)
	buf = append(buf, p1...)
	buf = append(buf, p2...)
	buf = append(buf, pt...)

	name := FileName(cfg, axis)
	if err := s.writeAtomic(name, buf); err != nil {
		return err
	}

	s.mu.Lock()
	s.mem[name] = &entry{header: h, axis1: axis1, axis2: axis2, tensor: tensorData}
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{
		"file":  name,
		"axis":  axis.String(),
		"bytes": len(buf),
	}).Debug("cache entry written")

	return nil
}

func (s *Store) pack(vs []float64) ([]byte, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	raw := endian.AppendFloat64Slice(s.engine, make([]byte, 0, len(vs)*8), vs)

	return s.codec.Compress(raw)
}

// writeAtomic writes to a temp file in the cache dir, syncs, and renames.
func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

func (s *Store) load(cfg conf.Snapshot, axis ModelAxis) (*entry, error) {
	name := FileName(cfg, axis)

	s.mu.Lock()
	ent, ok := s.mem[name]
	s.mu.Unlock()
	if ok {
		return ent, nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.WithField("file", name).Debug("cache miss")
			return nil, fmt.Errorf("%w: %s", errs.ErrCacheMiss, name)
		}

		return nil, err
	}

	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.ConfigHash != KeyHash(cfg) {
		return nil, fmt.Errorf("%w: entry hash %016x", errs.ErrKeyMismatch, h.ConfigHash)
	}
	if h.Axis != axis {
		return nil, fmt.Errorf("%w: entry is %s, want %s", errs.ErrKeyMismatch, h.Axis, axis)
	}

	body := data[h.size():]
	want := int(h.Len1) + int(h.Len2) + int(h.LenT)
	if len(body) != want {
		return nil, fmt.Errorf("%w: %d payload bytes, header says %d",
			errs.ErrPayloadCorrupt, len(body), want)
	}

	codec, err := compress.ForType(h.Compression)
	if err != nil {
		return nil, err
	}
	e := h.Engine()

	axis1, err := unpack(codec, e, body[:h.Len1], int(h.N1))
	if err != nil {
		return nil, err
	}
	axis2, err := unpack(codec, e, body[h.Len1:h.Len1+h.Len2], int(h.N2))
	if err != nil {
		return nil, err
	}
	tensorData, err := unpack(codec, e, body[h.Len1+h.Len2:], -1)
	if err != nil {
		return nil, err
	}

	ent = &entry{header: h, axis1: axis1, axis2: axis2, tensor: tensorData}

	s.mu.Lock()
	s.mem[name] = ent
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{
		"file": name,
		"axis": axis.String(),
	}).Debug("cache hit")

	return ent, nil
}

// unpack decompresses one payload section into float64 values. want < 0
// accepts any multiple of 8 bytes; otherwise the count must match.
func unpack(codec compress.Codec, e endian.Engine, data []byte, want int) ([]float64, error) {
	if len(data) == 0 {
		if want > 0 {
			return nil, fmt.Errorf("%w: empty payload, want %d values", errs.ErrPayloadCorrupt, want)
		}

		return nil, nil
	}

	raw, err := codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrPayloadCorrupt, err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("%w: %d raw bytes", errs.ErrPayloadCorrupt, len(raw))
	}
	n := len(raw) / 8
	if want >= 0 && n != want {
		return nil, fmt.Errorf("%w: %d values, want %d", errs.ErrPayloadCorrupt, n, want)
	}

	vs, _ := endian.Float64Slice(e, raw, n)

	return vs, nil
}
