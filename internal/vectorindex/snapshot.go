package vectorindex

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
	"google.golang.org/protobuf/encoding/protowire"
)

// Snapshot layout: magic header followed by a protobuf-wire message
//
//	1: dim    (varint)
//	2: count  (varint)
//	3: vector (bytes, packed fixed32), repeated in slot order
var magic = []byte("AIDX\x01")

const (
	fieldDim    protowire.Number = 1
	fieldCount  protowire.Number = 2
	fieldVector protowire.Number = 3
)

// Save writes the full index to path, replacing any previous snapshot
// atomically.
func Save(path string, x *Index) error {
	x.mu.RLock()
	buf := encode(x.dim, x.data)
	x.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot at path. A missing file yields an empty index of
// dim. A snapshot of another dimension or a corrupt file is an
// InitializationError.
func Load(path string, dim int) (*Index, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(dim), nil
		}
		return nil, &errdefs.InitializationError{Component: "vector index", Err: err}
	}

	gotDim, vectors, err := decode(data)
	if err != nil {
		return nil, &errdefs.InitializationError{Component: "vector index", Err: fmt.Errorf("%s: %w", path, err)}
	}
	if gotDim != dim {
		return nil, &errdefs.InitializationError{
			Component: "vector index",
			Err:       fmt.Errorf("snapshot dimension %d does not match configured %d", gotDim, dim),
		}
	}
	return &Index{dim: dim, data: vectors}, nil
}

func encode(dim int, data []float32) []byte {
	count := 0
	if dim > 0 {
		count = len(data) / dim
	}

	b := make([]byte, 0, len(magic)+16+len(data)*4+count*4)
	b = append(b, magic...)
	b = protowire.AppendTag(b, fieldDim, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(dim))
	b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(count))

	row := make([]byte, 0, dim*4)
	for i := 0; i < count; i++ {
		row = row[:0]
		for _, f := range data[i*dim : (i+1)*dim] {
			row = protowire.AppendFixed32(row, math.Float32bits(f))
		}
		b = protowire.AppendTag(b, fieldVector, protowire.BytesType)
		b = protowire.AppendBytes(b, row)
	}
	return b
}

func decode(b []byte) (int, []float32, error) {
	if !bytes.HasPrefix(b, magic) {
		return 0, nil, errors.New("not an index snapshot")
	}
	b = b[len(magic):]

	var (
		dim, count uint64
		data       []float32
		rows       uint64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldDim && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, nil, protowire.ParseError(n)
			}
			dim, b = v, b[n:]
		case num == fieldCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, nil, protowire.ParseError(n)
			}
			count, b = v, b[n:]
			data = make([]float32, 0, count*dim)
		case num == fieldVector && typ == protowire.BytesType:
			row, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, nil, protowire.ParseError(n)
			}
			b = b[n:]
			if uint64(len(row)) != dim*4 {
				return 0, nil, fmt.Errorf("vector %d has %d bytes, want %d", rows, len(row), dim*4)
			}
			for len(row) > 0 {
				v, n := protowire.ConsumeFixed32(row)
				if n < 0 {
					return 0, nil, protowire.ParseError(n)
				}
				data = append(data, math.Float32frombits(v))
				row = row[n:]
			}
			rows++
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}

	if rows != count {
		return 0, nil, fmt.Errorf("snapshot declares %d vectors, found %d", count, rows)
	}
	return int(dim), data, nil
}
