package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// On-disk layout, little endian:
//
//	magic "SMVI" | version u32 | dim u32 | count u64 | count x (id i64, dim x f32)
var indexMagic = [4]byte{'S', 'M', 'V', 'I'}

const (
	indexVersion uint32 = 1
	headerSize          = 20
)

type indexHeader struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint64
}

// writeIndexFile replaces path with a new snapshot. The snapshot is written to a
// sibling temp file and renamed into place so readers never see a torn file.
func writeIndexFile(path string, dim int, ids []int64, vectors [][]float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	hdr := indexHeader{Magic: indexMagic, Version: indexVersion, Dim: uint32(dim), Count: uint64(len(ids))}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	buf := make([]byte, 8+dim*4)
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[:8], uint64(id))
		putFloat32s(buf[8:], vectors[i])
		if _, err := w.Write(buf); err != nil {
			tmp.Close()
			return fmt.Errorf("write entry %d: %w", id, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// readIndexFile loads a snapshot written by writeIndexFile. The header is
// checked against dim and the file size before any entry is allocated.
func readIndexFile(path string, dim int) ([]int64, [][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat index file: %w", err)
	}

	r := bufio.NewReader(f)
	var hdr indexHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: read header: %v", ErrCorrupt, path, err)
	}
	if hdr.Magic != indexMagic {
		return nil, nil, fmt.Errorf("%w: %s is not a vector index file", ErrCorrupt, path)
	}
	if hdr.Version != indexVersion {
		return nil, nil, fmt.Errorf("unsupported index version %d", hdr.Version)
	}
	if int64(hdr.Dim) != int64(dim) {
		return nil, nil, fmt.Errorf("%w: %s has dimension %d, expected %d", ErrConfig, path, hdr.Dim, dim)
	}
	entrySize := uint64(8 + 4*dim)
	body := uint64(info.Size() - headerSize)
	if info.Size() < headerSize || body%entrySize != 0 || body/entrySize != hdr.Count {
		return nil, nil, fmt.Errorf("%w: %s declares %d entries but holds %d bytes of data", ErrCorrupt, path, hdr.Count, info.Size()-headerSize)
	}

	ids := make([]int64, 0, hdr.Count)
	vectors := make([][]float32, 0, hdr.Count)
	buf := make([]byte, entrySize)
	for i := uint64(0); i < hdr.Count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, nil, fmt.Errorf("%w: %s truncated at entry %d of %d", ErrCorrupt, path, i, hdr.Count)
			}
			return nil, nil, fmt.Errorf("read entry: %w", err)
		}
		ids = append(ids, int64(binary.LittleEndian.Uint64(buf[:8])))
		vectors = append(vectors, getFloat32s(buf[8:], dim))
	}
	return ids, vectors, nil
}

func putFloat32s(dst []byte, v []float32) {
	for i, x := range v {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(x))
	}
}

func getFloat32s(src []byte, dim int) []float32 {
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return out
}
