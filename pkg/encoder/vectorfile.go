package encoder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Precomputed vector archive: a compact binary file holding two parallel
// arrays (agent ids and float32 vectors) so agent embeddings survive
// restarts without re-encoding.
//
// Layout (little endian):
//
//	magic   [4]byte  "CVF1"
//	count   uint32
//	dim     uint32
//	count × { idLen uint16, id [idLen]byte }
//	count × dim × float32
const vectorFileMagic = "CVF1"

// maxArchiveAgents guards against corrupt headers allocating huge buffers.
const maxArchiveAgents = 1 << 20

// ErrMalformedVectorFile indicates the archive failed validation.
var ErrMalformedVectorFile = errors.New("encoder: malformed vector archive")

// LoadVectorFile reads a precomputed vector archive and validates that every
// vector matches expectedDim. Pass expectedDim <= 0 to accept the file's dim.
func LoadVectorFile(path string, expectedDim int) (map[string]Vector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("encoder: open vector archive: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readVectorArchive(bufio.NewReader(f), expectedDim)
}

func readVectorArchive(r io.Reader, expectedDim int) (map[string]Vector, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrMalformedVectorFile, err)
	}
	if string(magic[:]) != vectorFileMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformedVectorFile, magic)
	}

	var count, dim uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: count: %v", ErrMalformedVectorFile, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("%w: dim: %v", ErrMalformedVectorFile, err)
	}
	if count > maxArchiveAgents {
		return nil, fmt.Errorf("%w: implausible agent count %d", ErrMalformedVectorFile, count)
	}
	if expectedDim > 0 && int(dim) != expectedDim {
		return nil, fmt.Errorf("%w: archive dim %d, encoder dim %d", ErrDimensionMismatch, dim, expectedDim)
	}

	ids := make([]string, count)
	for i := range ids {
		var idLen uint16
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, fmt.Errorf("%w: id length: %v", ErrMalformedVectorFile, err)
		}
		buf := make([]byte, idLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: id bytes: %v", ErrMalformedVectorFile, err)
		}
		ids[i] = string(buf)
	}

	vectors := make(map[string]Vector, count)
	raw := make([]byte, int(dim)*4)
	for i := range ids {
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", ErrMalformedVectorFile, i, err)
		}
		v := make(Vector, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
		}
		vectors[ids[i]] = v
	}
	return vectors, nil
}

// WriteVectorFile writes a precomputed vector archive. Every vector must have
// the same dimension. Used by warm-up tooling and tests.
func WriteVectorFile(path string, vectors map[string]Vector) error {
	dim := -1
	ids := make([]string, 0, len(vectors))
	for id, v := range vectors {
		if len(id) > math.MaxUint16 {
			return fmt.Errorf("%w: agent id of %d bytes exceeds the format limit", ErrMalformedVectorFile, len(id))
		}
		if dim == -1 {
			dim = len(v)
		} else if len(v) != dim {
			return fmt.Errorf("%w: agent %s has dim %d, expected %d", ErrDimensionMismatch, id, len(v), dim)
		}
		ids = append(ids, id)
	}
	if dim <= 0 {
		return fmt.Errorf("encoder: nothing to write")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("encoder: create vector archive: %w", err)
	}
	w := bufio.NewWriter(f)

	write := func(v any) error { return binary.Write(w, binary.LittleEndian, v) }

	if _, err := w.WriteString(vectorFileMagic); err != nil {
		_ = f.Close()
		return err
	}
	if err := write(uint32(len(ids))); err != nil {
		_ = f.Close()
		return err
	}
	if err := write(uint32(dim)); err != nil {
		_ = f.Close()
		return err
	}
	for _, id := range ids {
		if err := write(uint16(len(id))); err != nil {
			_ = f.Close()
			return err
		}
		if _, err := w.WriteString(id); err != nil {
			_ = f.Close()
			return err
		}
	}
	for _, id := range ids {
		for _, x := range vectors[id] {
			if err := write(math.Float32bits(x)); err != nil {
				_ = f.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
