package vindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Index payload layout (v1):
//
//	0..7   magic "FOLIOVEC"
//	8..15  dim  (uint64, little endian)
//	16..23 rows (uint64, little endian)
//	24..   rows*dim float32, little endian, row-major
const headerSize = 24

var magic = [8]byte{'F', 'O', 'L', 'I', 'O', 'V', 'E', 'C'}

// maxLine bounds a single chunk line in the JSONL payload.
const maxLine = 64 << 20

// SerializePair encodes the index rows and the chunk list. The two payloads
// must be stored and loaded together.
func (x *Index) SerializePair() (indexBytes, chunkBytes []byte, err error) {
	var ib bytes.Buffer
	ib.Grow(headerSize + len(x.rows)*4)
	ib.Write(magic[:])
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(x.dim))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(len(x.chunks)))
	ib.Write(hdr[:])
	if err := binary.Write(&ib, binary.LittleEndian, x.rows); err != nil {
		return nil, nil, fmt.Errorf("cannot encode vectors: %w", err)
	}

	var cb bytes.Buffer
	bw := bufio.NewWriter(&cb)
	for _, c := range x.chunks {
		line, err := json.Marshal(c)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot encode chunk %s: %w", c.ID, err)
		}
		if _, err := bw.Write(line); err != nil {
			return nil, nil, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return nil, nil, err
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, nil, err
	}
	return ib.Bytes(), cb.Bytes(), nil
}

// DeserializePair rebuilds an index from payloads written by SerializePair.
// It fails with ErrStructuralCorruption when the header, the payload size or
// the chunk count disagree; neither side is truncated to fit the other.
func DeserializePair(indexBytes, chunkBytes []byte) (*Index, error) {
	if len(indexBytes) < headerSize {
		return nil, fmt.Errorf("%w: index payload is %d bytes, shorter than header", ErrStructuralCorruption, len(indexBytes))
	}
	if !bytes.Equal(indexBytes[:8], magic[:]) {
		return nil, fmt.Errorf("%w: bad index magic %q", ErrStructuralCorruption, indexBytes[:8])
	}
	dim := binary.LittleEndian.Uint64(indexBytes[8:16])
	rows := binary.LittleEndian.Uint64(indexBytes[16:24])
	if dim == 0 || dim > 1<<20 {
		return nil, fmt.Errorf("%w: invalid dim %d", ErrStructuralCorruption, dim)
	}
	body := indexBytes[headerSize:]
	if rows > uint64(len(body)) || uint64(len(body))%4 != 0 || uint64(len(body))/4 != rows*dim {
		return nil, fmt.Errorf("%w: vector payload size %d does not match rows=%d dim=%d", ErrStructuralCorruption, len(body), rows, dim)
	}

	vecs := make([]float32, rows*dim)
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, vecs); err != nil {
		return nil, fmt.Errorf("%w: cannot decode vectors: %v", ErrStructuralCorruption, err)
	}

	chunks, err := decodeChunks(chunkBytes)
	if err != nil {
		return nil, err
	}
	if uint64(len(chunks)) != rows {
		return nil, fmt.Errorf("%w: %d chunks for %d index rows", ErrStructuralCorruption, len(chunks), rows)
	}
	return &Index{dim: int(dim), rows: vecs, chunks: chunks}, nil
}

func decodeChunks(b []byte) ([]Chunk, error) {
	var out []Chunk
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: invalid chunk JSONL at line %d: %v", ErrStructuralCorruption, line, err)
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: cannot read chunk list: %v", ErrStructuralCorruption, err)
	}
	return out, nil
}
