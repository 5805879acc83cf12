package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// SizePrefixLen is the length of the little-endian header size that starts
	// every safetensors file.
	SizePrefixLen = 8

	// MaxProbeSize is the inclusive end offset of the first ranged read of a
	// file. Most headers fit within it, so one request is usually enough.
	MaxProbeSize = 200_000

	// MaxHeaderSize bounds the header length accepted from a remote file.
	MaxHeaderSize = 100 * 1024 * 1024

	metadataKey = "__metadata__"
)

var (
	// ErrShortBuffer is returned when a buffer ends before the bytes it should hold.
	ErrShortBuffer = errors.New("buffer too short")
	// ErrInvalidHeader is returned when the header JSON is not a safetensors header.
	ErrInvalidHeader = errors.New("invalid safetensors header")
)

// TensorInfo describes one tensor entry of a safetensors header.
type TensorInfo struct {
	Dtype       string    `json:"dtype"`
	Shape       []uint64  `json:"shape"`
	DataOffsets [2]uint64 `json:"data_offsets"`
}

// NumElements returns the product of the shape. A scalar (empty shape) has
// one element and any zero dimension yields zero. A product that does not fit
// in an int64 is an ErrInvalidHeader.
func (t TensorInfo) NumElements() (int64, error) {
	if slices.Contains(t.Shape, 0) {
		return 0, nil
	}
	n := uint64(1)
	for _, dim := range t.Shape {
		hi, lo := bits.Mul64(n, dim)
		if hi != 0 || lo > math.MaxInt64 {
			return 0, fmt.Errorf("%w: element count of shape %v overflows", ErrInvalidHeader, t.Shape)
		}
		n = lo
	}
	return int64(n), nil
}

// Tensors maps tensor names to their descriptors in header order.
type Tensors = orderedmap.OrderedMap[string, TensorInfo]

// NewTensors returns an empty Tensors map.
func NewTensors() *Tensors {
	return orderedmap.New[string, TensorInfo]()
}

// Header is the decoded JSON header of a safetensors file.
type Header struct {
	Tensors  *Tensors
	Metadata map[string]string
}

// ParseHeaderSize decodes the header length stored in the first eight bytes of b.
func ParseHeaderSize(b []byte) (uint64, error) {
	if len(b) < SizePrefixLen {
		return 0, fmt.Errorf("read header size: need %d bytes, got %d: %w", SizePrefixLen, len(b), ErrShortBuffer)
	}
	return binary.LittleEndian.Uint64(b[:SizePrefixLen]), nil
}

// MissingRange returns the inclusive byte range that still has to be fetched
// when only the first available bytes of a file with the given header size
// are in hand. ok is false when nothing is missing.
func MissingRange(available int, headerSize uint64) (start, end int64, ok bool) {
	total := SizePrefixLen + headerSize
	if available < 0 {
		available = 0
	}
	if uint64(available) >= total {
		return 0, 0, false
	}
	return int64(available), int64(total - 1), true
}

// Combine returns a new buffer holding a followed by b.
func Combine(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// ExtractMetadata returns the header JSON bytes [8, 8+size) of buf.
func ExtractMetadata(buf []byte, size uint64) ([]byte, error) {
	end := SizePrefixLen + size
	if uint64(len(buf)) < end || end < size {
		return nil, fmt.Errorf("extract header: need %d bytes, got %d: %w", end, len(buf), ErrShortBuffer)
	}
	return buf[SizePrefixLen:end], nil
}

// isTensorKey reports whether a top-level header key names a tensor.
func isTensorKey(key string) bool {
	return key != metadataKey
}

// DecodeHeader parses the JSON header of a safetensors file. Key order is
// preserved. Dtype tags are not validated here.
func DecodeHeader(data []byte) (*Header, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidHeader)
	}

	raw := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(trimmed, raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}

	header := &Header{Tensors: NewTensors()}
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		if !isTensorKey(pair.Key) {
			metadata, err := decodeMetadata(pair.Value)
			if err != nil {
				return nil, err
			}
			header.Metadata = metadata
			continue
		}

		var info TensorInfo
		if err := json.Unmarshal(pair.Value, &info); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %w", ErrInvalidHeader, pair.Key, err)
		}
		header.Tensors.Set(pair.Key, info)
	}
	return header, nil
}

func decodeMetadata(data json.RawMessage) (map[string]string, error) {
	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidHeader, metadataKey, err)
	}
	metadata := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			metadata[k] = s
			continue
		}
		metadata[k] = fmt.Sprintf("%v", v)
	}
	return metadata, nil
}

// EncodeHeader serializes tensors and metadata as a complete safetensors
// header: the size prefix followed by the JSON. Tensor data is not included.
func EncodeHeader(tensors *Tensors, metadata map[string]string) ([]byte, error) {
	var body bytes.Buffer
	body.WriteByte('{')
	first := true
	writeEntry := func(key string, value interface{}) error {
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		if !first {
			body.WriteByte(',')
		}
		first = false
		body.Write(k)
		body.WriteByte(':')
		body.Write(v)
		return nil
	}

	if metadata != nil {
		if err := writeEntry(metadataKey, metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	if tensors != nil {
		for pair := tensors.Oldest(); pair != nil; pair = pair.Next() {
			if err := writeEntry(pair.Key, pair.Value); err != nil {
				return nil, fmt.Errorf("encode tensor %q: %w", pair.Key, err)
			}
		}
	}
	body.WriteByte('}')

	out := make([]byte, SizePrefixLen, SizePrefixLen+body.Len())
	binary.LittleEndian.PutUint64(out, uint64(body.Len()))
	return append(out, body.Bytes()...), nil
}
