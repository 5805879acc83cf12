package safetensors

import (
	"context"
	"fmt"
	"math"
)

// RangeFetcher reads an inclusive byte range of a remote file.
type RangeFetcher interface {
	FetchRange(ctx context.Context, path string, start, end int64) ([]byte, error)
}

// FetchHeader reads the header of the remote safetensors file at path without
// touching tensor data. A single probe of MaxProbeSize bytes is issued first;
// a second request fetches the remainder only when the header is larger.
func FetchHeader(ctx context.Context, f RangeFetcher, path string) (*Header, error) {
	buf, err := f.FetchRange(ctx, path, 0, MaxProbeSize)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}

	size, err := ParseHeaderSize(buf)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	if size > MaxHeaderSize || size > math.MaxInt-SizePrefixLen {
		return nil, fmt.Errorf("%s: header length too large: %d bytes: %w", path, size, ErrInvalidHeader)
	}

	if start, end, ok := MissingRange(len(buf), size); ok {
		rest, err := f.FetchRange(ctx, path, start, end)
		if err != nil {
			return nil, fmt.Errorf("fetch header of %s: %w", path, err)
		}
		buf = Combine(buf, rest)
	}

	data, err := ExtractMetadata(buf, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	header, err := DecodeHeader(data)
	if err != nil {
		return nil, fmt.Errorf("decode header of %s: %w", path, err)
	}
	return header, nil
}
