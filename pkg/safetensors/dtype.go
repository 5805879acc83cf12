package safetensors

import (
	"errors"
	"fmt"
)

// ErrUnknownDtype is matched by UnknownDtypeError via errors.Is.
var ErrUnknownDtype = errors.New("unknown dtype")

// UnknownDtypeError is returned when a tensor declares a dtype outside of the
// supported set.
type UnknownDtypeError struct {
	Tag string
}

func (e *UnknownDtypeError) Error() string {
	return fmt.Sprintf("dtype %q not handled", e.Tag)
}

// Is implements error matching for UnknownDtypeError
func (e *UnknownDtypeError) Is(target error) bool {
	return target == ErrUnknownDtype
}

// DType is a safetensors element type.
type DType uint8

const (
	F64 DType = iota + 1
	I64
	U64
	F32
	I32
	U32
	F16
	BF16
	I16
	U16
	F8_E5M2
	F8_E4M3
	I8
	U8
	// INT4, NF4, FP4 and FP4_E2M1 are packed two elements per byte.
	INT4
	NF4
	FP4
	FP4_E2M1
)

var (
	dtypeNames = [...]string{
		F64:      "F64",
		I64:      "I64",
		U64:      "U64",
		F32:      "F32",
		I32:      "I32",
		U32:      "U32",
		F16:      "F16",
		BF16:     "BF16",
		I16:      "I16",
		U16:      "U16",
		F8_E5M2:  "F8_E5M2",
		F8_E4M3:  "F8_E4M3",
		I8:       "I8",
		U8:       "U8",
		INT4:     "INT4",
		NF4:      "NF4",
		FP4:      "FP4",
		FP4_E2M1: "FP4_E2M1",
	}
	// Widths are kept in bits so that sub-byte types stay exact.
	dtypeBits = [...]int{
		F64:      64,
		I64:      64,
		U64:      64,
		F32:      32,
		I32:      32,
		U32:      32,
		F16:      16,
		BF16:     16,
		I16:      16,
		U16:      16,
		F8_E5M2:  8,
		F8_E4M3:  8,
		I8:       8,
		U8:       8,
		INT4:     4,
		NF4:      4,
		FP4:      4,
		FP4_E2M1: 4,
	}
	namesToDtype = func() map[string]DType {
		m := make(map[string]DType, len(dtypeNames))
		for dt, name := range dtypeNames {
			if name != "" {
				m[name] = DType(dt)
			}
		}
		return m
	}()
)

// ParseDType returns the DType named s. The match is exact and case-sensitive.
func ParseDType(s string) (DType, error) {
	dt, ok := namesToDtype[s]
	if !ok {
		return 0, &UnknownDtypeError{Tag: s}
	}
	return dt, nil
}

// Valid reports whether dt is one of the declared constants.
func (dt DType) Valid() bool {
	return dt >= F64 && dt <= FP4_E2M1
}

func (dt DType) String() string {
	if !dt.Valid() {
		return fmt.Sprintf("DType(%d)", uint8(dt))
	}
	return dtypeNames[dt]
}

// Bits returns the storage width of a single element in bits, or 0 if dt is
// not valid.
func (dt DType) Bits() int {
	if !dt.Valid() {
		return 0
	}
	return dtypeBits[dt]
}

// ByteWidth returns the storage width of a single element in bytes: one of
// 8, 4, 2, 1 or 0.5.
func (dt DType) ByteWidth() float64 {
	return float64(dt.Bits()) / 8
}

// ByteWidth looks up the per-element byte width of the dtype named tag.
func ByteWidth(tag string) (float64, error) {
	dt, err := ParseDType(tag)
	if err != nil {
		return 0, err
	}
	return dt.ByteWidth(), nil
}
