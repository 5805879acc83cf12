package safetensors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tensorsOf(infos ...any) *Tensors {
	t := NewTensors()
	for i := 0; i+1 < len(infos); i += 2 {
		t.Set(infos[i].(string), infos[i+1].(TensorInfo))
	}
	return t
}

func TestAggregate(t *testing.T) {
	components := NewComponents()
	components.Set("Transformer", tensorsOf(
		"embed", TensorInfo{Dtype: "F32", Shape: []uint64{100, 100}},
		"q", TensorInfo{Dtype: "INT4", Shape: []uint64{1_000_000}},
		"bias", TensorInfo{Dtype: "F32", Shape: []uint64{10}},
	))
	components.Set("empty", NewTensors())
	components.Set("1_Dense", tensorsOf(
		"linear.weight", TensorInfo{Dtype: "BF16", Shape: []uint64{3, 7}},
		"linear.padding", TensorInfo{Dtype: "F16", Shape: []uint64{0, 1024}},
	))

	stats, err := Aggregate(components)
	require.NoError(t, err)

	var names []string
	for p := stats.Components.Oldest(); p != nil; p = p.Next() {
		names = append(names, p.Key)
	}
	assert.Equal(t, []string{"Transformer", "empty", "1_Dense"}, names)

	tr, _ := stats.Components.Get("Transformer")
	assert.Equal(t, int64(1_010_010), tr.ParamCount)
	assert.Equal(t, float64(540_040), tr.BytesCount)
	assert.Equal(t, "F32", tr.Dtypes.Oldest().Key, "dtype order follows first occurrence")

	f32, _ := tr.Dtypes.Get("F32")
	assert.Equal(t, &DtypeStats{ParamCount: 10_010, BytesCount: 40_040}, f32)
	int4, _ := tr.Dtypes.Get("INT4")
	assert.Equal(t, &DtypeStats{ParamCount: 1_000_000, BytesCount: 500_000}, int4)

	empty, _ := stats.Components.Get("empty")
	assert.Zero(t, empty.ParamCount)
	assert.Zero(t, empty.BytesCount)
	assert.Zero(t, empty.Dtypes.Len())

	dense, _ := stats.Components.Get("1_Dense")
	padding, ok := dense.Dtypes.Get("F16")
	require.True(t, ok, "a zero-size tensor still lists its dtype")
	assert.Equal(t, &DtypeStats{ParamCount: 0, BytesCount: 0}, padding)
	assert.Equal(t, int64(21), dense.ParamCount)
	assert.Equal(t, float64(42), dense.BytesCount)

	assert.Equal(t, int64(1_010_031), stats.ParamCount)
	assert.Equal(t, float64(540_082), stats.BytesCount)
}

func TestAggregateTotalsAreSums(t *testing.T) {
	components := NewComponents()
	components.Set("a", tensorsOf(
		"x", TensorInfo{Dtype: "NF4", Shape: []uint64{3}},
		"y", TensorInfo{Dtype: "F8_E4M3", Shape: []uint64{5, 5}},
		"z", TensorInfo{Dtype: "U64", Shape: []uint64{}},
	))
	components.Set("b", tensorsOf(
		"w", TensorInfo{Dtype: "FP4_E2M1", Shape: []uint64{7, 1}},
	))

	stats, err := Aggregate(components)
	require.NoError(t, err)

	var params int64
	var bytes float64
	for c := stats.Components.Oldest(); c != nil; c = c.Next() {
		var cp int64
		var cb float64
		for d := c.Value.Dtypes.Oldest(); d != nil; d = d.Next() {
			width, err := ByteWidth(d.Key)
			require.NoError(t, err)
			assert.Equal(t, float64(d.Value.ParamCount)*width, d.Value.BytesCount, "dtype %s", d.Key)
			cp += d.Value.ParamCount
			cb += d.Value.BytesCount
		}
		assert.Equal(t, cp, c.Value.ParamCount)
		assert.Equal(t, cb, c.Value.BytesCount)
		params += cp
		bytes += cb
	}
	assert.Equal(t, params, stats.ParamCount)
	assert.Equal(t, bytes, stats.BytesCount)
	assert.Equal(t, 1.5+25+8+3.5, stats.BytesCount)
}

func TestAggregateEmpty(t *testing.T) {
	for _, c := range []*Components{nil, NewComponents()} {
		stats, err := Aggregate(c)
		require.NoError(t, err)
		assert.Zero(t, stats.Components.Len())
		assert.Zero(t, stats.ParamCount)
		assert.Zero(t, stats.BytesCount)
	}
}

func TestAggregateOverflow(t *testing.T) {
	tests := []struct {
		name    string
		tensors *Tensors
	}{
		{"shape past int64", tensorsOf(
			"w", TensorInfo{Dtype: "F32", Shape: []uint64{1 << 63}},
		)},
		{"sum past int64", tensorsOf(
			"a", TensorInfo{Dtype: "F32", Shape: []uint64{1 << 62}},
			"b", TensorInfo{Dtype: "F32", Shape: []uint64{1 << 62}},
		)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			components := NewComponents()
			components.Set("Transformer", tt.tensors)
			stats, err := Aggregate(components)
			require.ErrorIs(t, err, ErrInvalidHeader)
			assert.Nil(t, stats)
		})
	}
}

func TestAggregateUnknownDtype(t *testing.T) {
	components := NewComponents()
	components.Set("ok", tensorsOf("x", TensorInfo{Dtype: "F32", Shape: []uint64{1}}))
	components.Set("bad", tensorsOf("y", TensorInfo{Dtype: "F128", Shape: []uint64{1}}))

	stats, err := Aggregate(components)
	assert.Nil(t, stats)
	require.Error(t, err)

	var dtErr *UnknownDtypeError
	require.True(t, errors.As(err, &dtErr))
	assert.Equal(t, "F128", dtErr.Tag)
}

func TestStatsJSON(t *testing.T) {
	components := NewComponents()
	components.Set("unet", tensorsOf("w", TensorInfo{Dtype: "F16", Shape: []uint64{2}}))
	components.Set("empty", NewTensors())

	stats, err := Aggregate(components)
	require.NoError(t, err)

	out, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"components": {
			"unet": {"dtypes": {"F16": {"param_count": 2, "bytes_count": 4}}, "param_count": 2, "bytes_count": 4},
			"empty": {"dtypes": {}, "param_count": 0, "bytes_count": 0}
		},
		"param_count": 2,
		"bytes_count": 4
	}`, string(out))
	assert.Regexp(t, `^\{"components":\{"unet":.*"empty":`, string(out))
}
