package inspector

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/model-mem/pkg/hub"
	testutil "github.com/docker/model-mem/internal/testing"
	"github.com/docker/model-mem/pkg/layout"
	"github.com/docker/model-mem/pkg/logging"
	"github.com/docker/model-mem/pkg/safetensors"
)

func weights(t *testing.T, tensors ...safetensors.TensorInfo) []byte {
	t.Helper()
	m := safetensors.NewTensors()
	names := []string{"model.embed.weight", "model.layer.weight", "lm_head.weight"}
	for i, info := range tensors {
		m.Set(names[i], info)
	}
	data, err := safetensors.EncodeHeader(m, nil)
	require.NoError(t, err)
	return data
}

func newInspector(t *testing.T, fake *testutil.FakeHub, opts ...hub.Option) *Inspector {
	t.Helper()
	opts = append([]hub.Option{
		hub.WithEndpoint(fake.Endpoint),
		hub.WithHTTPClient(fake.Client()),
		hub.WithLogger(logging.Discard()),
	}, opts...)
	client, err := hub.NewClient(opts...)
	require.NoError(t, err)
	return New(client, WithLogger(logging.Discard()))
}

func TestInspectSingleFile(t *testing.T) {
	fake := testutil.NewFakeHub()
	fake.AddFile("org/tiny", "main", "model.safetensors", weights(t,
		safetensors.TensorInfo{Dtype: "F32", Shape: []uint64{100, 100}},
	))
	fake.AddFile("org/tiny", "main", "config.json", []byte(`{}`))

	report, err := newInspector(t, fake).Inspect(context.Background(), "org/tiny", "")
	require.NoError(t, err)

	assert.Equal(t, "org/tiny", report.ModelID)
	assert.Equal(t, "main", report.Revision)
	assert.Equal(t, layout.KindSingleFile, report.Layout)
	assert.Equal(t, int64(10_000), report.ParamCount)
	assert.Equal(t, float64(40_000), report.BytesCount)

	tr, ok := report.Components.Get("Transformer")
	require.True(t, ok)
	assert.Equal(t, int64(10_000), tr.ParamCount)

	reqs := fake.RequestsFor(fake.FileURL("org/tiny", "main", "model.safetensors"))
	require.Len(t, reqs, 1, "a small header needs a single probe")
	assert.Equal(t, "bytes=0-200000", reqs[0].Header.Get("Range"))
}

func TestReportJSON(t *testing.T) {
	fake := testutil.NewFakeHub()
	fake.AddFile("org/q4", "v2", "model.safetensors", weights(t,
		safetensors.TensorInfo{Dtype: "INT4", Shape: []uint64{1000, 1000}},
		safetensors.TensorInfo{Dtype: "F32", Shape: []uint64{10}},
	))

	report, err := newInspector(t, fake).Inspect(context.Background(), "org/q4", "v2")
	require.NoError(t, err)

	out, err := report.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"model_id": "org/q4",
		"revision": "v2",
		"components": {
			"Transformer": {
				"dtypes": {
					"INT4": {"param_count": 1000000, "bytes_count": 500000},
					"F32": {"param_count": 10, "bytes_count": 40}
				},
				"param_count": 1000010,
				"bytes_count": 500040
			}
		},
		"param_count": 1000010,
		"bytes_count": 500040
	}`, string(out))
	assert.Regexp(t, `(?s)^\{\s*"model_id".*"revision".*"components".*"param_count".*"bytes_count"`, string(out))
}

func TestInspectLargeHeader(t *testing.T) {
	m := safetensors.NewTensors()
	for i := 0; i < 4000; i++ {
		m.Set(
			"model.layers."+strconv.Itoa(i)+".self_attn.q_proj.weight.with.a.rather.long.name",
			safetensors.TensorInfo{Dtype: "BF16", Shape: []uint64{64, 64}, DataOffsets: [2]uint64{0, 8192}},
		)
	}
	data, err := safetensors.EncodeHeader(m, nil)
	require.NoError(t, err)
	require.Greater(t, len(data), safetensors.MaxProbeSize+1)

	fake := testutil.NewFakeHub()
	fake.AddFile("org/big", "main", "model.safetensors", data)

	report, err := newInspector(t, fake).Inspect(context.Background(), "org/big", "main")
	require.NoError(t, err)
	assert.Equal(t, int64(4000*64*64), report.ParamCount)

	reqs := fake.RequestsFor(fake.FileURL("org/big", "main", "model.safetensors"))
	require.Len(t, reqs, 2)
	assert.Equal(t, "bytes=0-200000", reqs[0].Header.Get("Range"))
	assert.Equal(t, "bytes=200001-"+strconv.Itoa(len(data)-1), reqs[1].Header.Get("Range"))
}

func TestInspectErrors(t *testing.T) {
	t.Run("invalid model id", func(t *testing.T) {
		for _, id := range []string{"", "org/model/extra", " org/model", "/model", "org/"} {
			_, err := newInspector(t, testutil.NewFakeHub()).Inspect(context.Background(), id, "main")
			assert.ErrorIs(t, err, ErrInvalidModelID, id)
		}
	})

	t.Run("no layout", func(t *testing.T) {
		fake := testutil.NewFakeHub()
		fake.AddFile("org/bin", "main", "pytorch_model.bin", []byte("x"))
		_, err := newInspector(t, fake).Inspect(context.Background(), "org/bin", "main")
		require.ErrorIs(t, err, layout.ErrLayoutNotFound)
	})

	t.Run("private model", func(t *testing.T) {
		fake := testutil.NewFakeHub()
		fake.Add(fake.TreeURL("org/private", "main"), &testutil.FakeResource{StatusCode: http.StatusUnauthorized})
		_, err := newInspector(t, fake).Inspect(context.Background(), "org/private", "main")
		require.ErrorIs(t, err, hub.ErrAuthRequired)

		var authErr *hub.AuthError
		require.True(t, errors.As(err, &authErr))
		assert.False(t, authErr.TokenProvided)
	})

	t.Run("unknown dtype", func(t *testing.T) {
		fake := testutil.NewFakeHub()
		fake.AddFile("org/odd", "main", "model.safetensors", weights(t,
			safetensors.TensorInfo{Dtype: "F32", Shape: []uint64{1}},
			safetensors.TensorInfo{Dtype: "COMPLEX64", Shape: []uint64{1}},
		))
		report, err := newInspector(t, fake).Inspect(context.Background(), "org/odd", "main")
		assert.Nil(t, report)
		require.ErrorIs(t, err, safetensors.ErrUnknownDtype)
	})
}

func TestValidateModelID(t *testing.T) {
	for _, id := range []string{"gpt2", "google/gemma-3-1b-it", "sentence-transformers/all-MiniLM-L6-v2"} {
		assert.NoError(t, ValidateModelID(id), id)
	}
}

func TestInspectDir(t *testing.T) {
	tmpDir := t.TempDir()
	data := weights(t,
		safetensors.TensorInfo{Dtype: "NF4", Shape: []uint64{64, 64}},
		safetensors.TensorInfo{Dtype: "BF16", Shape: []uint64{64}},
	)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "model.safetensors"), data, 0o644))

	report, err := newInspector(t, testutil.NewFakeHub()).InspectDir(context.Background(), tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, report.ModelID)
	assert.Empty(t, report.Revision)
	assert.Equal(t, int64(64*64+64), report.ParamCount)
	assert.Equal(t, float64(64*64/2+64*2), report.BytesCount)

	_, err = newInspector(t, testutil.NewFakeHub()).InspectDir(context.Background(), filepath.Join(tmpDir, "missing"))
	assert.Error(t, err)
}
