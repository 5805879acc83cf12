package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/model-mem/pkg/hub"
	testutil "github.com/docker/model-mem/internal/testing"
	"github.com/docker/model-mem/pkg/safetensors"
)

func testHeader(t *testing.T) []byte {
	t.Helper()
	tensors := safetensors.NewTensors()
	tensors.Set("embed", safetensors.TensorInfo{Dtype: "F32", Shape: []uint64{1000, 1000}})
	tensors.Set("lm_head", safetensors.TensorInfo{Dtype: "BF16", Shape: []uint64{1000, 500}})
	data, err := safetensors.EncodeHeader(tensors, nil)
	require.NoError(t, err)
	return data
}

func execute(t *testing.T, fake *testutil.FakeHub, args ...string) (string, error) {
	t.Helper()
	var opts []hub.Option
	if fake != nil {
		opts = append(opts, hub.WithHTTPClient(fake.Client()))
		args = append([]string{"--endpoint", fake.Endpoint}, args...)
	}
	cmd := NewRootCmd(opts...)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInspectTable(t *testing.T) {
	fake := testutil.NewFakeHub()
	fake.AddFile("org/model", "main", "model.safetensors", testHeader(t))

	out, err := execute(t, fake, "inspect", "org/model")
	require.NoError(t, err)

	assert.Contains(t, out, "Model: org/model@main (single-file)")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "TOTAL"), lines[len(lines)-1])
	assert.Contains(t, lines[len(lines)-1], "1.50 M")
	assert.Contains(t, lines[len(lines)-1], "5MB")
	assert.Contains(t, out, "Transformer")
	assert.Contains(t, out, "F32")
	assert.Contains(t, out, "BF16")
	assert.Contains(t, out, "all")
}

func TestInspectJSONRevision(t *testing.T) {
	fake := testutil.NewFakeHub()
	fake.AddFile("org/model", "v1", "model.safetensors", testHeader(t))

	out, err := execute(t, fake, "inspect", "org/model", "--revision", "v1", "--json")
	require.NoError(t, err)

	var report struct {
		ModelID    string  `json:"model_id"`
		Revision   string  `json:"revision"`
		ParamCount int64   `json:"param_count"`
		BytesCount float64 `json:"bytes_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "org/model", report.ModelID)
	assert.Equal(t, "v1", report.Revision)
	assert.Equal(t, int64(1_500_000), report.ParamCount)
	assert.Equal(t, float64(5_000_000), report.BytesCount)
}

func TestInspectDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.safetensors"), testHeader(t), 0o644))

	out, err := execute(t, nil, "inspect", "--dir", dir, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"param_count": 1500000`)
}

func TestInspectErrors(t *testing.T) {
	fake := testutil.NewFakeHub()
	fake.AddFile("org/model", "main", "config.json", []byte(`{}`))

	_, err := execute(t, fake, "inspect")
	require.Error(t, err)

	_, err = execute(t, fake, "inspect", "a", "--dir", t.TempDir())
	require.Error(t, err)

	_, err = execute(t, fake, "inspect", "org/model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.safetensors")

	_, err = execute(t, fake, "inspect", "bad id")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "model-mem version dev\n", out)
}
