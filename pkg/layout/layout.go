// Package layout works out how the safetensors weights of a Hub repository
// are laid out and gathers their headers into named components.
package layout

import (
	"errors"
	"fmt"
	"path"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	SingleFileName     = "model.safetensors"
	ShardedIndexName   = "model.safetensors.index.json"
	DiffusionIndexName = "model_index.json"

	SentenceTransformersConfigName = "config_sentence_transformers.json"
	ModulesName                    = "modules.json"

	diffusionWeightsName      = "diffusion_pytorch_model.safetensors"
	diffusionShardedIndexName = "diffusion_pytorch_model.safetensors.index.json"

	// DenseModuleType is the modules.json type of a sentence-transformers
	// dense projection head.
	DenseModuleType = "sentence_transformers.models.Dense"

	// TransformerComponent names the single component of a plain model.
	TransformerComponent = "Transformer"
	// SentenceTransformerComponent replaces TransformerComponent for
	// sentence-transformers models.
	SentenceTransformerComponent = "0_Transformer"
)

// ErrLayoutNotFound is matched by NotFoundError via errors.Is.
var ErrLayoutNotFound = errors.New("no supported safetensors layout")

// NotFoundError is returned by Detect when none of the layout markers are
// present in the repository.
type NotFoundError struct {
	Markers []string
}

func (e *NotFoundError) Error() string {
	quoted := make([]string, len(e.Markers))
	for i, m := range e.Markers {
		quoted[i] = "`" + m + "`"
	}
	return fmt.Sprintf("none of %s has been found", strings.Join(quoted, ", "))
}

// Is implements error matching for NotFoundError
func (e *NotFoundError) Is(target error) bool {
	return target == ErrLayoutNotFound
}

// Kind identifies a Layout variant.
type Kind string

const (
	KindSingleFile Kind = "single-file"
	KindSharded    Kind = "sharded"
	KindDiffusion  Kind = "diffusion"
)

// Layout is one of *SingleFile, *Sharded or *Diffusion.
type Layout interface {
	Kind() Kind
	isLayout()
}

// SentenceTransformers records the sentence-transformers markers of a
// repository. It only affects single-file and sharded layouts.
type SentenceTransformers struct {
	// Enabled is set when config_sentence_transformers.json is present.
	Enabled bool
	// HasModules is set when modules.json is present as well.
	HasModules bool
}

// SingleFile is a repository with one model.safetensors at its root.
type SingleFile struct {
	Path string
	SentenceTransformers
}

func (*SingleFile) Kind() Kind { return KindSingleFile }
func (*SingleFile) isLayout()  {}

// Sharded is a repository whose weights are split across the shards listed
// in model.safetensors.index.json.
type Sharded struct {
	IndexPath string
	SentenceTransformers
}

func (*Sharded) Kind() Kind { return KindSharded }
func (*Sharded) isLayout()  {}

// Diffusion is a diffusers pipeline described by model_index.json, with one
// component per sub-pipeline directory.
type Diffusion struct {
	IndexPath string
	files     map[string]struct{}
}

func (*Diffusion) Kind() Kind { return KindDiffusion }
func (*Diffusion) isLayout()  {}

// WeightsFor returns the first weights file present for sub-pipeline dir,
// trying single files before sharded indexes. ok is false when the
// sub-pipeline has no safetensors weights.
func (d *Diffusion) WeightsFor(dir string) (file string, sharded bool, ok bool) {
	candidates := []struct {
		name    string
		sharded bool
	}{
		{diffusionWeightsName, false},
		{SingleFileName, false},
		{diffusionShardedIndexName, true},
		{ShardedIndexName, true},
	}
	for _, c := range candidates {
		p := path.Join(dir, c.name)
		if _, present := d.files[p]; present {
			return p, c.sharded, true
		}
	}
	return "", false, false
}

// Detect selects the layout of a repository from its file list. The
// single-file layout wins over the sharded one, which wins over diffusers.
func Detect(files []string) (Layout, error) {
	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		set[f] = struct{}{}
	}
	has := func(name string) bool {
		_, ok := set[name]
		return ok
	}

	st := SentenceTransformers{
		Enabled:    has(SentenceTransformersConfigName),
		HasModules: has(ModulesName),
	}

	switch {
	case has(SingleFileName):
		return &SingleFile{Path: SingleFileName, SentenceTransformers: st}, nil
	case has(ShardedIndexName):
		return &Sharded{IndexPath: ShardedIndexName, SentenceTransformers: st}, nil
	case has(DiffusionIndexName):
		return &Diffusion{IndexPath: DiffusionIndexName, files: set}, nil
	default:
		return nil, &NotFoundError{Markers: []string{SingleFileName, ShardedIndexName, DiffusionIndexName}}
	}
}

// ShardedIndex is the content of a *.safetensors.index.json file.
type ShardedIndex struct {
	Metadata  map[string]any                          `json:"metadata,omitempty"`
	WeightMap *orderedmap.OrderedMap[string, string] `json:"weight_map"`
}

// Shards returns the distinct shard files of the index in first-seen order,
// relative to dir.
func (idx *ShardedIndex) Shards(dir string) []string {
	if idx == nil || idx.WeightMap == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var shards []string
	for pair := idx.WeightMap.Oldest(); pair != nil; pair = pair.Next() {
		p := path.Join(dir, pair.Value)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		shards = append(shards, p)
	}
	return shards
}

// Module is one entry of a sentence-transformers modules.json.
type Module struct {
	Idx  int    `json:"idx"`
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// DensePaths returns the paths of the dense modules, in file order.
func DensePaths(modules []Module) []string {
	var paths []string
	for _, m := range modules {
		if m.Type == DenseModuleType && m.Path != "" {
			paths = append(paths, m.Path)
		}
	}
	return paths
}
