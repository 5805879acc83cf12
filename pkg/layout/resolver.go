package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/errgroup"

	"github.com/docker/model-mem/pkg/logging"
	"github.com/docker/model-mem/pkg/safetensors"
)

// Fetcher reads JSON documents and byte ranges of repository files.
type Fetcher interface {
	safetensors.RangeFetcher
	FetchJSON(ctx context.Context, path string, v any) error
}

// Resolver turns a Layout into components by fetching the headers it needs.
type Resolver struct {
	fetcher Fetcher
	log     *logrus.Entry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger
func WithLogger(log logging.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log.WithField("component", "layout")
		}
	}
}

// NewResolver returns a Resolver reading through f.
func NewResolver(f Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		fetcher: f,
		log:     logrus.NewEntry(logrus.StandardLogger()).WithField("component", "layout"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve detects the layout of files and gathers its components.
func (r *Resolver) Resolve(ctx context.Context, files []string) (*safetensors.Components, error) {
	l, err := Detect(files)
	if err != nil {
		return nil, err
	}
	return r.ResolveLayout(ctx, l)
}

// ResolveLayout gathers the components of an already detected layout.
func (r *Resolver) ResolveLayout(ctx context.Context, l Layout) (*safetensors.Components, error) {
	r.log.WithField("layout", l.Kind()).Debug("Resolving components")

	switch l := l.(type) {
	case *SingleFile:
		header, err := safetensors.FetchHeader(ctx, r.fetcher, l.Path)
		if err != nil {
			return nil, err
		}
		return r.withSentenceTransformers(ctx, l.SentenceTransformers, header.Tensors)
	case *Sharded:
		tensors, err := r.fetchSharded(ctx, l.IndexPath)
		if err != nil {
			return nil, err
		}
		return r.withSentenceTransformers(ctx, l.SentenceTransformers, tensors)
	case *Diffusion:
		return r.resolveDiffusion(ctx, l)
	default:
		return nil, fmt.Errorf("unsupported layout %T", l)
	}
}

// fetchSharded reads a sharded index and merges the headers of its shards.
// The first shard to declare a tensor name wins.
func (r *Resolver) fetchSharded(ctx context.Context, indexPath string) (*safetensors.Tensors, error) {
	var index ShardedIndex
	if err := r.fetcher.FetchJSON(ctx, indexPath, &index); err != nil {
		return nil, err
	}
	shards := index.Shards(path.Dir(indexPath))
	r.log.WithFields(logrus.Fields{"index": indexPath, "shards": len(shards)}).Debug("Fetching shard headers")

	headers, err := r.fetchHeaders(ctx, shards)
	if err != nil {
		return nil, err
	}

	merged := safetensors.NewTensors()
	for i, header := range headers {
		for t := header.Tensors.Oldest(); t != nil; t = t.Next() {
			if _, dup := merged.Get(t.Key); dup {
				r.log.WithFields(logrus.Fields{
					"tensor": logging.SanitizeForLog(t.Key),
					"shard":  shards[i],
				}).Warn("Tensor declared by more than one shard, keeping the first")
				continue
			}
			merged.Set(t.Key, t.Value)
		}
	}
	return merged, nil
}

// fetchHeaders reads the headers of paths concurrently. Results keep the
// order of paths.
func (r *Resolver) fetchHeaders(ctx context.Context, paths []string) ([]*safetensors.Header, error) {
	headers := make([]*safetensors.Header, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			header, err := safetensors.FetchHeader(ctx, r.fetcher, p)
			if err != nil {
				return err
			}
			headers[i] = header
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return headers, nil
}

// withSentenceTransformers names the primary component and, for
// sentence-transformers repositories, appends one component per dense module.
func (r *Resolver) withSentenceTransformers(ctx context.Context, st SentenceTransformers, primary *safetensors.Tensors) (*safetensors.Components, error) {
	components := safetensors.NewComponents()
	if !st.Enabled {
		components.Set(TransformerComponent, primary)
		return components, nil
	}
	components.Set(SentenceTransformerComponent, primary)
	if !st.HasModules {
		return components, nil
	}

	var modules []Module
	if err := r.fetcher.FetchJSON(ctx, ModulesName, &modules); err != nil {
		return nil, err
	}
	dense := DensePaths(modules)
	files := make([]string, len(dense))
	for i, p := range dense {
		files[i] = path.Join(p, SingleFileName)
	}

	headers, err := r.fetchHeaders(ctx, files)
	if err != nil {
		return nil, err
	}
	for i, header := range headers {
		components.Set(dense[i], header.Tensors)
	}
	return components, nil
}

// resolveDiffusion gathers one component per sub-pipeline of model_index.json
// that ships safetensors weights. Keys starting with "_" are pipeline
// attributes, not sub-pipelines.
func (r *Resolver) resolveDiffusion(ctx context.Context, d *Diffusion) (*safetensors.Components, error) {
	index := orderedmap.New[string, json.RawMessage]()
	if err := r.fetcher.FetchJSON(ctx, d.IndexPath, index); err != nil {
		return nil, err
	}

	var names []string
	for pair := index.Oldest(); pair != nil; pair = pair.Next() {
		if !strings.HasPrefix(pair.Key, "_") {
			names = append(names, pair.Key)
		}
	}

	var mu sync.Mutex
	found := make(map[string]*safetensors.Tensors, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		file, sharded, ok := d.WeightsFor(name)
		if !ok {
			r.log.WithField("subfolder", logging.SanitizeForLog(name)).Debug("No safetensors weights, skipping")
			continue
		}
		g.Go(func() error {
			var tensors *safetensors.Tensors
			if sharded {
				var err error
				if tensors, err = r.fetchSharded(gctx, file); err != nil {
					return err
				}
			} else {
				header, err := safetensors.FetchHeader(gctx, r.fetcher, file)
				if err != nil {
					return err
				}
				tensors = header.Tensors
			}
			mu.Lock()
			defer mu.Unlock()
			found[name] = tensors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	components := safetensors.NewComponents()
	for _, name := range names {
		if tensors, ok := found[name]; ok {
			components.Set(name, tensors)
		}
	}
	return components, nil
}
