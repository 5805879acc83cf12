package safetensors

import (
	"fmt"
	"math"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Components maps a component name (for example "Transformer" or "unet") to
// the tensors gathered from its headers, in discovery order.
type Components = orderedmap.OrderedMap[string, *Tensors]

// NewComponents returns an empty Components map.
func NewComponents() *Components {
	return orderedmap.New[string, *Tensors]()
}

// DtypeStats holds the totals for one dtype of one component.
type DtypeStats struct {
	ParamCount int64   `json:"param_count"`
	BytesCount float64 `json:"bytes_count"`
}

// ComponentStats holds per-dtype and total counts for one component.
type ComponentStats struct {
	Dtypes     *orderedmap.OrderedMap[string, *DtypeStats] `json:"dtypes"`
	ParamCount int64                                       `json:"param_count"`
	BytesCount float64                                     `json:"bytes_count"`
}

// Stats is the aggregate over all components of a model.
type Stats struct {
	Components *orderedmap.OrderedMap[string, *ComponentStats] `json:"components"`
	ParamCount int64                                           `json:"param_count"`
	BytesCount float64                                         `json:"bytes_count"`
}

// Aggregate computes per-dtype, per-component and overall parameter and byte
// counts. Components without tensors are kept with zero counts. An unknown
// dtype anywhere fails the whole aggregation.
func Aggregate(c *Components) (*Stats, error) {
	stats := &Stats{Components: orderedmap.New[string, *ComponentStats]()}
	if c == nil {
		return stats, nil
	}

	for comp := c.Oldest(); comp != nil; comp = comp.Next() {
		cs, err := aggregateComponent(comp.Value)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", comp.Key, err)
		}
		stats.Components.Set(comp.Key, cs)
		if stats.ParamCount, err = addCount(stats.ParamCount, cs.ParamCount); err != nil {
			return nil, err
		}
		stats.BytesCount += cs.BytesCount
	}
	return stats, nil
}

func aggregateComponent(tensors *Tensors) (*ComponentStats, error) {
	cs := &ComponentStats{Dtypes: orderedmap.New[string, *DtypeStats]()}
	if tensors == nil {
		return cs, nil
	}

	for t := tensors.Oldest(); t != nil; t = t.Next() {
		width, err := ByteWidth(t.Value.Dtype)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Key, err)
		}
		params, err := t.Value.NumElements()
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Key, err)
		}
		bytes := float64(params) * width

		ds, ok := cs.Dtypes.Get(t.Value.Dtype)
		if !ok {
			ds = &DtypeStats{}
			cs.Dtypes.Set(t.Value.Dtype, ds)
		}
		if ds.ParamCount, err = addCount(ds.ParamCount, params); err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Key, err)
		}
		if cs.ParamCount, err = addCount(cs.ParamCount, params); err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Key, err)
		}
		ds.BytesCount += bytes
		cs.BytesCount += bytes
	}
	return cs, nil
}

// addCount adds two non-negative parameter counts, failing instead of
// wrapping past math.MaxInt64.
func addCount(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, fmt.Errorf("%w: parameter count overflows", ErrInvalidHeader)
	}
	return a + b, nil
}
