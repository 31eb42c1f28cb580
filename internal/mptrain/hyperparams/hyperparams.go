// Package hyperparams holds the flat hyperparameter mapping handed to the training container.
package hyperparams

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

// Value is a scalar hyperparameter: string, int64, float64 or bool.
type Value interface{}

// Set maps hyperparameter names to scalar values.
type Set map[string]Value

// Defaults returns the base training hyperparameters every job starts from.
func Defaults() Set {
	return Set{
		"max_steps":                   int64(100),
		"seed":                        int64(12345),
		"fp16":                        int64(0),
		"bf16":                        int64(1),
		"lr":                          2.0e-4,
		"lr_decay_iters":              int64(125000),
		"min_lr":                      0.00001,
		"lr-decay-style":              "linear",
		"warmup":                      0.01,
		"num_kept_checkpoints":        int64(5),
		"checkpoint_freq":             int64(200),
		"logging_freq":                int64(1),
		"save_final_full_model":       int64(0),
		"delayed_param":               int64(1),
		"offload_activations":         int64(0),
		"activation_loading_horizon":  int64(4),
		"gradient_accumulation":       int64(1),
		"validation_freq":             int64(200),
		"train_batch_size":            int64(4),
		"val_batch_size":              int64(4),
		"zipped_data":                 int64(0),
		"epochs":                      int64(100),
		"use_distributed_transformer": int64(1),
	}
}

// FromMap converts a decoded YAML/JSON mapping into a Set, normalising numbers.
// Non-scalar values are rejected.
func FromMap(m map[string]interface{}) (Set, error) {
	s := make(Set, len(m))
	var result *multierror.Error
	for k, v := range m {
		nv, err := normalise(k, v)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		s[k] = nv
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return s, s.Validate()
}

func normalise(key string, v interface{}) (Value, error) {
	switch t := v.(type) {
	case string, bool, int64, float64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, errors.WithStack(&mperrors.ErrInvalidArgument{Name: key, Value: t, Message: "integer overflows int64"})
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, errors.WithStack(&mperrors.ErrInvalidArgument{Name: key, Value: t, Message: "not a number"})
		}
		return f, nil
	default:
		return nil, errors.WithStack(&mperrors.ErrInvalidArgument{
			Name:    key,
			Value:   v,
			Message: fmt.Sprintf("hyperparameters must be scalars, got %T", v),
		})
	}
}

// Merge returns a new Set containing every layer in order; later layers win.
func Merge(layers ...Set) Set {
	out := Set{}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// Validate checks that keys are non-empty and values are scalars.
func (s Set) Validate() error {
	var result *multierror.Error
	for _, k := range s.Keys() {
		if k == "" {
			result = multierror.Append(result, errors.WithStack(&mperrors.ErrInvalidArgument{
				Name:    "hyperparameters",
				Value:   k,
				Message: "hyperparameter names must be non-empty",
			}))
			continue
		}
		switch s[k].(type) {
		case string, bool, int64, float64:
		default:
			result = multierror.Append(result, errors.WithStack(&mperrors.ErrInvalidArgument{
				Name:    k,
				Value:   s[k],
				Message: fmt.Sprintf("hyperparameters must be scalars, got %T", s[k]),
			}))
		}
	}
	return result.ErrorOrNil()
}

// Keys returns the hyperparameter names in sorted order.
func (s Set) Keys() []string {
	keys := maps.Keys(s)
	slices.Sort(keys)
	return keys
}

// Encode renders every value as a JSON scalar, which is how the training platform passes
// hyperparameters to the container: 100, "linear", true, 0.0002.
func (s Set) Encode() (map[string]string, error) {
	out := make(map[string]string, len(s))
	for _, k := range s.Keys() {
		b, err := json.Marshal(s[k])
		if err != nil {
			return nil, errors.Wrapf(err, "error encoding hyperparameter %s", k)
		}
		out[k] = string(b)
	}
	return out, nil
}

// Int returns the named value as an integer. Floats with no fractional part and numeric
// strings are accepted; bools map to 0/1 since the training scripts use 0/1 flags.
func (s Set) Int(key string) (int64, error) {
	v, ok := s[key]
	if !ok {
		return 0, errors.WithStack(&mperrors.ErrNotFound{Type: "hyperparameter", Value: key})
	}
	switch t := v.(type) {
	case int64:
		return t, nil
	case float64:
		if t != math.Trunc(t) {
			return 0, errors.WithStack(&mperrors.ErrInvalidArgument{Name: key, Value: t, Message: "not an integer"})
		}
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, errors.WithStack(&mperrors.ErrInvalidArgument{Name: key, Value: t, Message: "not an integer"})
		}
		return i, nil
	}
	return 0, errors.WithStack(&mperrors.ErrInvalidArgument{Name: key, Value: v, Message: "not an integer"})
}

// BoolToFlag converts b into the 0/1 form the training scripts expect.
func BoolToFlag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
