// Package preset contains the named model-size and dataset presets a job file selects from.
// Unknown names are rejected outright; there is no fallback preset.
package preset

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/hyperparams"
	"github.com/armadaproject/mptrain/internal/mptrain/modelparallel"
)

// ModelPreset fixes the model architecture, batch sizes and default parallelism for a model size.
type ModelPreset struct {
	Name            string
	Description     string
	Hyperparameters hyperparams.Set
	ModelParallel   modelparallel.Parameters
}

type architecture struct {
	contextWidth, hiddenWidth, layers, heads int64
	trainBatch, valBatch                     int64
}

func (a architecture) hyperparameters() hyperparams.Set {
	return hyperparams.Set{
		"max_context_width": a.contextWidth,
		"hidden_width":      a.hiddenWidth,
		"num_layers":        a.layers,
		"num_heads":         a.heads,
		"train_batch_size":  a.trainBatch,
		"val_batch_size":    a.valBatch,
	}
}

func newModelPreset(name, description string, arch architecture, mp func(p *modelparallel.Parameters)) ModelPreset {
	params := modelparallel.Default()
	mp(&params)
	return ModelPreset{
		Name:            name,
		Description:     description,
		Hyperparameters: arch.hyperparameters(),
		ModelParallel:   params,
	}
}

var models = map[string]ModelPreset{
	"gpt2-small": newModelPreset("gpt2-small", "GPT-2 124M",
		architecture{contextWidth: 2048, hiddenWidth: 768, layers: 12, heads: 12, trainBatch: 2, valBatch: 4},
		func(p *modelparallel.Parameters) {
			p.TensorParallelDegree = 4
		}),
	"gpt2-xl": newModelPreset("gpt2-xl", "GPT-2 1.5B",
		architecture{contextWidth: 2048, hiddenWidth: 1536, layers: 48, heads: 24, trainBatch: 2, valBatch: 4},
		func(p *modelparallel.Parameters) {
			p.TensorParallelDegree = 4
		}),
	"gpt2-30b": newModelPreset("gpt2-30b", "GPT-2 architecture scaled to 30B",
		architecture{contextWidth: 2048, hiddenWidth: 7168, layers: 48, heads: 64, trainBatch: 5, valBatch: 5},
		func(p *modelparallel.Parameters) {
			p.TensorParallelDegree = 8
			p.ShardOptimizerState = true
		}),
	"gpt-j-6b": newModelPreset("gpt-j-6b", "GPT-J 6B",
		architecture{contextWidth: 2048, hiddenWidth: 4096, layers: 28, heads: 16, trainBatch: 4, valBatch: 4},
		func(p *modelparallel.Parameters) {
			p.TensorParallelDegree = 8
		}),
	"gpt-neox-20b": newModelPreset("gpt-neox-20b", "GPT-NeoX 20B",
		architecture{contextWidth: 2048, hiddenWidth: 6144, layers: 44, heads: 64, trainBatch: 4, valBatch: 4},
		func(p *modelparallel.Parameters) {
			p.TensorParallelDegree = 8
			p.PipelineParallelDegree = 2
			p.Microbatches = 2
			p.ShardOptimizerState = true
		}),
}

// Model returns the named model preset.
func Model(name string) (ModelPreset, error) {
	m, ok := models[name]
	if !ok {
		return ModelPreset{}, errors.WithStack(&mperrors.ErrInvalidArgument{
			Name:    "model",
			Value:   name,
			Message: fmt.Sprintf("unknown model preset; known presets are %s", strings.Join(ModelNames(), ", ")),
		})
	}
	// Hand out a copy so callers can't modify the catalog.
	m.Hyperparameters = hyperparams.Merge(m.Hyperparameters)
	return m, nil
}

// ModelNames lists the model presets in sorted order.
func ModelNames() []string {
	names := maps.Keys(models)
	slices.Sort(names)
	return names
}

// Models lists the model presets sorted by name.
func Models() []ModelPreset {
	out := make([]ModelPreset, 0, len(models))
	for _, name := range ModelNames() {
		m, _ := Model(name)
		out = append(out, m)
	}
	return out
}
