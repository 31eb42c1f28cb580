// Package modelparallel describes the model-parallel parameter block passed to the
// model-parallelism runtime inside the training container.
package modelparallel

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/hyperparams"
)

const (
	OptimizeSpeed  = "speed"
	OptimizeMemory = "memory"
)

// Parameters is the model-parallel configuration of a training job.
type Parameters struct {
	TensorParallelDegree           int
	PipelineParallelDegree         int
	Microbatches                   int
	DDP                            bool
	ShardOptimizerState            bool
	PrescaledBatch                 bool
	FP16                           bool
	BF16                           bool
	AutoPartition                  bool
	DefaultPartition               int
	DelayedParameterInitialization bool
	Optimize                       string
}

// Default is the starting point presets refine: no parallelism, one microbatch, DDP on.
func Default() Parameters {
	return Parameters{
		TensorParallelDegree:           1,
		PipelineParallelDegree:         1,
		Microbatches:                   1,
		DDP:                            true,
		BF16:                           true,
		AutoPartition:                  true,
		DelayedParameterInitialization: true,
		Optimize:                       OptimizeSpeed,
	}
}

// Overrides are user-supplied changes to a preset's parameters. Nil fields leave the preset value alone.
type Overrides struct {
	TensorParallelDegree           *int    `json:"tensorParallelDegree,omitempty"`
	PipelineParallelDegree         *int    `json:"pipelineParallelDegree,omitempty"`
	Microbatches                   *int    `json:"microbatches,omitempty"`
	DDP                            *bool   `json:"ddp,omitempty"`
	ShardOptimizerState            *bool   `json:"shardOptimizerState,omitempty"`
	PrescaledBatch                 *bool   `json:"prescaledBatch,omitempty"`
	FP16                           *bool   `json:"fp16,omitempty"`
	BF16                           *bool   `json:"bf16,omitempty"`
	AutoPartition                  *bool   `json:"autoPartition,omitempty"`
	DefaultPartition               *int    `json:"defaultPartition,omitempty"`
	DelayedParameterInitialization *bool   `json:"delayedParameterInitialization,omitempty"`
	Optimize                       *string `json:"optimize,omitempty"`
}

// Apply returns p with every non-nil override applied.
// Setting one precision flag clears the other, so that switching a bf16 preset to fp16 needs one line.
func (p Parameters) Apply(o Overrides) Parameters {
	setInt(&p.TensorParallelDegree, o.TensorParallelDegree)
	setInt(&p.PipelineParallelDegree, o.PipelineParallelDegree)
	setInt(&p.Microbatches, o.Microbatches)
	setInt(&p.DefaultPartition, o.DefaultPartition)
	setBool(&p.DDP, o.DDP)
	setBool(&p.ShardOptimizerState, o.ShardOptimizerState)
	setBool(&p.PrescaledBatch, o.PrescaledBatch)
	setBool(&p.AutoPartition, o.AutoPartition)
	setBool(&p.DelayedParameterInitialization, o.DelayedParameterInitialization)
	if o.FP16 != nil {
		p.FP16 = *o.FP16
		if p.FP16 && o.BF16 == nil {
			p.BF16 = false
		}
	}
	if o.BF16 != nil {
		p.BF16 = *o.BF16
		if p.BF16 && o.FP16 == nil {
			p.FP16 = false
		}
	}
	if o.Optimize != nil {
		p.Optimize = *o.Optimize
	}
	return p
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// ModelParallelDegree is the number of processes one model replica spans.
func (p Parameters) ModelParallelDegree() int {
	return p.TensorParallelDegree * p.PipelineParallelDegree
}

// DataParallelDegree is the number of model replicas that fit in totalProcesses.
func (p Parameters) DataParallelDegree(totalProcesses int) int {
	mp := p.ModelParallelDegree()
	if mp <= 0 {
		return 0
	}
	return totalProcesses / mp
}

// Validate checks the parameters against the job's process layout and batch size.
// All violations are returned together.
func (p Parameters) Validate(processesPerHost, instanceCount int, trainBatchSize int64) error {
	var result *multierror.Error
	invalid := func(name string, value interface{}, msg string) {
		result = multierror.Append(result, errors.WithStack(&mperrors.ErrInvalidArgument{Name: name, Value: value, Message: msg}))
	}

	if p.TensorParallelDegree < 1 {
		invalid("tensor_parallel_degree", p.TensorParallelDegree, "must be at least 1")
	}
	if p.PipelineParallelDegree < 1 {
		invalid("pipeline_parallel_degree", p.PipelineParallelDegree, "must be at least 1")
	}
	if p.Microbatches < 1 {
		invalid("microbatches", p.Microbatches, "must be at least 1")
	} else if trainBatchSize > 0 && trainBatchSize%int64(p.Microbatches) != 0 {
		invalid("microbatches", p.Microbatches, fmt.Sprintf("must divide train_batch_size %d", trainBatchSize))
	}
	if p.DefaultPartition < 0 || (p.PipelineParallelDegree >= 1 && p.DefaultPartition >= p.PipelineParallelDegree) {
		invalid("default_partition", p.DefaultPartition, fmt.Sprintf("must be in [0, %d)", p.PipelineParallelDegree))
	}
	if p.FP16 && p.BF16 {
		invalid("fp16", p.FP16, "fp16 and bf16 are mutually exclusive")
	}
	if p.ShardOptimizerState && !p.DDP {
		invalid("shard_optimizer_state", p.ShardOptimizerState, "requires ddp")
	}
	if p.Optimize != OptimizeSpeed && p.Optimize != OptimizeMemory {
		invalid("optimize", p.Optimize, fmt.Sprintf("must be %q or %q", OptimizeSpeed, OptimizeMemory))
	}

	total := processesPerHost * instanceCount
	if total < 1 {
		invalid("processes", total, "job must run at least one process")
	} else if mp := p.ModelParallelDegree(); mp >= 1 && total%mp != 0 {
		invalid("tensor_parallel_degree", p.TensorParallelDegree, fmt.Sprintf(
			"tensor_parallel_degree*pipeline_parallel_degree (%d) must divide the number of processes (%d hosts x %d processes)",
			mp, instanceCount, processesPerHost))
	}
	return result.ErrorOrNil()
}

// Map is the mp_parameters object understood by the model-parallelism runtime.
// "partitions" duplicates the pipeline degree because the platform still requires it.
func (p Parameters) Map() map[string]interface{} {
	return map[string]interface{}{
		"tensor_parallel_degree":           p.TensorParallelDegree,
		"pipeline_parallel_degree":         p.PipelineParallelDegree,
		"partitions":                       p.PipelineParallelDegree,
		"microbatches":                     p.Microbatches,
		"ddp":                              p.DDP,
		"shard_optimizer_state":            p.ShardOptimizerState,
		"prescaled_batch":                  p.PrescaledBatch,
		"fp16":                             p.FP16,
		"bf16":                             p.BF16,
		"optimize":                         p.Optimize,
		"auto_partition":                   p.AutoPartition,
		"default_partition":                p.DefaultPartition,
		"delayed_parameter_initialization": p.DelayedParameterInitialization,
	}
}

// JSON encodes Map with sorted keys.
func (p Parameters) JSON() (string, error) {
	b, err := json.Marshal(p.Map())
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(b), nil
}

// Hyperparameters mirrors the parallelism settings into the hyperparameter set; the training
// script reads them from there as 0/1 flags and integers.
func (p Parameters) Hyperparameters() hyperparams.Set {
	return hyperparams.Set{
		"tensor_parallel_degree":   int64(p.TensorParallelDegree),
		"pipeline_parallel_degree": int64(p.PipelineParallelDegree),
		"microbatches":             int64(p.Microbatches),
		"shard_optimizer_state":    hyperparams.BoolToFlag(p.ShardOptimizerState),
		"prescaled_batch":          hyperparams.BoolToFlag(p.PrescaledBatch),
		"fp16":                     hyperparams.BoolToFlag(p.FP16),
		"bf16":                     hyperparams.BoolToFlag(p.BF16),
		"delayed_param":            hyperparams.BoolToFlag(p.DelayedParameterInitialization),
	}
}
