package modelparallel

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/pointer"

	"github.com/armadaproject/mptrain/internal/mptrain/hyperparams"
)

func TestApply(t *testing.T) {
	p := Default()
	p.TensorParallelDegree = 8

	got := p.Apply(Overrides{
		PipelineParallelDegree: pointer.Int(2),
		Microbatches:           pointer.Int(4),
		ShardOptimizerState:    pointer.Bool(true),
		Optimize:               pointer.String(OptimizeMemory),
	})

	assert.Equal(t, 8, got.TensorParallelDegree)
	assert.Equal(t, 2, got.PipelineParallelDegree)
	assert.Equal(t, 4, got.Microbatches)
	assert.True(t, got.ShardOptimizerState)
	assert.Equal(t, OptimizeMemory, got.Optimize)
	assert.Equal(t, 1, p.PipelineParallelDegree, "receiver must not be modified")
}

func TestApply_PrecisionFlagsSwitch(t *testing.T) {
	p := Default()
	require.True(t, p.BF16)

	got := p.Apply(Overrides{FP16: pointer.Bool(true)})
	assert.True(t, got.FP16)
	assert.False(t, got.BF16)

	got = got.Apply(Overrides{BF16: pointer.Bool(true)})
	assert.True(t, got.BF16)
	assert.False(t, got.FP16)

	// Setting both explicitly is left to Validate to reject.
	got = p.Apply(Overrides{FP16: pointer.Bool(true), BF16: pointer.Bool(true)})
	assert.True(t, got.FP16)
	assert.True(t, got.BF16)
	assert.Error(t, got.Validate(8, 1, 8))
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate           func(p *Parameters)
		processesPerHost int
		instanceCount    int
		batch            int64
		wantErrs         int
	}{
		"default is valid": {
			mutate:           func(p *Parameters) {},
			processesPerHost: 8, instanceCount: 1, batch: 4,
		},
		"tp8 pp2 on two hosts": {
			mutate: func(p *Parameters) {
				p.TensorParallelDegree = 8
				p.PipelineParallelDegree = 2
				p.Microbatches = 2
			},
			processesPerHost: 8, instanceCount: 2, batch: 4,
		},
		"degree does not divide processes": {
			mutate:           func(p *Parameters) { p.TensorParallelDegree = 3 },
			processesPerHost: 8, instanceCount: 1, batch: 4,
			wantErrs: 1,
		},
		"microbatches do not divide batch": {
			mutate:           func(p *Parameters) { p.Microbatches = 3 },
			processesPerHost: 8, instanceCount: 1, batch: 4,
			wantErrs: 1,
		},
		"zero degrees": {
			mutate: func(p *Parameters) {
				p.TensorParallelDegree = 0
				p.PipelineParallelDegree = 0
				p.Microbatches = 0
			},
			processesPerHost: 8, instanceCount: 1, batch: 4,
			wantErrs: 3,
		},
		"sharding without ddp and bad optimize": {
			mutate: func(p *Parameters) {
				p.ShardOptimizerState = true
				p.DDP = false
				p.Optimize = "fast"
			},
			processesPerHost: 8, instanceCount: 1, batch: 4,
			wantErrs: 2,
		},
		"default partition out of range": {
			mutate:           func(p *Parameters) { p.DefaultPartition = 1 },
			processesPerHost: 8, instanceCount: 1, batch: 4,
			wantErrs: 1,
		},
		"no processes": {
			mutate:           func(p *Parameters) {},
			processesPerHost: 0, instanceCount: 1, batch: 4,
			wantErrs: 1,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			p := Default()
			tc.mutate(&p)
			err := p.Validate(tc.processesPerHost, tc.instanceCount, tc.batch)
			if tc.wantErrs == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			merr, ok := err.(*multierror.Error)
			require.True(t, ok)
			assert.Len(t, merr.Errors, tc.wantErrs)
		})
	}
}

func TestDataParallelDegree(t *testing.T) {
	p := Default()
	p.TensorParallelDegree = 4
	assert.Equal(t, 4, p.DataParallelDegree(16))
	assert.Equal(t, 4, p.ModelParallelDegree())

	p.TensorParallelDegree = 0
	assert.Equal(t, 0, p.DataParallelDegree(16))
}

func TestJSON(t *testing.T) {
	p := Default()
	p.TensorParallelDegree = 8
	p.PipelineParallelDegree = 2

	s, err := p.JSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"auto_partition":true,"bf16":true,"ddp":true,"default_partition":0,"delayed_parameter_initialization":true,`+
			`"fp16":false,"microbatches":1,"optimize":"speed","partitions":2,"pipeline_parallel_degree":2,`+
			`"prescaled_batch":false,"shard_optimizer_state":false,"tensor_parallel_degree":8}`,
		s)
}

func TestHyperparameters(t *testing.T) {
	p := Default()
	p.TensorParallelDegree = 4
	p.PrescaledBatch = true

	h := p.Hyperparameters()
	assert.Equal(t, int64(4), h["tensor_parallel_degree"])
	assert.Equal(t, int64(1), h["prescaled_batch"])
	assert.Equal(t, int64(0), h["fp16"])
	assert.Equal(t, int64(1), h["bf16"])
	assert.NoError(t, hyperparams.Set(h).Validate())
}
