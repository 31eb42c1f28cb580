package preset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

func TestModel(t *testing.T) {
	m, err := Model("gpt2-30b")
	require.NoError(t, err)

	assert.Equal(t, int64(7168), m.Hyperparameters["hidden_width"])
	assert.Equal(t, int64(48), m.Hyperparameters["num_layers"])
	assert.Equal(t, int64(64), m.Hyperparameters["num_heads"])
	assert.Equal(t, int64(5), m.Hyperparameters["train_batch_size"])
	assert.Equal(t, 8, m.ModelParallel.TensorParallelDegree)
	assert.Equal(t, 1, m.ModelParallel.PipelineParallelDegree)
	assert.True(t, m.ModelParallel.ShardOptimizerState)
}

func TestModel_Unknown(t *testing.T) {
	_, err := Model("gpt5")
	require.Error(t, err)

	var invalid *mperrors.ErrInvalidArgument
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "model", invalid.Name)
	assert.Contains(t, invalid.Message, "gpt2-xl")
}

func TestModel_ReturnsCopy(t *testing.T) {
	m, err := Model("gpt2-xl")
	require.NoError(t, err)
	m.Hyperparameters["num_layers"] = int64(1)

	again, err := Model("gpt2-xl")
	require.NoError(t, err)
	assert.Equal(t, int64(48), again.Hyperparameters["num_layers"])
}

func TestModels_AreValidForEightGPUs(t *testing.T) {
	for _, m := range Models() {
		t.Run(m.Name, func(t *testing.T) {
			batch, err := m.Hyperparameters.Int("train_batch_size")
			require.NoError(t, err)
			instances := 1
			if m.ModelParallel.ModelParallelDegree() > 8 {
				instances = m.ModelParallel.ModelParallelDegree() / 8
			}
			assert.NoError(t, m.ModelParallel.Validate(8, instances, batch))
		})
	}
}

func TestModelNames_Sorted(t *testing.T) {
	assert.Equal(t, []string{"gpt-j-6b", "gpt-neox-20b", "gpt2-30b", "gpt2-small", "gpt2-xl"}, ModelNames())
}

func TestDataset(t *testing.T) {
	d, err := Dataset("openwebtext")
	require.NoError(t, err)
	assert.Equal(t, []string{"train", "val"}, d.Channels)
	assert.Equal(t, int64(1), d.Hyperparameters["zipped_data"])
	assert.False(t, d.Synthetic())

	s, err := Dataset("synthetic")
	require.NoError(t, err)
	assert.True(t, s.Synthetic())
}

func TestDataset_Unknown(t *testing.T) {
	_, err := Dataset("imagenet")
	require.Error(t, err)
	assert.Equal(t, mperrors.ExitInvalidArgument, mperrors.ExitCodeFromError(err))
}

func TestDatasets(t *testing.T) {
	names := make([]string, 0)
	for _, d := range Datasets() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"glue", "openwebtext", "synthetic", "wikicorpus"}, names)
}
