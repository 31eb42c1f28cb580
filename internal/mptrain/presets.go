package mptrain

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/distribution"
	"github.com/armadaproject/mptrain/internal/mptrain/preset"
)

type modelListing struct {
	Name                   string `yaml:"name"`
	Description            string `yaml:"description"`
	HiddenWidth            int64  `yaml:"hiddenWidth"`
	Layers                 int64  `yaml:"layers"`
	Heads                  int64  `yaml:"heads"`
	TrainBatchSize         int64  `yaml:"trainBatchSize"`
	TensorParallelDegree   int    `yaml:"tensorParallelDegree"`
	PipelineParallelDegree int    `yaml:"pipelineParallelDegree"`
	Microbatches           int    `yaml:"microbatches"`
	ShardOptimizerState    bool   `yaml:"shardOptimizerState"`
}

type datasetListing struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Channels    []string `yaml:"channels"`
}

type instanceTypeListing struct {
	Name          string `yaml:"name"`
	GPUs          int    `yaml:"gpus"`
	EFA           bool   `yaml:"efa"`
	GPUDirectRDMA bool   `yaml:"gpuDirectRdma"`
}

type presetListing struct {
	Models        []modelListing        `yaml:"models"`
	Datasets      []datasetListing      `yaml:"datasets"`
	InstanceTypes []instanceTypeListing `yaml:"instanceTypes"`
}

func listPresets() presetListing {
	var listing presetListing
	for _, m := range preset.Models() {
		// Presets are built from integers, so these can't fail.
		hidden, _ := m.Hyperparameters.Int("hidden_width")
		layers, _ := m.Hyperparameters.Int("num_layers")
		heads, _ := m.Hyperparameters.Int("num_heads")
		batch, _ := m.Hyperparameters.Int("train_batch_size")
		listing.Models = append(listing.Models, modelListing{
			Name:                   m.Name,
			Description:            m.Description,
			HiddenWidth:            hidden,
			Layers:                 layers,
			Heads:                  heads,
			TrainBatchSize:         batch,
			TensorParallelDegree:   m.ModelParallel.TensorParallelDegree,
			PipelineParallelDegree: m.ModelParallel.PipelineParallelDegree,
			Microbatches:           m.ModelParallel.Microbatches,
			ShardOptimizerState:    m.ModelParallel.ShardOptimizerState,
		})
	}
	for _, d := range preset.Datasets() {
		listing.Datasets = append(listing.Datasets, datasetListing{
			Name:        d.Name,
			Description: d.Description,
			Channels:    d.Channels,
		})
	}
	for _, name := range distribution.InstanceTypeNames() {
		it, _ := distribution.LookupInstanceType(name)
		listing.InstanceTypes = append(listing.InstanceTypes, instanceTypeListing{
			Name:          it.Name,
			GPUs:          it.GPUs,
			EFA:           it.EFA,
			GPUDirectRDMA: it.GPUDirectRDMA,
		})
	}
	return listing
}

// Presets prints the model presets, dataset presets and supported instance types.
func (a *App) Presets(format string) error {
	listing := listPresets()
	switch format {
	case FormatYAML:
		out, err := yaml.Marshal(listing)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = a.Out.Write(out)
		return errors.WithStack(err)
	case FormatTable, "":
		return a.printPresetTables(listing)
	}
	return errors.WithStack(&mperrors.ErrInvalidArgument{Name: "output", Value: format, Message: "must be table or yaml"})
}

func (a *App) printPresetTables(listing presetListing) error {
	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tHIDDEN\tLAYERS\tHEADS\tBATCH\tTP\tPP\tMICROBATCHES\tSHARDED\tDESCRIPTION")
	for _, m := range listing.Models {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%t\t%s\n",
			m.Name, m.HiddenWidth, m.Layers, m.Heads, m.TrainBatchSize,
			m.TensorParallelDegree, m.PipelineParallelDegree, m.Microbatches, m.ShardOptimizerState, m.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(a.Out)

	w = tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintln(w, "DATASET\tCHANNELS\tDESCRIPTION")
	for _, d := range listing.Datasets {
		channels := strings.Join(d.Channels, ",")
		if channels == "" {
			channels = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, channels, d.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(a.Out)

	w = tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE TYPE\tGPUS\tEFA\tGPU-DIRECT RDMA")
	for _, it := range listing.InstanceTypes {
		fmt.Fprintf(w, "%s\t%d\t%t\t%t\n", it.Name, it.GPUs, it.EFA, it.GPUDirectRDMA)
	}
	return w.Flush()
}
