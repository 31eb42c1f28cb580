package preset

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/hyperparams"
)

// DatasetPreset names a dataset layout: which input channels exist under the data root, and
// which hyperparameters tell the training script how to read them.
type DatasetPreset struct {
	Name            string
	Description     string
	Channels        []string
	Hyperparameters hyperparams.Set
}

// Synthetic reports whether the dataset is generated inside the container, in which case no
// input channels are attached.
func (d DatasetPreset) Synthetic() bool {
	return len(d.Channels) == 0
}

var datasets = map[string]DatasetPreset{
	"openwebtext": {
		Name:            "openwebtext",
		Description:     "OpenWebText, pre-tokenized and gzipped",
		Channels:        []string{"train", "val"},
		Hyperparameters: hyperparams.Set{"zipped_data": int64(1)},
	},
	"wikicorpus": {
		Name:            "wikicorpus",
		Description:     "Wikipedia corpus, pre-tokenized",
		Channels:        []string{"train", "val"},
		Hyperparameters: hyperparams.Set{"zipped_data": int64(0)},
	},
	"glue": {
		Name:            "glue",
		Description:     "GLUE SST-2",
		Channels:        []string{"train", "test"},
		Hyperparameters: hyperparams.Set{"zipped_data": int64(0)},
	},
	"synthetic": {
		Name:            "synthetic",
		Description:     "Randomly generated token ids, no input channels",
		Hyperparameters: hyperparams.Set{"use_synthetic_data": int64(1)},
	},
}

// Dataset returns the named dataset preset.
func Dataset(name string) (DatasetPreset, error) {
	d, ok := datasets[name]
	if !ok {
		return DatasetPreset{}, errors.WithStack(&mperrors.ErrInvalidArgument{
			Name:    "dataset",
			Value:   name,
			Message: fmt.Sprintf("unknown dataset; known datasets are %s", strings.Join(DatasetNames(), ", ")),
		})
	}
	d.Channels = append([]string(nil), d.Channels...)
	d.Hyperparameters = hyperparams.Merge(d.Hyperparameters)
	return d, nil
}

// DatasetNames lists the dataset presets in sorted order.
func DatasetNames() []string {
	names := maps.Keys(datasets)
	slices.Sort(names)
	return names
}

// Datasets lists the dataset presets sorted by name.
func Datasets() []DatasetPreset {
	out := make([]DatasetPreset, 0, len(datasets))
	for _, name := range DatasetNames() {
		d, _ := Dataset(name)
		out = append(out, d)
	}
	return out
}
