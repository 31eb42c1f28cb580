// Package distribution decides how a training job is laid out across hosts: processes per
// host, MPI launcher options and the reserved platform hyperparameters that switch on the
// model-parallelism runtime.
package distribution

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

// InstanceType describes the accelerator layout of a training instance type.
type InstanceType struct {
	Name string
	GPUs int
	// EFA is set for types with an Elastic Fabric Adapter.
	EFA bool
	// GPUDirectRDMA is set for types whose EFA supports GPU-direct RDMA.
	GPUDirectRDMA bool
}

var instanceTypes = map[string]InstanceType{
	"ml.p3.2xlarge":    {Name: "ml.p3.2xlarge", GPUs: 1},
	"ml.p3.8xlarge":    {Name: "ml.p3.8xlarge", GPUs: 4},
	"ml.p3.16xlarge":   {Name: "ml.p3.16xlarge", GPUs: 8},
	"ml.p3dn.24xlarge": {Name: "ml.p3dn.24xlarge", GPUs: 8, EFA: true},
	"ml.p4d.24xlarge":  {Name: "ml.p4d.24xlarge", GPUs: 8, EFA: true, GPUDirectRDMA: true},
	"ml.p4de.24xlarge": {Name: "ml.p4de.24xlarge", GPUs: 8, EFA: true, GPUDirectRDMA: true},
	"ml.p5.48xlarge":   {Name: "ml.p5.48xlarge", GPUs: 8, EFA: true, GPUDirectRDMA: true},
	"ml.g4dn.12xlarge": {Name: "ml.g4dn.12xlarge", GPUs: 4},
	"ml.g4dn.metal":    {Name: "ml.g4dn.metal", GPUs: 8, EFA: true},
	"ml.g5.2xlarge":    {Name: "ml.g5.2xlarge", GPUs: 1},
	"ml.g5.12xlarge":   {Name: "ml.g5.12xlarge", GPUs: 4},
	"ml.g5.24xlarge":   {Name: "ml.g5.24xlarge", GPUs: 4},
	"ml.g5.48xlarge":   {Name: "ml.g5.48xlarge", GPUs: 8, EFA: true},
}

// LookupInstanceType returns the catalog entry for name. Unknown and CPU-only types are rejected:
// the model-parallelism runtime needs GPUs.
func LookupInstanceType(name string) (InstanceType, error) {
	it, ok := instanceTypes[name]
	if !ok {
		return InstanceType{}, errors.WithStack(&mperrors.ErrInvalidArgument{
			Name:    "instanceType",
			Value:   name,
			Message: fmt.Sprintf("not a supported GPU training instance type; supported types are %s", strings.Join(InstanceTypeNames(), ", ")),
		})
	}
	return it, nil
}

// InstanceTypeNames lists the supported instance types in sorted order.
func InstanceTypeNames() []string {
	names := maps.Keys(instanceTypes)
	slices.Sort(names)
	return names
}

// ProcessesPerHost is one process per GPU.
func ProcessesPerHost(instanceType string) (int, error) {
	it, err := LookupInstanceType(instanceType)
	if err != nil {
		return 0, err
	}
	return it.GPUs, nil
}

// Family returns the short family name used in job names: "ml.p4d.24xlarge" -> "p4d".
func Family(instanceType string) string {
	parts := strings.Split(instanceType, ".")
	if len(parts) >= 2 {
		return parts[1]
	}
	return instanceType
}
