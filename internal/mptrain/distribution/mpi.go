package distribution

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/armadaproject/mptrain/internal/mptrain/modelparallel"
)

var baseMPIOptions = []string{
	"NCCL_DEBUG=WARN",
	"SMDEBUG_LOG_LEVEL=ERROR",
	"SMP_DISABLE_D2D=1",
	"SMP_D2D_GPU_BUFFER_SIZE_BYTES=1",
	"SMP_NCCL_THROTTLE_LIMIT=1",
}

var efaMPIOptions = []string{
	"FI_PROVIDER=efa",
	"RDMAV_FORK_SAFE=1",
}

var rdmaMPIOptions = []string{
	"FI_EFA_USE_DEVICE_RDMA=1",
}

// MPIOptions returns the custom mpirun options for the instance type. EFA variables are only
// exported where the hardware has an adapter, and device RDMA only where it is supported.
func MPIOptions(it InstanceType) string {
	vars := append([]string{}, baseMPIOptions...)
	if it.EFA {
		vars = append(vars, efaMPIOptions...)
	}
	if it.GPUDirectRDMA {
		vars = append(vars, rdmaMPIOptions...)
	}
	opts := make([]string, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, "-x "+v)
	}
	return strings.Join(opts, " ")
}

// Reserved platform hyperparameters.
const (
	KeyMPIEnabled          = "sagemaker_mpi_enabled"
	KeyProcessesPerHost    = "sagemaker_mpi_num_of_processes_per_host"
	KeyCustomMPIOptions    = "sagemaker_mpi_custom_mpi_options"
	KeyModelParallel       = "mp_parameters"
	KeyDataParallelEnabled = "sagemaker_distributed_dataparallel_enabled"
	KeyInstanceType        = "sagemaker_instance_type"
)

// Hyperparameters returns the reserved keys that launch the training script under MPI with the
// model-parallelism runtime enabled. Values are already JSON-encoded.
func Hyperparameters(it InstanceType, mp modelparallel.Parameters) (map[string]string, error) {
	mpJSON, err := mp.JSON()
	if err != nil {
		return nil, err
	}
	mpiOptions, err := json.Marshal(MPIOptions(it))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	instanceType, err := json.Marshal(it.Name)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return map[string]string{
		KeyMPIEnabled:          "true",
		KeyProcessesPerHost:    strconv.Itoa(it.GPUs),
		KeyCustomMPIOptions:    string(mpiOptions),
		KeyModelParallel:       mpJSON,
		KeyDataParallelEnabled: "false",
		KeyInstanceType:        string(instanceType),
	}, nil
}
