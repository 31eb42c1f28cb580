package request

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/armadaproject/mptrain/internal/mptrain/distribution"
	"github.com/armadaproject/mptrain/internal/mptrain/modelparallel"
)

const (
	MaxJobNameLength = 63
	timestampFormat  = "2006-01-02-15-04-05.000"
	// Room left for the base name once "-" and the timestamp are appended.
	maxBaseLength = MaxJobNameLength - len(timestampFormat) - 1
	fallbackBase  = "mptrain"
)

var invalidJobNameChars = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// JobName appends a millisecond timestamp to base, truncating base so that the result fits
// the 63 character limit on training job names.
func JobName(base string, now time.Time) string {
	base = strings.TrimLeft(invalidJobNameChars.ReplaceAllString(base, "-"), "-")
	if base == "" {
		base = fallbackBase
	}
	if len(base) > maxBaseLength {
		base = base[:maxBaseLength]
	}
	timestamp := strings.Replace(now.UTC().Format(timestampFormat), ".", "-", 1)
	return base + "-" + timestamp
}

// DefaultBaseJobName describes the run in the job name: model, instance family and layout.
func DefaultBaseJobName(model, instanceType string, mp modelparallel.Parameters, trainBatchSize int64) string {
	return fmt.Sprintf("smp-%s-%s-tp%d-pp%d-bs%d",
		model, distribution.Family(instanceType), mp.TensorParallelDegree, mp.PipelineParallelDegree, trainBatchSize)
}
