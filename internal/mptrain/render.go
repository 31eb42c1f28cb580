package mptrain

import (
	"bytes"
	"encoding/json"

	"github.com/aws/aws-sdk-go/private/protocol/json/jsonutil"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

const (
	FormatYAML  = "yaml"
	FormatJSON  = "json"
	FormatTable = "table"
)

type RenderConfig struct {
	JobFile string
	Role    string
	Bucket  string
	// Format is yaml or json.
	Format string
}

func (config *RenderConfig) Validate() error {
	if config.JobFile == "" {
		return errors.WithStack(&mperrors.ErrInvalidArgument{Name: "JobFile", Value: config.JobFile, Message: "not provided"})
	}
	if config.Format != FormatYAML && config.Format != FormatJSON {
		return errors.WithStack(&mperrors.ErrInvalidArgument{Name: "Format", Value: config.Format, Message: "must be yaml or json"})
	}
	return nil
}

// Render prints the CreateTrainingJob request the job file would produce, without creating
// anything. The role and bucket are still resolved so that the output matches a real submission.
func (a *App) Render(config *RenderConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	spec, err := loadSpec(config.JobFile, config.Role, config.Bucket)
	if err != nil {
		return err
	}
	s, err := a.services()
	if err != nil {
		return err
	}
	plan, err := s.builder.Plan(spec, s.region)
	if err != nil {
		return err
	}
	ctx, cancel := jobContext(plan.JobName)
	defer cancel()
	input, err := a.prepare(ctx, s, plan, false)
	if err != nil {
		return err
	}
	return a.printRequest(input, config.Format)
}

// printRequest writes input using the API's own field names, leaving out unset fields.
func (a *App) printRequest(input *sagemaker.CreateTrainingJobInput, format string) error {
	b, err := jsonutil.BuildJSON(input)
	if err != nil {
		return errors.WithStack(err)
	}
	var out []byte
	switch format {
	case FormatJSON:
		buf := &bytes.Buffer{}
		if err := json.Indent(buf, b, "", "  "); err != nil {
			return errors.WithStack(err)
		}
		buf.WriteByte('\n')
		out = buf.Bytes()
	default:
		out, err = yaml.JSONToYAML(b)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	_, err = a.Out.Write(out)
	return errors.WithStack(err)
}
