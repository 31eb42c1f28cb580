package util

import (
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/yaml"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

// BindJsonOrYaml decodes the file at filePath, which may be either YAML or JSON, into obj.
// A missing file is reported as ErrNotFound and a malformed one as ErrInvalidArgument.
func BindJsonOrYaml(filePath string, obj interface{}) error {
	reader, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return errors.WithStack(&mperrors.ErrNotFound{Type: "file", Value: filePath})
	} else if err != nil {
		return errors.Wrapf(err, "failed opening file %s", filePath)
	}
	defer reader.Close()

	if err := yaml.NewYAMLOrJSONDecoder(reader, 128).Decode(obj); err != nil {
		return errors.WithStack(&mperrors.ErrInvalidArgument{Name: "file", Value: filePath, Message: err.Error()})
	}
	return nil
}
