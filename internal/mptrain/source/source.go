// Package source packages the training script directory and uploads it where the training
// toolkit inside the container will download it from.
package source

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

const contentType = "application/gzip"

var skippedDirs = map[string]bool{
	".git":        true,
	"__pycache__": true,
}

func skipFile(name string) bool {
	return strings.HasSuffix(name, ".pyc")
}

// IsRemote reports whether dir is an already uploaded bundle rather than a local directory.
func IsRemote(dir string) bool {
	return strings.HasPrefix(dir, "s3://")
}

// Package writes dir as a gzipped tarball with paths relative to dir. Version control metadata
// and Python bytecode are left out. entryPoint must be a regular file inside dir.
func Package(dir, entryPoint string) (*bytes.Buffer, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.WithStack(&mperrors.ErrInvalidArgument{Name: "sourceDir", Value: dir, Message: err.Error()})
	}
	if !info.IsDir() {
		return nil, errors.WithStack(&mperrors.ErrInvalidArgument{Name: "sourceDir", Value: dir, Message: "not a directory"})
	}
	entry, err := os.Stat(filepath.Join(dir, entryPoint))
	if err != nil || !entry.Mode().IsRegular() {
		return nil, errors.WithStack(&mperrors.ErrInvalidArgument{
			Name:    "entryPoint",
			Value:   entryPoint,
			Message: fmt.Sprintf("must be a file inside %s", dir),
		})
	}

	buf := &bytes.Buffer{}
	gz := pgzip.NewWriter(buf)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if d.IsDir() && skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		if !d.IsDir() && (skipFile(d.Name()) || !d.Type().IsRegular()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addToArchive(tw, path, filepath.ToSlash(rel), d)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error packaging %s", dir)
	}
	if err := tw.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := gz.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf, nil
}

func addToArchive(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name
	if d.IsDir() {
		header.Name += "/"
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if d.IsDir() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// UploadAPI is the subset of the s3manager uploader used here.
type UploadAPI interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

type Uploader struct {
	api UploadAPI
}

func NewUploader(api UploadAPI) *Uploader {
	return &Uploader{api: api}
}

// Upload packages sourceDir and uploads it to bucket/key, returning the s3:// URI of the
// bundle. An s3:// sourceDir is returned unchanged.
func (u *Uploader) Upload(ctx *jobcontext.Context, sourceDir, entryPoint, bucket, key string) (string, error) {
	if IsRemote(sourceDir) {
		ctx.Log.Infof("using uploaded source bundle %s", sourceDir)
		return sourceDir, nil
	}
	bundle, err := Package(sourceDir, entryPoint)
	if err != nil {
		return "", err
	}
	uri := fmt.Sprintf("s3://%s/%s", bucket, key)
	size := bundle.Len()
	_, err = u.api.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bundle,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.WithMessagef(err, "error uploading source to %s", uri)
	}
	ctx.Log.Infof("uploaded %s (%d bytes) to %s", sourceDir, size, uri)
	return uri, nil
}
