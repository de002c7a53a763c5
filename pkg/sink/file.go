package sink

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// PprofFile is an Encoder that rewrites a pprof file on every Flush.
type PprofFile struct {
	*PprofEncoder
	fs   afero.Fs
	path string
}

func NewPprofFile(path string, opts PprofOptions) (*PprofFile, error) {
	return NewPprofFileFs(afero.NewOsFs(), path, opts)
}

func NewPprofFileFs(fs afero.Fs, path string, opts PprofOptions) (*PprofFile, error) {
	enc, err := NewPprofEncoder(opts)
	if err != nil {
		return nil, err
	}
	return &PprofFile{PprofEncoder: enc, fs: fs, path: path}, nil
}

func (f *PprofFile) Path() string {
	return f.path
}

// Flush writes the profile to a temporary file and renames it over path.
func (f *PprofFile) Flush() error {
	tmp, err := afero.TempFile(f.fs, filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating profile file")
	}
	defer func() { _ = f.fs.Remove(tmp.Name()) }()
	if _, err = f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "writing profile %s", f.path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "writing profile %s", f.path)
	}
	if err = f.fs.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrapf(err, "renaming profile %s", f.path)
	}
	return nil
}

func (f *PprofFile) Close() error {
	return f.Flush()
}
