package localdisc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/AnishMulay/sandreplay/internal/blob_area"
	"github.com/AnishMulay/sandreplay/internal/ioctx"
	"github.com/AnishMulay/sandreplay/internal/log_service"
)

const tmpSuffix = ".tmp"

// LocalDiscBlobArea keeps each blob as a file directly under baseDir.
// Every call returns ctx.Err() once ctx ends, even if the filesystem stalls.
type LocalDiscBlobArea struct {
	fs      afero.Fs
	baseDir string
	ls      log_service.LogService
}

// NewLocalDiscBlobArea stores blobs on the OS filesystem.
func NewLocalDiscBlobArea(baseDir string, ls log_service.LogService) (*LocalDiscBlobArea, error) {
	return NewBlobArea(afero.NewOsFs(), baseDir, ls)
}

// NewBlobArea stores blobs on fs, creating baseDir when it does not exist.
func NewBlobArea(fs afero.Fs, baseDir string, ls log_service.LogService) (*LocalDiscBlobArea, error) {
	exists, err := afero.DirExists(fs, baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", blob_area.ErrBlobAreaUnavailable, baseDir, err)
	}
	if !exists {
		if err := fs.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", blob_area.ErrBlobAreaUnavailable, baseDir, err)
		}
	}

	return &LocalDiscBlobArea{
		fs:      fs,
		baseDir: baseDir,
		ls:      ls,
	}, nil
}

func (ba *LocalDiscBlobArea) blobPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
		return "", fmt.Errorf("%w: %q", blob_area.ErrInvalidBlobName, name)
	}
	return filepath.Join(ba.baseDir, name), nil
}

func (ba *LocalDiscBlobArea) Write(ctx context.Context, name string, data []byte) error {
	path, err := ba.blobPath(name)
	if err != nil {
		return err
	}
	return ioctx.Run(ctx, func() error { return ba.write(name, path, data) })
}

func (ba *LocalDiscBlobArea) write(name, path string, data []byte) error {
	ba.ls.Debug(log_service.LogEvent{
		Message:  "Writing blob",
		Metadata: map[string]any{"blob": name, "size": len(data)},
	})

	// Write then rename so a reader never sees a partial blob.
	tmp := path + tmpSuffix
	if err := afero.WriteFile(ba.fs, tmp, data, 0644); err != nil {
		ba.ls.Error(log_service.LogEvent{
			Message:  "Failed to write blob",
			Metadata: map[string]any{"blob": name, "error": err.Error()},
		})
		_ = ba.fs.Remove(tmp)
		return fmt.Errorf("%w: %s: %v", blob_area.ErrBlobWriteFailed, name, err)
	}
	if err := ba.fs.Rename(tmp, path); err != nil {
		ba.ls.Error(log_service.LogEvent{
			Message:  "Failed to commit blob",
			Metadata: map[string]any{"blob": name, "error": err.Error()},
		})
		_ = ba.fs.Remove(tmp)
		return fmt.Errorf("%w: %s: %v", blob_area.ErrBlobWriteFailed, name, err)
	}
	return nil
}

func (ba *LocalDiscBlobArea) Read(ctx context.Context, name string) ([]byte, error) {
	path, err := ba.blobPath(name)
	if err != nil {
		return nil, err
	}
	return ioctx.Do(ctx, func() ([]byte, error) { return ba.read(name, path) })
}

func (ba *LocalDiscBlobArea) read(name, path string) ([]byte, error) {
	data, err := afero.ReadFile(ba.fs, path)
	if err != nil {
		ba.ls.Error(log_service.LogEvent{
			Message:  "Failed to read blob",
			Metadata: map[string]any{"blob": name, "error": err.Error()},
		})
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", blob_area.ErrBlobNotFound, name)
		}
		return nil, fmt.Errorf("%w: %s: %v", blob_area.ErrBlobReadFailed, name, err)
	}
	return data, nil
}

func (ba *LocalDiscBlobArea) Delete(ctx context.Context, name string) error {
	path, err := ba.blobPath(name)
	if err != nil {
		return err
	}
	return ioctx.Run(ctx, func() error { return ba.delete(name, path) })
}

func (ba *LocalDiscBlobArea) delete(name, path string) error {
	if err := ba.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		ba.ls.Warn(log_service.LogEvent{
			Message:  "Failed to delete blob",
			Metadata: map[string]any{"blob": name, "error": err.Error()},
		})
		return fmt.Errorf("%w: %s: %v", blob_area.ErrBlobDeleteFailed, name, err)
	}
	return nil
}

// List skips in-flight temporary files.
func (ba *LocalDiscBlobArea) List(ctx context.Context) ([]string, error) {
	return ioctx.Do(ctx, ba.list)
}

func (ba *LocalDiscBlobArea) list() ([]string, error) {
	infos, err := afero.ReadDir(ba.fs, ba.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", blob_area.ErrBlobReadFailed, ba.baseDir, err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || strings.HasSuffix(info.Name(), tmpSuffix) {
			continue
		}
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, nil
}

var _ blob_area.BlobArea = (*LocalDiscBlobArea)(nil)
