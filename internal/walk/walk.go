// Package walk enumerates the files of a directory tree together with a
// stable identity for each file.
package walk

import (
	stderrors "errors"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/vango-dev/hotreload/internal/errors"
)

// Identity distinguishes one physical file from another regardless of its
// path. Dev and Ino come from the platform file serial number; Path is only
// set when the backing filesystem exposes no serial.
type Identity struct {
	Dev  uint64
	Ino  uint64
	Path string
}

// String renders the identity for logs.
func (id Identity) String() string {
	if id.Path != "" {
		return "path:" + id.Path
	}
	return "dev:" + strconv.FormatUint(id.Dev, 10) + "/ino:" + strconv.FormatUint(id.Ino, 10)
}

// File describes one regular file seen during a walk.
type File struct {
	Path     string
	Identity Identity
	ModTime  time.Time
	Size     int64
}

// Walker produces the files under Root whose extension passes the filter.
// It holds no state between walks.
type Walker struct {
	fs   afero.Fs
	root string
	exts map[string]struct{}
}

// New creates a Walker over fsys. Extensions may be given with or without
// the leading dot; an empty list matches every file.
func New(fsys afero.Fs, root string, exts []string) *Walker {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	w := &Walker{
		fs:   fsys,
		root: filepath.Clean(root),
	}
	for _, ext := range exts {
		ext = strings.TrimPrefix(ext, ".")
		if ext == "" {
			continue
		}
		if w.exts == nil {
			w.exts = make(map[string]struct{}, len(exts))
		}
		w.exts[ext] = struct{}{}
	}
	return w
}

// Root returns the cleaned root path.
func (w *Walker) Root() string {
	return w.root
}

// Match reports whether a file name passes the extension filter.
func (w *Walker) Match(name string) bool {
	if len(w.exts) == 0 {
		return true
	}
	_, ok := w.exts[Ext(name)]
	return ok
}

// errStop ends a walk early when the consumer stops ranging.
var errStop = stderrors.New("walk: stopped")

// Files checks that the root can be listed and returns a lazy sequence of
// matching files. Each range over the sequence walks the tree afresh.
//
// Listing failures are yielded as errors with a zero File. A root that can
// no longer be listed yields an E100 error and ends the walk; an unreadable
// directory or entry below it yields E111 with its path and the walk goes
// on without it. Entries that vanish mid-walk are skipped silently.
//
// Symbolic links to regular files are followed and reported with the
// target's identity and mtime under the link's path. Links to directories
// are not descended into.
func (w *Walker) Files() (iter.Seq2[File, error], error) {
	if err := w.checkRoot(); err != nil {
		return nil, err
	}

	return func(yield func(File, error) bool) {
		_ = afero.Walk(w.fs, w.root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return w.walkError(path, err, yield)
			}
			if info.IsDir() {
				return nil
			}
			if info.Mode()&os.ModeSymlink != 0 {
				target, err := w.fs.Stat(path)
				if err != nil {
					return w.walkError(path, err, yield)
				}
				info = target
			}
			if !info.Mode().IsRegular() || !w.Match(filepath.Base(path)) {
				return nil
			}

			id, ok := identityOf(path, info)
			if !ok {
				return nil
			}
			if !yield(File{
				Path:     path,
				Identity: id,
				ModTime:  info.ModTime(),
				Size:     info.Size(),
			}, nil) {
				return errStop
			}
			return nil
		})
	}, nil
}

// walkError turns a failure reported by afero.Walk into a yielded error.
func (w *Walker) walkError(path string, err error, yield func(File, error) bool) error {
	if filepath.Clean(path) == w.root {
		yield(File{}, errors.New("E100").WithPath(w.root).Wrap(err))
		return errStop
	}
	if os.IsNotExist(err) {
		return nil
	}
	if !yield(File{}, errors.New("E111").WithPath(path).Wrap(err)) {
		return errStop
	}
	return nil
}

// Dirs returns every directory under the root, the root included.
// Unreadable subdirectories are skipped.
func (w *Walker) Dirs() ([]string, error) {
	if err := w.checkRoot(); err != nil {
		return nil, err
	}

	var dirs []string
	_ = afero.Walk(w.fs, w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if info != nil && info.IsDir() && path != w.root {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, nil
}

// checkRoot opens the root and reads from it, so that a directory that
// exists but cannot be listed fails here rather than walking as empty.
func (w *Walker) checkRoot() error {
	info, err := w.fs.Stat(w.root)
	if err != nil {
		return errors.New("E100").WithPath(w.root).Wrap(err)
	}
	if !info.IsDir() {
		return errors.New("E100").
			WithPath(w.root).
			WithDetail("The root path is not a directory.")
	}

	f, err := w.fs.Open(w.root)
	if err != nil {
		return errors.New("E100").WithPath(w.root).Wrap(err)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && err != io.EOF {
		return errors.New("E100").WithPath(w.root).Wrap(err)
	}
	return nil
}

// Ext returns the extension of name without the dot, matching what
// follows the final dot of the base name.
func Ext(name string) string {
	return strings.TrimPrefix(filepath.Ext(name), ".")
}

// pathIdentity is used when the filesystem offers no file serial.
func pathIdentity(path string) Identity {
	return Identity{Path: filepath.Clean(path)}
}
