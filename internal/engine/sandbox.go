package engine

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"

	"github.com/traefik/yaegi/interp"
)

// sandbox maps paths seen by interpreted programs onto the staging directory.
// "/" and "." are both the sandbox root; nothing resolves outside it.
type sandbox struct {
	root string
}

func (s sandbox) resolve(name string) string {
	return filepath.Join(s.root, filepath.Clean("/"+name))
}

// relabel reports errors with the path the program used, not the host path.
func relabel(err error, name string) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		pe.Path = name
	}
	return err
}

func (s sandbox) open(name string) (*os.File, error) {
	f, err := os.Open(s.resolve(name))
	return f, relabel(err, name)
}

func (s sandbox) create(name string) (*os.File, error) {
	f, err := os.Create(s.resolve(name))
	return f, relabel(err, name)
}

func (s sandbox) openFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(s.resolve(name), flag, perm)
	return f, relabel(err, name)
}

func (s sandbox) readFile(name string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(name))
	return data, relabel(err, name)
}

func (s sandbox) writeFile(name string, data []byte, perm os.FileMode) error {
	return relabel(os.WriteFile(s.resolve(name), data, perm), name)
}

func (s sandbox) stat(name string) (os.FileInfo, error) {
	info, err := os.Stat(s.resolve(name))
	return info, relabel(err, name)
}

func (s sandbox) lstat(name string) (os.FileInfo, error) {
	info, err := os.Lstat(s.resolve(name))
	return info, relabel(err, name)
}

func (s sandbox) readDir(name string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(s.resolve(name))
	return entries, relabel(err, name)
}

func (s sandbox) remove(name string) error {
	return relabel(os.Remove(s.resolve(name)), name)
}

func (s sandbox) removeAll(name string) error {
	return relabel(os.RemoveAll(s.resolve(name)), name)
}

func (s sandbox) mkdir(name string, perm os.FileMode) error {
	return relabel(os.Mkdir(s.resolve(name), perm), name)
}

func (s sandbox) mkdirAll(name string, perm os.FileMode) error {
	return relabel(os.MkdirAll(s.resolve(name), perm), name)
}

func (s sandbox) rename(from, to string) error {
	err := os.Rename(s.resolve(from), s.resolve(to))
	var le *os.LinkError
	if errors.As(err, &le) {
		le.Old, le.New = from, to
	}
	return err
}

func (s sandbox) dirFS(name string) fs.FS {
	return os.DirFS(s.resolve(name))
}

func (s sandbox) getwd() (string, error) {
	return "/", nil
}

func (s sandbox) chdir(name string) error {
	return &fs.PathError{Op: "chdir", Path: name, Err: errors.ErrUnsupported}
}

// symbols overrides the os file functions of stdlib.Symbols. It must be
// loaded after them.
func (s sandbox) symbols() interp.Exports {
	return interp.Exports{
		"os/os": {
			"Chdir":     reflect.ValueOf(s.chdir),
			"Create":    reflect.ValueOf(s.create),
			"DirFS":     reflect.ValueOf(s.dirFS),
			"Getwd":     reflect.ValueOf(s.getwd),
			"Lstat":     reflect.ValueOf(s.lstat),
			"Mkdir":     reflect.ValueOf(s.mkdir),
			"MkdirAll":  reflect.ValueOf(s.mkdirAll),
			"Open":      reflect.ValueOf(s.open),
			"OpenFile":  reflect.ValueOf(s.openFile),
			"ReadDir":   reflect.ValueOf(s.readDir),
			"ReadFile":  reflect.ValueOf(s.readFile),
			"Remove":    reflect.ValueOf(s.remove),
			"RemoveAll": reflect.ValueOf(s.removeAll),
			"Rename":    reflect.ValueOf(s.rename),
			"Stat":      reflect.ValueOf(s.stat),
			"WriteFile": reflect.ValueOf(s.writeFile),
		},
	}
}
