// Package watchdir gives sandboxed access to the directory programs are
// loaded from and uploaded to.
package watchdir

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrInvalidPath = errors.New("invalid path")

type Dir struct {
	root string
	log  *logrus.Entry
}

// File describes one entry of a listing.
type File struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	IsDir   bool      `json:"isDir"`
}

func New(root string, log *logrus.Entry) *Dir {
	if root == "" {
		root = "."
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dir{root: root, log: log.WithField("component", "watchdir")}
}

func (d *Dir) Root() string { return d.root }

// Path resolves name inside the directory. Names are slash separated and
// can never climb above the root.
func (d *Dir) Path(name string) (string, error) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return filepath.Join(d.root, filepath.FromSlash(path.Clean("/"+name))), nil
}

func (d *Dir) ReadFile(name string) ([]byte, error) {
	p, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// WriteFile creates or replaces name with the contents of r, creating
// parent directories as needed.
func (d *Dir) WriteFile(name string, r io.Reader) error {
	p, err := d.Path(name)
	if err != nil {
		return err
	}
	if p == filepath.Clean(d.root) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()
	n, err := io.Copy(f, r)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	d.log.WithFields(logrus.Fields{"file": name, "size": n}).Info("file saved")
	return f.Close()
}

func (d *Dir) Remove(name string) error {
	p, err := d.Path(name)
	if err != nil {
		return err
	}
	if p == filepath.Clean(d.root) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	d.log.WithField("file", name).Info("file deleted")
	return nil
}

// List returns the entries of a subdirectory, directories first.
func (d *Dir) List(name string) ([]File, error) {
	p, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}

	res := make([]File, 0, len(entries))
	for _, ent := range entries {
		if strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		info, err := ent.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", name, err)
		}
		res = append(res, File{
			Name:    path.Join(path.Clean("/"+name), ent.Name())[1:],
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   ent.IsDir(),
		})
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].IsDir != res[j].IsDir {
			return res[i].IsDir
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}
