// Package samples bundles example log files that can be run through the
// pipeline without uploading anything.
package samples

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed logs/*.log
var files embed.FS

var ErrUnknownSample = errors.New("unknown sample")

// Sample describes one bundled log file.
type Sample struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// List returns the bundled samples sorted by name.
func List() ([]Sample, error) {
	entries, err := fs.ReadDir(files, "logs")
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	out := make([]Sample, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, Sample{Name: e.Name(), Size: int(info.Size())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns the content of the named sample. Names containing a path
// separator are rejected.
func Get(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrUnknownSample, name)
	}
	data, err := files.ReadFile(path.Join("logs", name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrUnknownSample, name)
		}
		return "", err
	}
	return string(data), nil
}
