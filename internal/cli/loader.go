package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/plenum/internal/models"
)

// ModelSource is a loaded model description.
type ModelSource struct {
	Value cue.Value
	// Files lists the CUE files the value was built from.
	Files []string
}

// LoadModels loads a model description. An empty path loads the embedded
// description; a directory is loaded as one CUE package; anything else is
// compiled as a single file.
func LoadModels(path string) (*ModelSource, error) {
	ctx := cuecontext.New()
	if path == "" {
		v := ctx.CompileBytes(models.Source(), cue.Filename("models.cue"))
		return &ModelSource{Value: v, Files: []string{"models.cue (embedded)"}}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &ModelSource{Value: ctx.CompileBytes(src, cue.Filename(path)), Files: []string{path}}, nil
	}

	files, err := findCUEFiles(path)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", path)
	}
	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", path)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("load CUE files: %w", err)
	}
	return &ModelSource{Value: ctx.BuildInstance(instances[0]), Files: files}, nil
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
