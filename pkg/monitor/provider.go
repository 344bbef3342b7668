package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TAS/modelguard/pkg/dataset"
)

// FileProvider reads current data from JSON files in a watch directory.
// Each dataset lives at <dir>/<name>.json as a feature-to-values map; the
// matching reference is <dir>/<name>.reference.json.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider rooted at dir
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// CurrentData implements DataProvider
func (p *FileProvider) CurrentData(ctx context.Context, name string) (dataset.Dataset, error) {
	return p.load(filepath.Join(p.dir, name+".json"))
}

// ReferenceData loads the reference dataset for a name, if present
func (p *FileProvider) ReferenceData(name string) (dataset.Dataset, error) {
	return p.load(filepath.Join(p.dir, name+".reference.json"))
}

func (p *FileProvider) load(path string) (dataset.Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file %s: %w", path, err)
	}

	var data dataset.Dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode dataset file %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("dataset file %s has no features", path)
	}
	return data, nil
}
