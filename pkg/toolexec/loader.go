package toolexec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileLoader resolves tool definitions from JSON files in a directory, one
// file per tool, named <name>.json.
type FileLoader struct {
	dir string
}

func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

func (l *FileLoader) Load(name string) (*ToolDefinition, error) {
	path := filepath.Join(l.dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tool definition %s: %w", name, err)
	}

	var def ToolDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse tool definition %s: %w", name, err)
	}
	if def.ID == "" {
		def.ID = name
	}
	return &def, nil
}
