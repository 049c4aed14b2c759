package ai

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Labels maps model class indexes to class names.
type Labels map[int]string

// Name returns the class name for id, or the decimal id when unknown.
func (l Labels) Name(id int) string {
	if name, ok := l[id]; ok && name != "" {
		return name
	}
	return strconv.Itoa(id)
}

// LoadLabels reads a label table. YAML files use the dataset layout with a
// names key (list or index map); any other file holds one name per line.
func LoadLabels(path string) (Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAMLLabels(data)
	default:
		return ParseLineLabels(data), nil
	}
}

// ParseYAMLLabels parses the names key of a dataset YAML file.
func ParseYAMLLabels(data []byte) (Labels, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid labels yaml: %w", err)
	}

	labels := make(Labels)
	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("invalid names list: %w", err)
		}
		for i, name := range names {
			labels[i] = name
		}
	case yaml.MappingNode:
		var names map[int]string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("invalid names map: %w", err)
		}
		for i, name := range names {
			labels[i] = name
		}
	case 0:
		return nil, fmt.Errorf("labels yaml has no names key")
	default:
		return nil, fmt.Errorf("unsupported names layout")
	}
	return labels, nil
}

// ParseLineLabels reads one class name per line, skipping blank lines.
func ParseLineLabels(data []byte) Labels {
	labels := make(Labels)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	i := 0
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		labels[i] = name
		i++
	}
	return labels
}
