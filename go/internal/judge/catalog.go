package judge

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/codeduel/go/internal/models"
)

// StaticCatalog serves problem references from a fixed list, for local runs
// without a catalog service.
type StaticCatalog struct {
	problems map[string]models.ProblemRef
}

type catalogFile struct {
	Problems []struct {
		ID         string `yaml:"id"`
		Title      string `yaml:"title"`
		Difficulty string `yaml:"difficulty"`
	} `yaml:"problems"`
}

// NewStaticCatalog indexes problems by id.
func NewStaticCatalog(problems []models.ProblemRef) *StaticCatalog {
	c := &StaticCatalog{problems: make(map[string]models.ProblemRef, len(problems))}
	for _, p := range problems {
		c.problems[p.ID] = p
	}
	return c
}

// LoadStaticCatalog reads a YAML problem list.
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseStaticCatalog(data)
}

// ParseStaticCatalog parses the YAML catalog format.
func ParseStaticCatalog(data []byte) (*StaticCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	problems := make([]models.ProblemRef, 0, len(file.Problems))
	for _, p := range file.Problems {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("catalog entry %q has no id", p.Title)
		}
		difficulty, err := models.ParseDifficulty(p.Difficulty)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %s: %w", p.ID, err)
		}
		problems = append(problems, models.ProblemRef{ID: p.ID, Title: p.Title, Difficulty: difficulty})
	}
	return NewStaticCatalog(problems), nil
}

func (c *StaticCatalog) Lookup(_ context.Context, problemID string) (*models.ProblemRef, error) {
	p, ok := c.problems[problemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProblemNotFound, problemID)
	}
	return &p, nil
}

// Len returns the number of problems.
func (c *StaticCatalog) Len() int {
	return len(c.problems)
}
