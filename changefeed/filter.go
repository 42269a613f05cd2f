package changefeed

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter matches schema and table names against glob patterns
type GlobFilter struct {
	tableGlobs  []glob.Glob
	schemaGlobs []glob.Glob
}

// NewGlobFilter compiles the given patterns. Empty pattern lists match everything.
func NewGlobFilter(tablePatterns, schemaPatterns []string) (*GlobFilter, error) {
	tables, err := compileGlobs("table", tablePatterns)
	if err != nil {
		return nil, err
	}
	schemas, err := compileGlobs("schema", schemaPatterns)
	if err != nil {
		return nil, err
	}

	return &GlobFilter{tableGlobs: tables, schemaGlobs: schemas}, nil
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Match returns true if schema and table both match
func (f *GlobFilter) Match(schema, table string) bool {
	return matchAny(f.schemaGlobs, schema) && matchAny(f.tableGlobs, table)
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
