package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilePlanner loads plans from <Dir>/<market>.yaml.
type FilePlanner struct {
	Dir string
}

// NewFilePlanner creates a planner reading from dir.
func NewFilePlanner(dir string) *FilePlanner {
	return &FilePlanner{Dir: dir}
}

// Plan loads the plan of market. A missing file returns ErrPlanNotFound.
func (f *FilePlanner) Plan(ctx context.Context, market string) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(f.Dir, market+".yaml")
	data, err := os.ReadFile(path) //nolint:gosec // plan directory is operator-controlled
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, path)
		}
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return Parse(data)
}
