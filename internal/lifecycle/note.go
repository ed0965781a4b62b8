package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/metadata"
)

// AddNote appends a timestamped note to the workspace's metadata.
func (e *Engine) AddNote(ctx context.Context, path, text string) (*metadata.Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty note", apperr.ErrPreconditionFailed)
	}

	wt, err := e.resolveWorkspace(ctx, path)
	if err != nil {
		return nil, err
	}

	var rec *metadata.Record
	err = e.locks.WithWorkspace(ctx, wt.Path, func() error {
		var err error
		rec, err = e.store.Update(wt.Path, func(r *metadata.Record) error {
			r.AppendNote(text, e.now())

			return nil
		})

		return err
	})
	if err != nil {
		return nil, stepErr(StepMetadata, err)
	}

	return rec, nil
}
