package pipeline

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"subflow/sink"
	"subflow/source/nakadi"
)

// fanout routes a batch through every sink in order. The first failure
// stops the chain so the batch is not committed.
type fanout []sink.Adapter

func (f fanout) Handle(ctx context.Context, b *nakadi.Batch) error {
	for i, s := range f {
		if err := s.Handle(ctx, b); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

func (f fanout) Close() error {
	var errs *multierror.Error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
