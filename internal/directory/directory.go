// Package directory provides instrument resolution backed by a local cache
// or PostgreSQL.
package directory

import (
	"context"

	"github.com/tidemark/mdbridge/internal/schema"
)

// Loader fetches an instrument definition from an upstream source.
type Loader func(ctx context.Context, id schema.InstrumentID) (schema.Instrument, error)

// Directory resolves instrument identifiers to full contract descriptors.
type Directory interface {
	// Resolve returns the instrument or an instrument_not_found error.
	Resolve(ctx context.Context, id schema.InstrumentID) (schema.Instrument, error)
	// LoadAsync fans out loads for the given ids and returns once the
	// batch settles. Load failures are logged, not returned.
	LoadAsync(ctx context.Context, ids ...schema.InstrumentID)
	// ListAll returns every known instrument ordered by id.
	ListAll(ctx context.Context) ([]schema.Instrument, error)
	// TickCapacity is the configured tick cache capacity, used as the
	// default record cap for unbounded tick requests.
	TickCapacity() int
}
