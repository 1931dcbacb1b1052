package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/tidemark/mdbridge/errs"
	"github.com/tidemark/mdbridge/internal/observability"
	"github.com/tidemark/mdbridge/internal/schema"
)

const defaultTickCapacity = 10000

// Options configures a directory instance.
type Options struct {
	TickCapacity int
	Loader       Loader
}

func (o Options) normalize() Options {
	if o.TickCapacity <= 0 {
		o.TickCapacity = defaultTickCapacity
	}
	return o
}

// MemoryDirectory is an in-process instrument cache, optionally backed by a
// loader for on-demand fetches.
type MemoryDirectory struct {
	opts Options

	mu          sync.RWMutex
	instruments map[schema.InstrumentID]schema.Instrument
}

// NewMemoryDirectory constructs an empty in-memory directory.
func NewMemoryDirectory(opts Options) *MemoryDirectory {
	d := new(MemoryDirectory)
	d.opts = opts.normalize()
	d.instruments = make(map[schema.InstrumentID]schema.Instrument)
	return d
}

// Seed inserts instruments directly, replacing existing entries.
func (d *MemoryDirectory) Seed(instruments ...schema.Instrument) {
	d.mu.Lock()
	for _, inst := range instruments {
		d.instruments[inst.ID] = inst
	}
	d.mu.Unlock()
}

// Resolve returns the cached instrument or instrument_not_found.
func (d *MemoryDirectory) Resolve(_ context.Context, id schema.InstrumentID) (schema.Instrument, error) {
	d.mu.RLock()
	inst, ok := d.instruments[id]
	d.mu.RUnlock()
	if !ok {
		return schema.Instrument{}, errs.New("directory/resolve", errs.CodeInstrumentNotFound,
			errs.WithMessage("instrument "+string(id)+" not in directory"))
	}
	return inst, nil
}

// LoadAsync fans loads out through the configured loader and caches the
// results. Without a loader it is a no-op.
func (d *MemoryDirectory) LoadAsync(ctx context.Context, ids ...schema.InstrumentID) {
	if d.opts.Loader == nil || len(ids) == 0 {
		return
	}
	p := pool.New().WithContext(ctx)
	for _, id := range ids {
		p.Go(func(ctx context.Context) error {
			inst, err := d.opts.Loader(ctx, id)
			if err != nil {
				observability.Log().Warn("instrument load failed",
					observability.F("instrument", string(id)),
					observability.F("error", err))
				return nil
			}
			d.Seed(inst)
			return nil
		})
	}
	_ = p.Wait()
}

// ListAll returns the cached instruments ordered by id.
func (d *MemoryDirectory) ListAll(_ context.Context) ([]schema.Instrument, error) {
	d.mu.RLock()
	out := make([]schema.Instrument, 0, len(d.instruments))
	for _, inst := range d.instruments {
		out = append(out, inst)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TickCapacity returns the configured tick cache capacity.
func (d *MemoryDirectory) TickCapacity() int { return d.opts.TickCapacity }
