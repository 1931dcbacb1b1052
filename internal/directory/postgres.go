package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/tidemark/mdbridge/errs"
	"github.com/tidemark/mdbridge/internal/observability"
	"github.com/tidemark/mdbridge/internal/schema"
)

const (
	instrumentSelectSQL = `
SELECT id, symbol, security_type, exchange, currency, attributes, tick_size
FROM instruments
WHERE id = $1;
`
	instrumentListSQL = `
SELECT id, symbol, security_type, exchange, currency, attributes, tick_size
FROM instruments
ORDER BY id;
`
	instrumentUpsertSQL = `
INSERT INTO instruments (id, symbol, security_type, exchange, currency, attributes, tick_size, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, NOW())
ON CONFLICT (id) DO UPDATE SET
    symbol = EXCLUDED.symbol,
    security_type = EXCLUDED.security_type,
    exchange = EXCLUDED.exchange,
    currency = EXCLUDED.currency,
    attributes = EXCLUDED.attributes,
    tick_size = EXCLUDED.tick_size,
    updated_at = NOW();
`
)

// PostgresDirectory persists instrument reference data in PostgreSQL.
type PostgresDirectory struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresDirectory constructs a directory backed by the provided pgx pool.
func NewPostgresDirectory(pgPool *pgxpool.Pool, opts Options) *PostgresDirectory {
	return &PostgresDirectory{pool: pgPool, opts: opts.normalize()}
}

// Resolve looks the instrument up by id.
func (d *PostgresDirectory) Resolve(ctx context.Context, id schema.InstrumentID) (schema.Instrument, error) {
	if d.pool == nil {
		return schema.Instrument{}, fmt.Errorf("postgres directory: nil pool")
	}
	row := d.pool.QueryRow(ctx, instrumentSelectSQL, string(id))
	inst, err := scanInstrument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.Instrument{}, errs.New("directory/resolve", errs.CodeInstrumentNotFound,
				errs.WithMessage("instrument "+string(id)+" not in directory"))
		}
		return schema.Instrument{}, fmt.Errorf("resolve instrument %s: %w", id, err)
	}
	return inst, nil
}

// Upsert inserts or replaces an instrument definition.
func (d *PostgresDirectory) Upsert(ctx context.Context, inst schema.Instrument) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	attrs, err := json.Marshal(inst.Contract.Attributes)
	if err != nil {
		return fmt.Errorf("marshal contract attributes: %w", err)
	}
	_, err = d.pool.Exec(ctx, instrumentUpsertSQL,
		string(inst.ID),
		inst.Contract.Symbol,
		inst.Contract.SecurityType,
		inst.Contract.Exchange,
		inst.Contract.Currency,
		attrs,
		inst.TickSize.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert instrument %s: %w", inst.ID, err)
	}
	return nil
}

// LoadAsync fetches instruments through the configured loader and persists
// them. Without a loader it is a no-op.
func (d *PostgresDirectory) LoadAsync(ctx context.Context, ids ...schema.InstrumentID) {
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
			if err := d.Upsert(ctx, inst); err != nil {
				observability.Log().Error("instrument persist failed",
					observability.F("instrument", string(id)),
					observability.F("error", err))
			}
			return nil
		})
	}
	_ = p.Wait()
}

// ListAll returns every stored instrument ordered by id.
func (d *PostgresDirectory) ListAll(ctx context.Context) ([]schema.Instrument, error) {
	rows, err := d.pool.Query(ctx, instrumentListSQL)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer rows.Close()

	var out []schema.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instruments: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TickCapacity returns the configured tick cache capacity.
func (d *PostgresDirectory) TickCapacity() int { return d.opts.TickCapacity }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row rowScanner) (schema.Instrument, error) {
	var (
		id       string
		symbol   string
		secType  string
		exchange string
		currency string
		attrsRaw []byte
		tickSize string
	)
	if err := row.Scan(&id, &symbol, &secType, &exchange, &currency, &attrsRaw, &tickSize); err != nil {
		return schema.Instrument{}, err
	}

	var attrs map[string]string
	if len(attrsRaw) > 0 {
		if err := json.Unmarshal(attrsRaw, &attrs); err != nil {
			return schema.Instrument{}, fmt.Errorf("decode attributes: %w", err)
		}
	}
	size, err := decimal.NewFromString(tickSize)
	if err != nil {
		return schema.Instrument{}, fmt.Errorf("decode tick size %q: %w", tickSize, err)
	}

	return schema.Instrument{
		ID: schema.InstrumentID(id),
		Contract: schema.Contract{
			Symbol:       symbol,
			SecurityType: secType,
			Exchange:     exchange,
			Currency:     currency,
			Attributes:   attrs,
		},
		TickSize: size,
	}, nil
}
