package pricing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

// provider is set on insert only; an existing row keeps the provider that
// first introduced the model id.
const upsertPriceSQL = `
	INSERT INTO model_prices (model_id, model_name, provider, input_price, output_price, training_price, unit, training_unit, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (model_id) DO UPDATE SET
		model_name     = EXCLUDED.model_name,
		input_price    = EXCLUDED.input_price,
		output_price   = EXCLUDED.output_price,
		training_price = EXCLUDED.training_price,
		unit           = EXCLUDED.unit,
		training_unit  = EXCLUDED.training_unit,
		updated_at     = EXCLUDED.updated_at
`

func (s *PostgresStore) UpsertPrices(ctx context.Context, records []PriceRecord) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(upsertPriceSQL,
				r.ModelID, r.ModelName, r.Provider, r.InputPrice, r.OutputPrice,
				r.TrainingPrice, string(r.Unit), unitString(r.TrainingUnit), r.UpdatedAt,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for _, r := range records {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to upsert price for %s: %w", r.ModelID, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to close upsert batch: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListPrices(ctx context.Context) ([]PriceRecord, error) {
	query := `
		SELECT model_id, model_name, provider, input_price, output_price, training_price, unit, training_unit, updated_at
		FROM model_prices
		ORDER BY provider, model_id
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query model prices: %w", err)
	}
	defer rows.Close()

	var records []PriceRecord
	for rows.Next() {
		var (
			r            PriceRecord
			unit         string
			trainingUnit *string
		)
		err := rows.Scan(
			&r.ModelID, &r.ModelName, &r.Provider, &r.InputPrice, &r.OutputPrice,
			&r.TrainingPrice, &unit, &trainingUnit, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model price: %w", err)
		}
		r.Unit = Unit(unit)
		if trainingUnit != nil {
			u := Unit(*trainingUnit)
			r.TrainingUnit = &u
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model prices: %w", err)
	}

	return records, nil
}

func unitString(u *Unit) *string {
	if u == nil {
		return nil
	}
	s := string(*u)
	return &s
}
