package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// AnswerStore implements domain.AnswerStore. Amounts are NUMERIC(78,0) and
// cross the wire as decimal text so no precision is lost.
type AnswerStore struct {
	pool *pgxpool.Pool
}

// NewAnswerStore creates a new AnswerStore backed by the given connection pool.
func NewAnswerStore(pool *pgxpool.Pool) *AnswerStore {
	return &AnswerStore{pool: pool}
}

const answerSelectCols = `id::text, symbol, value::text, reference::text, source, path,
	deviation_bps, block_number, signature, signer, computed_at`

// answerRow mirrors answerSelectCols before decimal parsing.
type answerRow struct {
	ID           string
	Symbol       string
	Value        string
	Reference    string
	Source       string
	Path         string
	DeviationBps int64
	BlockNumber  int64
	Signature    string
	Signer       string
	ComputedAt   time.Time
}

func (r answerRow) toDomain() (domain.Answer, error) {
	a := domain.Answer{
		ID:           r.ID,
		Symbol:       r.Symbol,
		Source:       domain.PriceSource(r.Source),
		Path:         domain.ValuationPath(r.Path),
		DeviationBps: uint64(r.DeviationBps),
		BlockNumber:  uint64(r.BlockNumber),
		Signature:    r.Signature,
		Signer:       r.Signer,
		ComputedAt:   r.ComputedAt.UTC(),
	}
	if err := a.Value.SetFromDecimal(r.Value); err != nil {
		return domain.Answer{}, fmt.Errorf("value %q: %w", r.Value, err)
	}
	if err := a.Reference.SetFromDecimal(r.Reference); err != nil {
		return domain.Answer{}, fmt.Errorf("reference %q: %w", r.Reference, err)
	}
	return a, nil
}

func scanAnswer(row pgx.Row) (domain.Answer, error) {
	var r answerRow
	if err := row.Scan(
		&r.ID, &r.Symbol, &r.Value, &r.Reference, &r.Source, &r.Path,
		&r.DeviationBps, &r.BlockNumber, &r.Signature, &r.Signer, &r.ComputedAt,
	); err != nil {
		return domain.Answer{}, err
	}
	return r.toDomain()
}

func scanAnswerRows(rows pgx.Rows) ([]domain.Answer, error) {
	var answers []domain.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// Insert records one answer. Re-inserting the same ID is a no-op.
func (s *AnswerStore) Insert(ctx context.Context, a domain.Answer) error {
	const query = `
		INSERT INTO oracle_answers (
			id, symbol, value, reference, source, path,
			deviation_bps, block_number, signature, signer, computed_at
		) VALUES (
			$1, $2, $3::numeric, $4::numeric, $5, $6,
			$7, $8, $9, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Symbol, a.Value.Dec(), a.Reference.Dec(), string(a.Source), string(a.Path),
		int64(a.DeviationBps), int64(a.BlockNumber), a.Signature, a.Signer, a.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert answer %s: %w", a.Symbol, err)
	}
	return nil
}

// Latest returns the most recent answer for symbol, or domain.ErrNotFound.
func (s *AnswerStore) Latest(ctx context.Context, symbol string) (domain.Answer, error) {
	query := `SELECT ` + answerSelectCols + ` FROM oracle_answers
		WHERE symbol = $1 ORDER BY computed_at DESC LIMIT 1`

	a, err := scanAnswer(s.pool.QueryRow(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Answer{}, domain.ErrNotFound
		}
		return domain.Answer{}, fmt.Errorf("postgres: latest answer %s: %w", symbol, err)
	}
	return a, nil
}

// ListBySymbol returns answers for symbol, newest first.
func (s *AnswerStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Answer, error) {
	query, args := pagedQuery(
		`SELECT `+answerSelectCols+` FROM oracle_answers WHERE symbol = $1`,
		"computed_at", []any{symbol}, opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list answers %s: %w", symbol, err)
	}
	defer rows.Close()

	answers, err := scanAnswerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan answers %s: %w", symbol, err)
	}
	return answers, nil
}

// ListBefore returns up to limit answers computed strictly before the given
// time, oldest first. A non-positive limit returns all of them.
func (s *AnswerStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Answer, error) {
	query := `SELECT ` + answerSelectCols + ` FROM oracle_answers
		WHERE computed_at < $1 ORDER BY computed_at ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list answers before: %w", err)
	}
	defer rows.Close()

	answers, err := scanAnswerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan answers before: %w", err)
	}
	return answers, nil
}

// DeleteBefore removes answers computed before the given time and returns
// the number deleted.
func (s *AnswerStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oracle_answers WHERE computed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete answers before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.AnswerStore = (*AnswerStore)(nil)
