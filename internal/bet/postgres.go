package bet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"HouseLedger/internal/ledger"
	"HouseLedger/internal/money"
)

// PostgresStore persists bets in the bets table. It shares transactions
// with the Postgres ledger so stake debits and payout credits commit
// atomically with the bet rows they belong to.
type PostgresStore struct {
	db     *sql.DB
	ledger *ledger.Postgres
}

func NewPostgresStore(db *sql.DB, l *ledger.Postgres) *PostgresStore {
	return &PostgresStore{db: db, ledger: l}
}

func (s *PostgresStore) CreateWithStake(ctx context.Context, b *Bet) (money.Amount, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	balance, err := s.ledger.DebitForBetTx(ctx, tx, b.Address, b.Amount, b.ID)
	if err != nil {
		return balance, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bets (id, address, amount, direction, multiplier, price_target,
		                  reference_price, placed_at, deadline, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID.String(), b.Address, int64(b.Amount), string(b.Direction), b.Multiplier,
		int64(b.PriceTarget), int64(b.ReferencePrice), b.PlacedAt, b.Deadline, string(StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("insert bet %s: %w", b.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bet %s: %w", b.ID, err)
	}
	return balance, nil
}

func (s *PostgresStore) DuePending(ctx context.Context, now time.Time, limit int) ([]Bet, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, betColumns+`
		FROM bets
		WHERE status = 'pending' AND deadline <= $1
		ORDER BY deadline ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due bets: %w", err)
	}
	defer rows.Close()

	return scanBets(rows)
}

func (s *PostgresStore) Resolve(ctx context.Context, id uuid.UUID, status Status, settledPrice money.Amount, payout money.Amount, settledAt time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var address string
	err = tx.QueryRowContext(ctx,
		`SELECT address FROM bets WHERE id = $1 FOR UPDATE`, id.String(),
	).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock bet %s: %w", id, err)
	}

	// Guarded transition: only a pending bet moves. Zero rows means a
	// concurrent or earlier settlement already resolved it.
	res, err := tx.ExecContext(ctx, `
		UPDATE bets
		SET status = $1, settled_price = $2, payout = $3, settled_at = $4
		WHERE id = $5 AND status = 'pending'`,
		string(status), int64(settledPrice), int64(payout), settledAt, id.String(),
	)
	if err != nil {
		return false, fmt.Errorf("resolve bet %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve bet %s: %w", id, err)
	}
	if affected == 0 {
		return false, nil
	}

	if status == StatusWon && payout > 0 {
		if _, err := s.ledger.CreditForPayoutTx(ctx, tx, address, payout, id); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit resolution %s: %w", id, err)
	}
	return true, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Bet, error) {
	rows, err := s.db.QueryContext(ctx, betColumns+` FROM bets WHERE id = $1`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query bet %s: %w", id, err)
	}
	defer rows.Close()

	bets, err := scanBets(rows)
	if err != nil {
		return nil, err
	}
	if len(bets) == 0 {
		return nil, ErrNotFound
	}
	return &bets[0], nil
}

func (s *PostgresStore) History(ctx context.Context, address string, limit int) ([]Bet, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, betColumns+`
		FROM bets
		WHERE address = $1
		ORDER BY placed_at DESC
		LIMIT $2`,
		address, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query bet history: %w", err)
	}
	defer rows.Close()

	return scanBets(rows)
}

const betColumns = `
		SELECT id, address, amount, direction, multiplier, price_target, reference_price,
		       placed_at, deadline, status, payout,
		       COALESCE(settled_price, 0), COALESCE(settled_at, 'epoch'::timestamptz)`

func scanBets(rows *sql.Rows) ([]Bet, error) {
	var bets []Bet
	for rows.Next() {
		var (
			b                     Bet
			id, direction, status string
			amount, target, refPx int64
			payout, settledPx     int64
		)
		if err := rows.Scan(&id, &b.Address, &amount, &direction, &b.Multiplier, &target, &refPx,
			&b.PlacedAt, &b.Deadline, &status, &payout, &settledPx, &b.SettledAt); err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}

		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse bet id %q: %w", id, err)
		}
		b.ID = parsed
		b.Amount = money.Amount(amount)
		b.Direction = Direction(direction)
		b.PriceTarget = money.Amount(target)
		b.ReferencePrice = money.Amount(refPx)
		b.Status = Status(status)
		b.Payout = money.Amount(payout)
		b.SettledPrice = money.Amount(settledPx)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}
