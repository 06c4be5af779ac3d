package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"HouseLedger/internal/money"
)

// Postgres is the authoritative Ledger backed by the accounts and
// audit_log tables. Per-address serialization comes from a
// SELECT ... FOR UPDATE row lock held for the duration of the
// transaction; the balance update and the audit insert commit together.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Balance(ctx context.Context, address string) (money.Amount, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE address = $1`, address,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return money.Amount(balance), nil
}

func (p *Postgres) CreditForDeposit(ctx context.Context, address string, amount money.Amount, txHash string) (money.Amount, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var newBalance money.Amount
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		balance, err := p.lockAccount(ctx, tx, address)
		if err != nil {
			return err
		}

		applied, err := p.txHashApplied(ctx, tx, OpDeposit, txHash)
		if err != nil {
			return err
		}
		if applied {
			newBalance = balance
			return ErrDuplicateTransaction
		}

		newBalance = balance + amount
		return p.commitChange(ctx, tx, AuditEntry{
			Address:       address,
			Operation:     OpDeposit,
			Amount:        amount,
			BalanceBefore: balance,
			BalanceAfter:  newBalance,
			TxHash:        txHash,
		})
	})
	return newBalance, err
}

func (p *Postgres) DebitForWithdrawal(ctx context.Context, address string, amount money.Amount, txHash string) (money.Amount, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var newBalance money.Amount
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		balance, err := p.lockAccount(ctx, tx, address)
		if err != nil {
			return err
		}

		applied, err := p.txHashApplied(ctx, tx, OpWithdrawal, txHash)
		if err != nil {
			return err
		}
		if applied {
			newBalance = balance
			return ErrDuplicateTransaction
		}
		if balance < amount {
			newBalance = balance
			return ErrInsufficientFunds
		}

		newBalance = balance - amount
		return p.commitChange(ctx, tx, AuditEntry{
			Address:       address,
			Operation:     OpWithdrawal,
			Amount:        amount,
			BalanceBefore: balance,
			BalanceAfter:  newBalance,
			TxHash:        txHash,
		})
	})
	return newBalance, err
}

func (p *Postgres) DebitForBet(ctx context.Context, address string, amount money.Amount, betID uuid.UUID) (money.Amount, error) {
	var newBalance money.Amount
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		newBalance, err = p.DebitForBetTx(ctx, tx, address, amount, betID)
		return err
	})
	return newBalance, err
}

func (p *Postgres) CreditForPayout(ctx context.Context, address string, amount money.Amount, betID uuid.UUID) (money.Amount, error) {
	var newBalance money.Amount
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		newBalance, err = p.CreditForPayoutTx(ctx, tx, address, amount, betID)
		return err
	})
	return newBalance, err
}

// DebitForBetTx debits a stake inside a caller-owned transaction, so a
// bet insert in the same tx commits or rolls back with the debit.
func (p *Postgres) DebitForBetTx(ctx context.Context, tx *sql.Tx, address string, amount money.Amount, betID uuid.UUID) (money.Amount, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := p.lockAccount(ctx, tx, address)
	if err != nil {
		return 0, err
	}
	if balance < amount {
		return balance, ErrInsufficientFunds
	}

	newBalance := balance - amount
	err = p.commitChange(ctx, tx, AuditEntry{
		Address:       address,
		Operation:     OpBetPlaced,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  newBalance,
		BetID:         betID,
	})
	if err != nil {
		return balance, err
	}
	return newBalance, nil
}

// CreditForPayoutTx credits winnings inside a caller-owned transaction,
// so the bet's status transition commits atomically with the payout.
func (p *Postgres) CreditForPayoutTx(ctx context.Context, tx *sql.Tx, address string, amount money.Amount, betID uuid.UUID) (money.Amount, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := p.lockAccount(ctx, tx, address)
	if err != nil {
		return 0, err
	}

	newBalance := balance + amount
	err = p.commitChange(ctx, tx, AuditEntry{
		Address:       address,
		Operation:     OpBetWon,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  newBalance,
		BetID:         betID,
	})
	if err != nil {
		return balance, err
	}
	return newBalance, nil
}

func (p *Postgres) AuditTrail(ctx context.Context, address string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, operation_type, amount, balance_before, balance_after,
		       COALESCE(tx_hash, ''), COALESCE(bet_id, '00000000-0000-0000-0000-000000000000'), created_at
		FROM audit_log
		WHERE address = $1
		ORDER BY id DESC
		LIMIT $2`,
		address, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (p *Postgres) TotalBalance(ctx context.Context) (money.Amount, error) {
	var total int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM accounts`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum balances: %w", err)
	}
	return money.Amount(total), nil
}

// VerifyChain replays the full audit chain for an address against the
// live balance.
func (p *Postgres) VerifyChain(ctx context.Context, address string) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, operation_type, amount, balance_before, balance_after,
		       COALESCE(tx_hash, ''), COALESCE(bet_id, '00000000-0000-0000-0000-000000000000'), created_at
		FROM audit_log
		WHERE address = $1
		ORDER BY id ASC`,
		address,
	)
	if err != nil {
		return fmt.Errorf("query audit chain: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return err
	}

	live, err := p.Balance(ctx, address)
	if err != nil {
		return err
	}
	return verifyEntries(address, entries, live)
}

func (p *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockAccount creates the account row if missing and takes the row lock
// that serializes all operations on this address until commit.
func (p *Postgres) lockAccount(ctx context.Context, tx *sql.Tx, address string) (money.Amount, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (address, balance) VALUES ($1, 0) ON CONFLICT (address) DO NOTHING`,
		address,
	); err != nil {
		return 0, fmt.Errorf("ensure account %s: %w", address, err)
	}

	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE address = $1 FOR UPDATE`, address,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("lock account %s: %w", address, err)
	}
	return money.Amount(balance), nil
}

func (p *Postgres) txHashApplied(ctx context.Context, tx *sql.Tx, op OperationType, txHash string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM audit_log WHERE operation_type = $1 AND tx_hash = $2 LIMIT 1`,
		string(op), txHash,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return true, nil
}

// commitChange updates the balance and appends the audit entry inside
// the caller's transaction.
func (p *Postgres) commitChange(ctx context.Context, tx *sql.Tx, e AuditEntry) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE address = $2`,
		int64(e.BalanceAfter), e.Address,
	); err != nil {
		return fmt.Errorf("update balance for %s: %w", e.Address, err)
	}

	var txHash, betID interface{}
	if e.TxHash != "" {
		txHash = e.TxHash
	}
	if e.BetID != uuid.Nil {
		betID = e.BetID.String()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (address, operation_type, amount, balance_before, balance_after, tx_hash, bet_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Address, string(e.Operation), int64(e.Amount),
		int64(e.BalanceBefore), int64(e.BalanceAfter), txHash, betID,
	)
	if err != nil {
		// The partial unique index on (operation_type, tx_hash) is the
		// backstop when two instances race on the same chain tx.
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert audit entry for %s: %w", e.Address, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanEntries(rows *sql.Rows) ([]AuditEntry, error) {
	var entries []AuditEntry
	for rows.Next() {
		var (
			e              AuditEntry
			op             string
			amount, before int64
			after          int64
			betID          string
		)
		if err := rows.Scan(&e.ID, &e.Address, &op, &amount, &before, &after, &e.TxHash, &betID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Operation = OperationType(op)
		e.Amount = money.Amount(amount)
		e.BalanceBefore = money.Amount(before)
		e.BalanceAfter = money.Amount(after)
		id, err := uuid.Parse(betID)
		if err != nil {
			return nil, fmt.Errorf("parse bet id %q: %w", betID, err)
		}
		e.BetID = id
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
