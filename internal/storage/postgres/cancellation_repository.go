package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

type cancellationRepository struct {
	db *sql.DB
}

// NewCancellationRepository создаёт PostgreSQL-реализацию CancellationRepository.
func NewCancellationRepository(store *Store) domain.CancellationRepository {
	return &cancellationRepository{db: store.DB()}
}

// Create сохраняет intent, проверяя в одной транзакции отсутствие активного
// (нефинализированного и не истёкшего) intent'а у заказа.
func (r *cancellationRepository) Create(intent domain.CancellationIntent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var activeID string
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM cancellation_intents
		WHERE order_id = $1
		  AND state <> $2
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, intent.OrderID, string(domain.CancellationFinalized), now).Scan(&activeID)
	if err == nil {
		err = domain.ErrCancellationPending
		return err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check active intent: %w", err)
	}
	err = nil

	var expiresAt sql.NullTime
	if !intent.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: intent.ExpiresAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cancellation_intents (
			id, order_id, reason, refund_minor, deficit_minor, shipping_fee_minor,
			state, charge_request_id, requested_by_role, requested_by_id,
			created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		intent.ID, intent.OrderID, string(intent.Reason),
		intent.Quote.RefundMinor, intent.Quote.DeficitMinor, intent.Quote.ShippingFeeDeductedMinor,
		string(intent.State), intent.ChargeRequestID,
		string(intent.RequestedByRole), intent.RequestedByID,
		intent.CreatedAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert cancellation intent: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create intent: %w", err)
	}

	return nil
}

func (r *cancellationRepository) Latest(orderID string) (domain.CancellationIntent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		intent    domain.CancellationIntent
		reason    string
		state     string
		role      string
		expiresAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, reason, refund_minor, deficit_minor, shipping_fee_minor,
		       state, charge_request_id, requested_by_role, requested_by_id,
		       created_at, expires_at
		FROM cancellation_intents
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, orderID).Scan(
		&intent.ID, &intent.OrderID, &reason,
		&intent.Quote.RefundMinor, &intent.Quote.DeficitMinor, &intent.Quote.ShippingFeeDeductedMinor,
		&state, &intent.ChargeRequestID, &role, &intent.RequestedByID,
		&intent.CreatedAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CancellationIntent{}, domain.ErrIntentNotFound
		}
		return domain.CancellationIntent{}, fmt.Errorf("select latest intent: %w", err)
	}

	intent.Reason = domain.CancellationReason(reason)
	intent.State = domain.CancellationState(state)
	intent.RequestedByRole = domain.Role(role)
	if expiresAt.Valid {
		intent.ExpiresAt = expiresAt.Time.UTC()
	}

	return intent, nil
}

func (r *cancellationRepository) Save(intent domain.CancellationIntent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE cancellation_intents
		SET state = $2,
		    charge_request_id = $3
		WHERE id = $1
	`, intent.ID, string(intent.State), intent.ChargeRequestID)
	if err != nil {
		return fmt.Errorf("update cancellation intent: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIntentNotFound
	}

	return nil
}

var _ domain.CancellationRepository = (*cancellationRepository)(nil)
