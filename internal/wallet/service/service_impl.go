package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	walletdomain "github.com/ngtluan2k/NextMarket-sub001/internal/wallet/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) walletdomain.Poster {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("wallet.service"),
		genID: p.GenID,
	}
}

// errDuplicateReference aborts the posting transaction when the
// reference was already credited, rolling the balance delta back.
var errDuplicateReference = errors.New("duplicate_reference")

// Post is idempotent per reference: a repeat posting of an already
// credited reference leaves the balance untouched and returns it.
func (s *Service) Post(ctx context.Context, beneficiaryUserID snowflake.ID, amount decimal.Decimal, reference, memo string) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, walletdomain.ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.applyDelta(ctx, tx, beneficiaryUserID, amount)
		if err != nil {
			return err
		}
		inserted, err := s.appendCredit(ctx, tx, beneficiaryUserID, amount, balance, reference, memo)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateReference
		}
		newBalance = balance
		return nil
	})
	if errors.Is(err, errDuplicateReference) {
		s.log.Warn("credit reference already posted, skipping",
			zap.String("reference", reference),
			zap.String("beneficiary_user_id", beneficiaryUserID.String()),
		)
		return s.currentBalance(ctx, beneficiaryUserID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

func (s *Service) Deduct(ctx context.Context, tx *gorm.DB, beneficiaryUserID snowflake.ID, amount decimal.Decimal, reference, reason string) error {
	if tx == nil {
		return walletdomain.ErrMissingTransaction
	}
	if amount.Sign() <= 0 {
		return walletdomain.ErrInvalidAmount
	}

	// A reversal debit may push the balance negative when the
	// beneficiary already withdrew; the trail still records the debt.
	balance, err := s.applyDelta(ctx, tx, beneficiaryUserID, amount.Neg())
	if err != nil {
		return err
	}
	return s.appendTransaction(ctx, tx, beneficiaryUserID, walletdomain.DirectionDebit, amount, balance, reference, reason)
}

// applyDelta adjusts the balance with an atomic upsert and returns the
// resulting balance.
func (s *Service) applyDelta(ctx context.Context, tx *gorm.DB, userID snowflake.ID, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO wallets (user_id, balance, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		 SET balance = wallets.balance + excluded.balance, updated_at = excluded.updated_at`,
		userID, delta, time.Now().UTC(),
	).Error; err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	if err := tx.WithContext(ctx).Raw(
		`SELECT balance FROM wallets WHERE user_id = ?`, userID,
	).Scan(&balance).Error; err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// appendCredit records a credit row guarded by the unique
// credit-reference index; false means the reference was already
// posted and the caller must roll back its balance delta.
func (s *Service) appendCredit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount, balanceAfter decimal.Decimal, reference, memo string) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO wallet_transactions (id, user_id, direction, amount, balance_after, reference, memo, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (reference) WHERE direction = 'credit' DO NOTHING`,
		s.genID.Generate(), userID, walletdomain.DirectionCredit, amount, balanceAfter, reference, memo, time.Now().UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) appendTransaction(ctx context.Context, tx *gorm.DB, userID snowflake.ID, direction string, amount, balanceAfter decimal.Decimal, reference, memo string) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO wallet_transactions (id, user_id, direction, amount, balance_after, reference, memo, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.genID.Generate(), userID, direction, amount, balanceAfter, reference, memo, time.Now().UTC(),
	).Error
}

func (s *Service) currentBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(balance), 0) FROM wallets WHERE user_id = ?`, userID,
	).Scan(&balance).Error
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
