package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/textilehq/backoffice/internal/shared"
)

const idempotencyModule = "inventory"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error)
	GetBalance(ctx context.Context, productID int64) (Balance, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards movement codes against double posting.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	allowNeg    bool
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service. audit and idem may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, allowNeg: cfg.AllowNegativeStock, logger: logger, now: time.Now}
}

// WithClock overrides the posting clock.
func (s *Service) WithClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// PostInbound posts a purchase receipt at the given unit cost.
func (s *Service) PostInbound(ctx context.Context, input MovementInput) (StockCardEntry, error) {
	if err := validateDirected(input); err != nil {
		return StockCardEntry{}, err
	}
	if input.UnitCost < 0 {
		return StockCardEntry{}, ErrInvalidUnitCost
	}
	return s.postMovement(ctx, input, input.Qty, TransactionTypeIn)
}

// PostOutbound issues stock for a sale at the running average cost.
func (s *Service) PostOutbound(ctx context.Context, input MovementInput) (StockCardEntry, error) {
	if err := validateDirected(input); err != nil {
		return StockCardEntry{}, err
	}
	return s.postMovement(ctx, input, -input.Qty, TransactionTypeOut)
}

// PostReturn restocks returned goods. A zero unit cost restocks at the
// current average.
func (s *Service) PostReturn(ctx context.Context, input MovementInput) (StockCardEntry, error) {
	if err := validateDirected(input); err != nil {
		return StockCardEntry{}, err
	}
	if input.UnitCost < 0 {
		return StockCardEntry{}, ErrInvalidUnitCost
	}
	return s.postMovement(ctx, input, input.Qty, TransactionTypeReturn)
}

// PostAdjustment posts an adjustment which may be positive or negative.
func (s *Service) PostAdjustment(ctx context.Context, input MovementInput) (StockCardEntry, error) {
	if input.ProductID <= 0 {
		return StockCardEntry{}, ErrProductRequired
	}
	if math.Abs(input.Qty) < 1e-9 {
		return StockCardEntry{}, ErrInvalidQuantity
	}
	if input.Qty > 0 && input.UnitCost < 0 {
		return StockCardEntry{}, ErrInvalidUnitCost
	}
	return s.postMovement(ctx, input, input.Qty, TransactionTypeAdjust)
}

// GetStockCard lists stock card entries.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.ProductID <= 0 {
		return nil, ErrProductRequired
	}
	return s.repo.GetStockCard(ctx, filter)
}

// GetBalance returns the product balance; products never moved report zero.
func (s *Service) GetBalance(ctx context.Context, productID int64) (Balance, error) {
	if productID <= 0 {
		return Balance{}, ErrProductRequired
	}
	bal, err := s.repo.GetBalance(ctx, productID)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{ProductID: productID}, nil
	}
	return bal, err
}

func validateDirected(input MovementInput) error {
	if input.ProductID <= 0 {
		return ErrProductRequired
	}
	if input.Qty <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

func (s *Service) postMovement(ctx context.Context, input MovementInput, qtyChange float64, txType TransactionType) (StockCardEntry, error) {
	now := s.now().UTC()
	code := input.Code
	if code == "" {
		code = fmt.Sprintf("INV-%d", now.UnixNano())
	}
	var card StockCardEntry
	key := fmt.Sprintf("%s:%s:%d", txType, code, input.ProductID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return StockCardEntry{}, ErrDuplicateMovement
			}
			return StockCardEntry{}, err
		}
		insertedKey = true
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, input.ProductID)
		if errors.Is(err, ErrBalanceNotFound) {
			balance = Balance{ProductID: input.ProductID}
		} else if err != nil {
			return err
		}
		newQty := balance.Qty + qtyChange
		if !s.allowNeg && newQty < -0.0001 {
			return ErrNegativeStock
		}
		var unitCost, newAvg float64
		if qtyChange > 0 {
			unitCost = input.UnitCost
			if txType == TransactionTypeReturn && unitCost == 0 {
				unitCost = balance.AvgCost
			}
			// Stock below zero carries no cost basis.
			held := math.Max(balance.Qty, 0)
			if total := held + qtyChange; total > 0 {
				newAvg = (held*balance.AvgCost + qtyChange*unitCost) / total
			}
		} else {
			unitCost = balance.AvgCost
			if math.Abs(newQty) < 0.0001 {
				newQty = 0
			}
			if newQty > 0 {
				newAvg = balance.AvgCost
			}
		}
		txID, err := tx.InsertTransaction(ctx, Transaction{
			Code:      code,
			Type:      txType,
			RefModule: input.RefModule,
			RefID:     input.RefID,
			Note:      input.Note,
			PostedAt:  now,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertTransactionLines(ctx, txID, []TransactionLine{{
			TransactionID: txID,
			ProductID:     input.ProductID,
			Qty:           qtyChange,
			UnitCost:      unitCost,
		}}); err != nil {
			return err
		}
		balance.Qty = newQty
		balance.AvgCost = newAvg
		if err := tx.UpsertBalance(ctx, balance); err != nil {
			return err
		}
		if err := tx.SyncProductQuantity(ctx, input.ProductID, newQty); err != nil {
			return err
		}
		card = StockCardEntry{
			TxCode:      code,
			TxType:      txType,
			PostedAt:    now,
			QtyIn:       math.Max(qtyChange, 0),
			QtyOut:      math.Max(-qtyChange, 0),
			BalanceQty:  newQty,
			UnitCost:    unitCost,
			BalanceCost: newAvg,
			Note:        input.Note,
		}
		return tx.InsertCardEntry(ctx, card, input.ProductID, txID)
	})
	if err != nil {
		if insertedKey {
			if derr := s.idempotency.Delete(context.WithoutCancel(ctx), key); derr != nil {
				s.logger.Warn("release movement key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		return StockCardEntry{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   fmt.Sprintf("inventory:%s", txType),
			Entity:   "inventory_tx",
			EntityID: code,
			Meta: map[string]any{
				"product_id": input.ProductID,
				"qty":        qtyChange,
				"note":       input.Note,
			},
		}); err != nil {
			s.logger.Warn("audit inventory movement", slog.String("code", code), slog.Any("error", err))
		}
	}
	return card, nil
}
