package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/tillpoint/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/tillpoint/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateEntry(
	ctx context.Context,
	db *gorm.DB,
	sourceType ledgerdomain.LedgerSourceType,
	sourceID snowflake.ID,
	currency string,
	occurredAt time.Time,
	lines []ledgerdomain.LedgerEntryLine,
) (bool, error) {
	if strings.TrimSpace(string(sourceType)) == "" {
		return false, ledgerdomain.ErrInvalidSourceType
	}
	if sourceID == 0 {
		return false, ledgerdomain.ErrInvalidSourceID
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return false, ledgerdomain.ErrInvalidCurrency
	}
	if occurredAt.IsZero() {
		return false, ledgerdomain.ErrInvalidOccurredAt
	}

	if len(lines) < 2 {
		return false, ledgerdomain.ErrInvalidEntryLines
	}

	normalized := make([]ledgerdomain.LedgerEntryLine, 0, len(lines))
	for _, line := range lines {
		if line.AccountID == 0 {
			return false, ledgerdomain.ErrInvalidAccount
		}
		direction, err := normalizeDirection(line.Direction)
		if err != nil {
			return false, err
		}
		if line.Amount < 0 {
			return false, ledgerdomain.ErrInvalidLineAmount
		}
		normalized = append(normalized, ledgerdomain.LedgerEntryLine{
			AccountID: line.AccountID,
			Direction: direction,
			Currency:  currency,
			Amount:    line.Amount,
		})
	}

	if err := ledgerdomain.ValidateBalanced(normalized); err != nil {
		return false, err
	}

	if db == nil {
		db = s.db
	}

	inserted := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entryID := s.genID.Generate()
		now := time.Now().UTC()
		result := tx.Exec(
			`INSERT INTO ledger_entries (
				id, source_type, source_id, currency, occurred_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (source_type, source_id) DO NOTHING`,
			entryID,
			string(sourceType),
			sourceID,
			currency,
			occurredAt.UTC(),
			now,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		inserted = true

		for _, line := range normalized {
			if err := tx.Exec(
				`INSERT INTO ledger_entry_lines (
					id, ledger_entry_id, account_id, direction, currency, amount, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				s.genID.Generate(),
				entryID,
				line.AccountID,
				string(line.Direction),
				line.Currency,
				line.Amount,
				now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if inserted {
		s.obsMetrics.RecordLedgerEntry(ctx, string(sourceType))
	} else {
		s.log.Debug("ledger entry already posted",
			zap.String("source_type", string(sourceType)),
			zap.String("source_id", sourceID.String()),
		)
	}
	return inserted, nil
}

func (s *Service) EnsureAccount(ctx context.Context, db *gorm.DB, code ledgerdomain.LedgerAccountCode) (snowflake.ID, error) {
	code = ledgerdomain.LedgerAccountCode(strings.TrimSpace(string(code)))
	if code == "" {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	if db == nil {
		db = s.db
	}

	var accountID snowflake.ID
	if err := db.WithContext(ctx).Raw(
		`SELECT id FROM ledger_accounts WHERE code = ?`,
		string(code),
	).Scan(&accountID).Error; err != nil {
		return 0, err
	}
	if accountID != 0 {
		return accountID, nil
	}

	if err := db.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (id, code, name, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (code) DO NOTHING`,
		s.genID.Generate(),
		string(code),
		ledgerdomain.AccountName(code),
		time.Now().UTC(),
	).Error; err != nil {
		return 0, err
	}

	if err := db.WithContext(ctx).Raw(
		`SELECT id FROM ledger_accounts WHERE code = ?`,
		string(code),
	).Scan(&accountID).Error; err != nil {
		return 0, err
	}
	if accountID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	return accountID, nil
}

func normalizeDirection(direction ledgerdomain.LedgerEntryDirection) (ledgerdomain.LedgerEntryDirection, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(direction)))
	switch normalized {
	case string(ledgerdomain.LedgerEntryDirectionDebit):
		return ledgerdomain.LedgerEntryDirectionDebit, nil
	case string(ledgerdomain.LedgerEntryDirectionCredit):
		return ledgerdomain.LedgerEntryDirectionCredit, nil
	default:
		return "", ledgerdomain.ErrInvalidLineDirection
	}
}
