package ledger

import (
	"context"
	"fmt"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Rajchodisetti/sensex-scalper/internal/decision"
	"github.com/Rajchodisetti/sensex-scalper/internal/lifecycle"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

// TradeRow is the closed_trades table.
type TradeRow struct {
	PositionID     string    `gorm:"primaryKey;size:36"`
	Tier           string    `gorm:"index;size:32"`
	Direction      string    `gorm:"size:8"`
	EntryTime      time.Time
	ExitTime       time.Time `gorm:"index"`
	EntryPrice     float64
	ExitPrice      float64
	Quantity       int64
	Notional       float64
	PnL            float64
	ReturnPct      float64
	Status         string `gorm:"size:16"`
	ExitReason     string `gorm:"size:32"`
	HoldingSeconds float64
	Confidence     float64
	Forced         bool
	Strike         int
}

func (TradeRow) TableName() string { return "closed_trades" }

func rowOf(r lifecycle.ClosedTradeRecord) TradeRow {
	return TradeRow{
		PositionID:     r.PositionID,
		Tier:           r.Tier,
		Direction:      string(r.Direction),
		EntryTime:      r.EntryTime.UTC(),
		ExitTime:       r.ExitTime.UTC(),
		EntryPrice:     r.EntryPrice,
		ExitPrice:      r.ExitPrice,
		Quantity:       r.Quantity,
		Notional:       r.Notional,
		PnL:            r.PnL,
		ReturnPct:      r.ReturnPct,
		Status:         string(r.Status),
		ExitReason:     r.ExitReason,
		HoldingSeconds: r.HoldingSeconds,
		Confidence:     r.Confidence,
		Forced:         r.Forced,
		Strike:         r.Strike,
	}
}

func (t TradeRow) record() lifecycle.ClosedTradeRecord {
	return lifecycle.ClosedTradeRecord{
		PositionID:     t.PositionID,
		Tier:           t.Tier,
		Direction:      decision.Direction(t.Direction),
		EntryTime:      t.EntryTime,
		ExitTime:       t.ExitTime,
		EntryPrice:     t.EntryPrice,
		ExitPrice:      t.ExitPrice,
		Quantity:       t.Quantity,
		Notional:       t.Notional,
		PnL:            t.PnL,
		ReturnPct:      t.ReturnPct,
		Status:         lifecycle.Status(t.Status),
		ExitReason:     t.ExitReason,
		HoldingSeconds: t.HoldingSeconds,
		Confidence:     t.Confidence,
		Forced:         t.Forced,
		Strike:         t.Strike,
	}
}

// Store persists the ledger through gorm.
type Store struct {
	db *gorm.DB
}

// OpenPostgres connects with gorm logging routed to the process slog logger.
func OpenPostgres(dsn string) (*Store, error) {
	return Open(postgres.Open(dsn))
}

func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: slogGorm.New(slogGorm.WithHandler(observ.Logger().Handler()))})
	if err != nil {
		return nil, fmt.Errorf("cannot create gorm engine: %w", err)
	}
	if err := db.AutoMigrate(&TradeRow{}); err != nil {
		return nil, fmt.Errorf("migrate closed_trades: %w", err)
	}
	observ.Log("ledger_store_connected", map[string]any{"dialect": dialector.Name()})
	return &Store{db: db}, nil
}

func (s *Store) Append(ctx context.Context, rec lifecycle.ClosedTradeRecord) error {
	row := rowOf(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		observ.IncCounter("ledger_store_errors_total", nil)
		return fmt.Errorf("insert trade %s: %w", rec.PositionID, err)
	}
	return nil
}

// Trades returns trades that exited in [from, to], oldest first. An empty
// tier matches every tier.
func (s *Store) Trades(ctx context.Context, from, to time.Time, tier string) ([]lifecycle.ClosedTradeRecord, error) {
	query := s.db.WithContext(ctx).Model(&TradeRow{})
	if tier != "" {
		query = query.Where("tier = ?", tier)
	}
	query = query.Where("exit_time BETWEEN ? AND ?", from.UTC(), to.UTC()).Order("exit_time, position_id")

	var rows []TradeRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]lifecycle.ClosedTradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
