package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hybridbot/internal/domain"
)

// TradeRecord is the persisted form of an executed fill.
type TradeRecord struct {
	ID          string `gorm:"primaryKey"`
	Symbol      string `gorm:"index"`
	Venue       string
	Side        string
	Size        string
	Price       string
	Strategy    string
	RealizedPnL string
	ExecutedAt  time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// PortfolioRecord is one saved portfolio summary. The latest row seeds the
// next run's Kelly statistics.
type PortfolioRecord struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	TotalEquity   string
	SpotEquity    string
	FuturesEquity string
	RealizedPnL   string
	PeakEquity    string
	Trades        int
	Wins          int
	Losses        int
	SumWinPct     string
	SumLossPct    string
	OpenPositions int
	SavedAt       time.Time `gorm:"index"`
}

// Storage is the SQLite-backed trade store.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path.
func NewStorage(path string) (*Storage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure Go SQLite driver, no cgo.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&TradeRecord{}, &PortfolioRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// RecordTrade appends one executed fill.
func (s *Storage) RecordTrade(ctx context.Context, trade domain.Trade) error {
	rec := TradeRecord{
		ID:          trade.ID,
		Symbol:      string(trade.Symbol),
		Venue:       string(trade.Venue),
		Side:        string(trade.Side),
		Size:        trade.Size.String(),
		Price:       trade.Price.String(),
		Strategy:    string(trade.Strategy),
		RealizedPnL: trade.RealizedPnL.String(),
		ExecutedAt:  trade.ExecutedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// SavePortfolio appends a portfolio summary snapshot.
func (s *Storage) SavePortfolio(ctx context.Context, summary domain.PortfolioSummary) error {
	rec := PortfolioRecord{
		TotalEquity:   summary.TotalEquity.String(),
		SpotEquity:    summary.SpotEquity.String(),
		FuturesEquity: summary.FuturesEquity.String(),
		RealizedPnL:   summary.RealizedPnL.String(),
		PeakEquity:    summary.PeakEquity.String(),
		Trades:        summary.Trades,
		Wins:          summary.Wins,
		Losses:        summary.Losses,
		SumWinPct:     summary.SumWinPct.String(),
		SumLossPct:    summary.SumLossPct.String(),
		OpenPositions: summary.OpenPositions,
		SavedAt:       summary.At,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// LoadPortfolio returns the most recently saved summary, or nil when the
// database is empty.
func (s *Storage) LoadPortfolio(ctx context.Context) (*domain.PortfolioSummary, error) {
	var rec PortfolioRecord
	err := s.db.WithContext(ctx).Order("saved_at DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.toSummary()
}

// RecentTrades returns up to limit trades, newest first.
func (s *Storage) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	var recs []TradeRecord
	err := s.db.WithContext(ctx).Order("executed_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

func (r *PortfolioRecord) toSummary() (*domain.PortfolioSummary, error) {
	sum := &domain.PortfolioSummary{
		Trades:        r.Trades,
		Wins:          r.Wins,
		Losses:        r.Losses,
		OpenPositions: r.OpenPositions,
		At:            r.SavedAt,
	}
	fields := []struct {
		src string
		dst *decimal.Decimal
	}{
		{r.TotalEquity, &sum.TotalEquity},
		{r.SpotEquity, &sum.SpotEquity},
		{r.FuturesEquity, &sum.FuturesEquity},
		{r.RealizedPnL, &sum.RealizedPnL},
		{r.PeakEquity, &sum.PeakEquity},
		{r.SumWinPct, &sum.SumWinPct},
		{r.SumLossPct, &sum.SumLossPct},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("corrupt portfolio record %d: %w", r.ID, err)
		}
		*f.dst = v
	}
	return sum, nil
}
