// Package export maintains per-timeframe CSV datasets of footprint candles.
// Each export tick rewrites the whole file so the live candle is always
// reflected in the last row; nothing mutates rows in place.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/HuzaifaIlyas02/FootPrintChart/domain"
	"github.com/HuzaifaIlyas02/FootPrintChart/helpers"
	promclient "github.com/HuzaifaIlyas02/FootPrintChart/infrastructure/prometheus"
)

var csvHeader = []string{
	"bucket", "total_volume", "buy_volume", "sell_volume",
	"buy_contracts", "sell_contracts",
	"open", "high", "low", "close",
	"delta", "max_delta", "min_delta", "CVD", "buy_sell_ratio",
	"pocs", "price_levels", "imbalances",
}

// Row is one exported candle, finalized or live.
type Row struct {
	Bucket        int64                          `json:"bucket"`
	TotalVolume   decimal.Decimal                `json:"total_volume"`
	BuyVolume     decimal.Decimal                `json:"buy_volume"`
	SellVolume    decimal.Decimal                `json:"sell_volume"`
	BuyContracts  int64                          `json:"buy_contracts"`
	SellContracts int64                          `json:"sell_contracts"`
	Open          decimal.Decimal                `json:"open"`
	High          decimal.Decimal                `json:"high"`
	Low           decimal.Decimal                `json:"low"`
	Close         decimal.Decimal                `json:"close"`
	Delta         decimal.Decimal                `json:"delta"`
	MaxDelta      decimal.Decimal                `json:"max_delta"`
	MinDelta      decimal.Decimal                `json:"min_delta"`
	CVD           decimal.Decimal                `json:"CVD"`
	BuySellRatio  decimal.NullDecimal            `json:"buy_sell_ratio"`
	POCs          []domain.PointOfControl        `json:"pocs"`
	PriceLevels   map[string]domain.LevelSummary `json:"price_levels"`
	Imbalances    []domain.Imbalance             `json:"imbalances"`
}

func rowFromSummary(s *domain.FootprintSummary) Row {
	return Row{
		Bucket:        s.Bucket,
		TotalVolume:   s.TotalVolume,
		BuyVolume:     s.BuyVolume,
		SellVolume:    s.SellVolume,
		BuyContracts:  s.BuyTrades,
		SellContracts: s.SellTrades,
		Open:          s.Open,
		High:          s.High,
		Low:           s.Low,
		Close:         s.Close,
		Delta:         s.Delta,
		MaxDelta:      s.MaxDelta,
		MinDelta:      s.MinDelta,
		CVD:           s.CVD,
		BuySellRatio:  s.Ratio,
		POCs:          s.POCs,
		PriceLevels:   s.PriceLevels,
		Imbalances:    s.Imbalances,
	}
}

func (r Row) record() []string {
	ratio := ""
	if r.BuySellRatio.Valid {
		ratio = r.BuySellRatio.Decimal.String()
	}

	return []string{
		helpers.IntToString(r.Bucket),
		r.TotalVolume.String(),
		r.BuyVolume.String(),
		r.SellVolume.String(),
		helpers.IntToString(r.BuyContracts),
		helpers.IntToString(r.SellContracts),
		r.Open.String(),
		r.High.String(),
		r.Low.String(),
		r.Close.String(),
		r.Delta.String(),
		r.MaxDelta.String(),
		r.MinDelta.String(),
		r.CVD.String(),
		ratio,
		helpers.ToJsonString(r.POCs),
		helpers.ToJsonString(r.PriceLevels),
		helpers.ToJsonString(r.Imbalances),
	}
}

// FootprintSource is the read surface of the aggregator the exporter needs.
type FootprintSource interface {
	Timeframes() []domain.Timeframe
	History(tf domain.Timeframe) ([]*domain.FootprintSummary, error)
	Live(tf domain.Timeframe) (*domain.FootprintSummary, error)
}

// Exporter rewrites one CSV file per timeframe on every tick and keeps an
// in-memory copy of the last successfully written dataset for the query API.
type Exporter struct {
	source   FootprintSource
	dir      string
	interval time.Duration
	log      *logrus.Entry

	mu       sync.RWMutex
	datasets map[domain.Timeframe][]Row
}

func NewExporter(source FootprintSource, dir string, interval time.Duration, log *logrus.Entry) *Exporter {
	return &Exporter{
		source:   source,
		dir:      dir,
		interval: interval,
		log:      log.WithField("component", "csv-exporter"),
		datasets: make(map[domain.Timeframe][]Row),
	}
}

// Run exports on every tick until the context is cancelled. Export failures
// are logged and retried on the next tick; they never stop the loop.
func (e *Exporter) Run(ctx context.Context) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.ExportAll()
		}
	}
}

// ExportAll rewrites every timeframe's dataset once.
func (e *Exporter) ExportAll() {
	for _, tf := range e.source.Timeframes() {
		if err := e.export(tf); err != nil {
			promclient.ExportFailures.Inc()
			e.log.WithError(err).WithField("timeframe", tf.String()).Warn("export failed, retrying next tick")
		}
	}
}

func (e *Exporter) export(tf domain.Timeframe) error {
	history, err := e.source.History(tf)
	if err != nil {
		return err
	}

	rows := make([]Row, 0, len(history)+1)
	for _, s := range history {
		rows = append(rows, rowFromSummary(s))
	}
	if live, err := e.source.Live(tf); err == nil {
		rows = append(rows, rowFromSummary(live))
	}

	if err := e.writeFile(tf, rows); err != nil {
		return err
	}

	e.mu.Lock()
	e.datasets[tf] = rows
	e.mu.Unlock()
	return nil
}

func (e *Exporter) writeFile(tf domain.Timeframe, rows []Row) error {
	path := e.Filename(tf)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row.record()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Filename is the CSV path for a timeframe within the data directory.
func (e *Exporter) Filename(tf domain.Timeframe) string {
	return filepath.Join(e.dir, fmt.Sprintf("footprint_%s.csv", tf))
}

// Rows returns the last exported dataset for a timeframe.
func (e *Exporter) Rows(tf domain.Timeframe) ([]Row, error) {
	known := false
	for _, t := range e.source.Timeframes() {
		if t == tf {
			known = true
			break
		}
	}
	if !known {
		return nil, domain.ErrUnknownTimeframe
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	rows := e.datasets[tf]
	if len(rows) == 0 {
		return nil, domain.ErrNoData
	}
	return append([]Row(nil), rows...), nil
}
