package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"cryptoStalkerBot/internal/domain"
)

// WriteCandlesToCSV saves a candle series for later replay.
func WriteCandlesToCSV(candles []domain.Candle, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"open_time", "close_time", "symbol", "period", "open", "high", "low", "close", "volume"})

	for _, c := range candles {
		writer.Write([]string{
			c.OpenTime.Format(time.RFC3339),
			c.CloseTime.Format(time.RFC3339),
			c.Pair.Symbol(),
			c.Period,
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		})
	}
	return writer.Error()
}

// ReadCandlesFromCSV loads a candle series written by WriteCandlesToCSV. The
// symbol column is ignored; every candle is attributed to the given pair and
// marked final.
func ReadCandlesFromCSV(filename string, pair domain.Pair) ([]domain.Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s holds no candle rows", filename)
	}

	candles := make([]domain.Candle, 0, len(rows)-1)
	for i, row := range rows[1:] { // skip header
		if len(row) != 9 {
			return nil, fmt.Errorf("%s row %d: expected 9 columns, got %d", filename, i+2, len(row))
		}
		openTime, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad open_time: %w", filename, i+2, err)
		}
		closeTime, err := time.Parse(time.RFC3339, row[1])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad close_time: %w", filename, i+2, err)
		}
		prices := make([]float64, 5)
		for j, col := range row[4:] {
			v, err := strconv.ParseFloat(col, 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d column %d: %w", filename, i+2, j+5, err)
			}
			prices[j] = v
		}
		candles = append(candles, domain.Candle{
			OpenTime:  openTime,
			CloseTime: closeTime,
			Pair:      pair,
			Period:    row[3],
			Open:      prices[0],
			High:      prices[1],
			Low:       prices[2],
			Close:     prices[3],
			Volume:    prices[4],
			IsFinal:   true,
		})
	}
	return candles, nil
}
