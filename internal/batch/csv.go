package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/memory"
)

// ReadCSV parses a CSV stream with a header row into a frame. Each column is
// typed as the narrowest of int64, float64, bool and string that fits every
// non-empty cell; empty cells are null.
func ReadCSV(r io.Reader) (*memory.Frame, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrValidation("csv batch is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		if header[i] == "" {
			return nil, domain.ErrValidation("csv column %d has an empty name", i)
		}
	}

	raw := make([][]string, len(header))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		for j := range header {
			raw[j] = append(raw[j], rec[j])
		}
	}

	data := make(map[string][]any, len(header))
	for j, col := range header {
		data[col] = parseColumn(raw[j])
	}
	return memory.FromColumns(header, data)
}

type cellKind int

const (
	kindInt cellKind = iota
	kindFloat
	kindBool
	kindString
)

func parseColumn(cells []string) []any {
	kind := kindInt
	for kind < kindString && !allFit(cells, kind) {
		kind++
	}
	out := make([]any, len(cells))
	for i, c := range cells {
		if c == "" {
			continue
		}
		switch kind {
		case kindInt:
			out[i], _ = strconv.ParseInt(c, 10, 64)
		case kindFloat:
			out[i], _ = strconv.ParseFloat(c, 64)
		case kindBool:
			out[i], _ = strconv.ParseBool(c)
		default:
			out[i] = c
		}
	}
	return out
}

func allFit(cells []string, kind cellKind) bool {
	for _, c := range cells {
		if c != "" && !fits(c, kind) {
			return false
		}
	}
	return true
}

func fits(c string, kind cellKind) bool {
	var err error
	switch kind {
	case kindInt:
		_, err = strconv.ParseInt(c, 10, 64)
	case kindFloat:
		_, err = strconv.ParseFloat(c, 64)
	case kindBool:
		_, err = strconv.ParseBool(c)
	}
	return err == nil
}
