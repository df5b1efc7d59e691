package pulselog

import "fmt"

// TimestampColumn is the name of the first column of every row.
const TimestampColumn = "timestamp"

// Header returns the fixed log header for the given sources:
// the timestamp column, then every fast source's names, then every slow
// source's names, each in configured order.
func Header(fast, slow []Source) []string {
	header := []string{TimestampColumn}
	for _, src := range fast {
		header = append(header, src.Names()...)
	}
	for _, src := range slow {
		header = append(header, src.Names()...)
	}
	return header
}

// Width returns the number of columns a row for the given sources has,
// including the timestamp.
func Width(fast, slow []Source) int {
	return len(Header(fast, slow))
}

// Aggregate concatenates per-source rows into one row, preserving the order
// of rows and of values within each row. The inputs are not modified.
func Aggregate(rows ...[]float64) []float64 {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]float64, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func shapeError(want, got int) error {
	return fmt.Errorf("%w: expected %d values, got %d", ErrDataShape, want, got)
}
