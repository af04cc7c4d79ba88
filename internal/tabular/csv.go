package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// readCSV returns the header row and the remaining records of a CSV file.
// Records may be shorter than the header; build pads them.
func readCSV(path string) ([]string, [][]string, error) {
	f, err := readFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%s: empty file: %w", filepath.Base(path), errdefs.ErrInvalidInput)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s header: %w", filepath.Base(path), err)
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return header, records, nil
}
