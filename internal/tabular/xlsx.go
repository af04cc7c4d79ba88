package tabular

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// readXLSX reads the first sheet of a workbook; its first row is the header.
func readXLSX(path string) ([]string, [][]string, error) {
	f, err := readFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	wb, err := excelize.OpenReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("opening workbook %s: %w", filepath.Base(path), err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("%s: workbook has no sheets: %w", filepath.Base(path), errdefs.ErrInvalidInput)
	}

	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("reading sheet %q of %s: %w", sheets[0], filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%s: empty sheet: %w", filepath.Base(path), errdefs.ErrInvalidInput)
	}
	return rows[0], rows[1:], nil
}
