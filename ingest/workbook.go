package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Workbook is the first sheet of a spreadsheet: the header row and the
// data rows keyed by header. Empty cells are absent from a record.
type Workbook struct {
	Sheet   string
	Headers []string
	Records []map[string]any
}

func ReadWorkbook(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySource
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	wb := &Workbook{Sheet: sheets[0]}
	if len(rows) == 0 {
		return wb, nil
	}

	for _, h := range rows[0] {
		wb.Headers = append(wb.Headers, strings.TrimSpace(h))
	}

	for _, row := range rows[1:] {
		rec := make(map[string]any, len(row))
		for i, cell := range row {
			if i >= len(wb.Headers) || wb.Headers[i] == "" || cell == "" {
				continue
			}
			rec[wb.Headers[i]] = cell
		}
		if len(rec) > 0 {
			wb.Records = append(wb.Records, rec)
		}
	}
	return wb, nil
}
