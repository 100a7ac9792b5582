package workbook

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/dept-delivery/finsheet/internal/model"
)

// ReadOptions configures workbook reading.
type ReadOptions struct {
	Sheets []string // if set, only these sheet names are read
}

// Read opens an XLSX workbook and returns every sheet as a raw string grid.
// No header interpretation happens here: classification and normalization
// decide later what each row means.
func Read(path string, opts ReadOptions) ([]model.Sheet, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "workbook: open %s", path)
	}

	want := make(map[string]bool, len(opts.Sheets))
	for _, name := range opts.Sheets {
		want[name] = true
	}

	var sheets []model.Sheet
	for _, sheet := range f.Sheets {
		if len(want) > 0 && !want[sheet.Name] {
			continue
		}
		sheets = append(sheets, model.Sheet{
			Name: sheet.Name,
			Rows: sheetToGrid(sheet),
		})
	}

	if len(want) > 0 && len(sheets) < len(want) {
		for _, name := range opts.Sheets {
			if !containsSheet(sheets, name) {
				return nil, eris.Errorf("workbook: sheet %q not found in %s", name, path)
			}
		}
	}

	return sheets, nil
}

// SheetNames returns the sheet names of a workbook in file order.
func SheetNames(path string) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "workbook: open %s", path)
	}
	names := make([]string, len(f.Sheets))
	for i, sheet := range f.Sheets {
		names[i] = sheet.Name
	}
	return names, nil
}

func sheetToGrid(sheet *xlsx.Sheet) [][]string {
	rows := make([][]string, len(sheet.Rows))
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows[i] = cells
	}
	return rows
}

func containsSheet(sheets []model.Sheet, name string) bool {
	for _, s := range sheets {
		if s.Name == name {
			return true
		}
	}
	return false
}
