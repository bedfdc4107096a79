package report

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/zonestats/internal/model"
)

// StatsSheet is one worksheet of zone statistics, typically one room filter.
type StatsSheet struct {
	Name  string
	Stats []model.ZoneStatistics
}

var statsHeader = []string{
	"Zone", "Listings", "Average price", "Min price", "Max price", "Average area", "Price per area",
}

// Workbook builds an XLSX workbook with one sheet per StatsSheet plus an
// optional distribution sheet.
func Workbook(sheets []StatsSheet, distribution []model.ZoneCount) (*xlsx.File, error) {
	if len(sheets) == 0 && len(distribution) == 0 {
		return nil, eris.New("report: nothing to export")
	}

	f := xlsx.NewFile()
	for _, s := range sheets {
		sh, err := f.AddSheet(sheetName(s.Name))
		if err != nil {
			return nil, eris.Wrapf(err, "report: add sheet %q", s.Name)
		}
		addStringRow(sh, statsHeader)
		for _, z := range s.Stats {
			row := sh.AddRow()
			row.AddCell().SetString(z.Zone)
			row.AddCell().SetInt64(z.ListingCount)
			row.AddCell().SetInt64(z.AveragePrice)
			row.AddCell().SetInt64(z.MinPrice)
			row.AddCell().SetInt64(z.MaxPrice)
			row.AddCell().SetInt64(z.AverageArea)
			row.AddCell().SetInt64(z.PricePerArea)
		}
	}

	if len(distribution) > 0 {
		sh, err := f.AddSheet("Distribution")
		if err != nil {
			return nil, eris.Wrap(err, "report: add distribution sheet")
		}
		addStringRow(sh, []string{"Zone", "Listings"})
		for _, d := range distribution {
			row := sh.AddRow()
			row.AddCell().SetString(d.Zone)
			row.AddCell().SetInt(d.Count)
		}
	}
	return f, nil
}

// WriteWorkbook encodes the workbook to w.
func WriteWorkbook(w io.Writer, sheets []StatsSheet, distribution []model.ZoneCount) error {
	f, err := Workbook(sheets, distribution)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "report: write xlsx")
}

// SaveWorkbook writes the workbook to path.
func SaveWorkbook(path string, sheets []StatsSheet, distribution []model.ZoneCount) error {
	f, err := Workbook(sheets, distribution)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func addStringRow(sh *xlsx.Sheet, values []string) {
	row := sh.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// sheetName keeps names within Excel's 31 character limit.
func sheetName(name string) string {
	if name == "" {
		name = "Sheet"
	}
	r := []rune(name)
	if len(r) > 31 {
		r = r[:31]
	}
	return string(r)
}
