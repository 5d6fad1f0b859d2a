package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Sheet1"

var (
	headerRow    = []any{"ID", "ФИО", "КОЛИЧЕСТВО_ДОСТАВОК", "ОБЩЕЕ_ВРЕМЯ_ОЖИДАНИЯ", "СРЕДНЕЕ_ВРЕМЯ_ОЖИДАНИЯ"}
	columnWidths = []float64{5, 20, 10, 10, 10}
)

func WriteWorkbook(path string, stats []CourierStat) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, stat := range stats {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{stat.ID, stat.Name, stat.Deliveries, stat.TotalWait, stat.AvgWait}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return fmt.Errorf("setting width of column %s: %w", col, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", path, err)
	}
	return nil
}
