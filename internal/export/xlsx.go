package export

import (
	"fmt"
	"io"
	"time"

	"campusbook/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Reservations"

// WriteReservations writes a workbook with a period title, a bold header row and
// one row per reservation.
func WriteReservations(w io.Writer, from, to time.Time, reservations []*models.Reservation) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	lastCol, _ := excelize.ColumnNumberToName(len(header))
	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Period: %s - %s", from.Format("2006-01-02"), to.Format("2006-01-02")))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	if err := f.SetSheetRow(sheetName, "A2", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	_ = f.SetCellStyle(sheetName, "A2", lastCol+"2", headerStyle)

	for i, r := range reservations {
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		values := row(r)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+3, err)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", lastCol, 18)
	_ = f.SetColWidth(sheetName, "C", "C", 40)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
