package db

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"gradebook-server-go/models"
	"pkt.systems/pslog"
)

const exportSheet = "Sheet1"

// ReadGradesFromExcel reads grade rows from the first sheet of a
// spreadsheet. The first row is a header; columns are ID, Name, Course
// code and Grade. Rows missing any of them are skipped and counted.
func ReadGradesFromExcel(file io.Reader, logger pslog.Logger) ([]models.GradeData, int, error) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	f, err := excelize.OpenReader(file)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("db.excel.close_failed", "error", err)
		}
	}()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, 0, errors.New("excel file does not contain any sheets")
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get rows from sheet %s: %w", sheetName, err)
	}

	grades := []models.GradeData{}
	skipped := 0
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		cell := func(n int) string {
			if n < len(row) {
				return strings.TrimSpace(row[n])
			}
			return ""
		}
		id, name, course, grade := cell(0), cell(1), cell(2), cell(3)
		if id == "" || name == "" || course == "" || grade == "" {
			logger.Debug("db.excel.row_skipped", "row", i+1)
			skipped++
			continue
		}
		grades = append(grades, models.GradeData{
			ID:         models.Text(id),
			Name:       models.Text(name),
			CourseCode: models.Text(course),
			Grade:      models.Text(grade),
		})
	}
	return grades, skipped, nil
}

// WriteGradesToExcel writes records as a spreadsheet with the store header
func WriteGradesToExcel(w io.Writer, records []models.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{r.StudentID, r.Name, r.CourseCode, r.Grade}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write excel file: %w", err)
	}
	return nil
}
