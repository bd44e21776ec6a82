package recorder

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/roach88/dersweep/internal/device"
)

// SummaryHeader is the column header of result_summary.csv.
var SummaryHeader = []string{"run", "setpoint", "eut_w", "daq_w"}

// WriteRowsCSV writes rows with SummaryHeader.
func WriteRowsCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, row := range rows {
		rec := []string{
			strconv.Itoa(row.Run),
			formatFloat(row.Setpoint),
			formatFloat(row.EUTReported),
			formatFloat(row.DAQTotal),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDatasetCSV writes a DAQ dataset with its column header.
func WriteDatasetCSV(w io.Writer, ds device.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Columns); err != nil {
		return fmt.Errorf("write dataset header: %w", err)
	}
	rec := make([]string, len(ds.Columns))
	for _, row := range ds.Rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) {
				rec[i] = formatFloat(row[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write dataset row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeDataset(path string, ds device.Dataset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteDatasetCSV(f, ds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
