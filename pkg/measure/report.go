package measure

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// fileBufferSize is the write buffer for report output.
const fileBufferSize = 65536

// timestampLayout matches the header timestamps of the original data
// files (time of day with microseconds).
const timestampLayout = "15:04:05.000000"

// Row is one decoded sample line of a report. An invalid row marks a
// byte that broke start-byte alignment.
type Row struct {
	Valid bool

	// Raw is the 2-byte sample value. Zero for invalid rows.
	Raw uint16

	// Acc is the sensitivity-adjusted acceleration in g.
	Acc float64

	// Corrected is Acc minus the calibration offset.
	Corrected float64
}

// Report is a fully decoded capture, ready to be written as a data
// file.
type Report struct {
	StartTime      time.Time
	EndTime        time.Time
	InvalidSamples int
	Rows           []Row
}

// BuildReport decodes a recording with the given calibration. Each
// sample must begin with the calibrated start byte, one off either
// way; a byte that breaks alignment yields an invalid row and the
// decoder resynchronizes one byte later.
func BuildReport(rec *Recording, cal Calibration) *Report {
	r := &Report{StartTime: rec.StartTime, EndTime: rec.EndTime}

	data := rec.Data
	sb := int(cal.StartByte)
	i := 0
	for i < len(data) {
		b := int(data[i])
		if b < sb-1 || b > sb+1 {
			r.Rows = append(r.Rows, Row{Valid: false})
			r.InvalidSamples++
			i++
			continue
		}
		if i+SampleSize > len(data) {
			break // Trailing partial sample
		}
		raw := uint16(data[i])<<8 | uint16(data[i+1])
		acc := float64(raw) * Sensitivity
		r.Rows = append(r.Rows, Row{
			Valid:     true,
			Raw:       raw,
			Acc:       acc,
			Corrected: acc - cal.Offset,
		})
		i += SampleSize
	}
	return r
}

// Write renders the report in the established data file layout:
// header lines with timestamps and the invalid-sample count, then one
// comma-separated line per sample.
func (r *Report) Write(w io.Writer) error {
	bw := bufio.NewWriterSize(w, fileBufferSize)

	fmt.Fprintf(bw, "start time, end time\n")
	fmt.Fprintf(bw, "%s, %s\n",
		r.StartTime.Format(timestampLayout), r.EndTime.Format(timestampLayout))
	fmt.Fprintf(bw, "incorrect sample count\n")
	fmt.Fprintf(bw, "%d\n", r.InvalidSamples)
	fmt.Fprintf(bw, "raw data in hex, acceleration in dec, acceleration in g\n")

	for _, row := range r.Rows {
		if !row.Valid {
			if _, err := bw.WriteString("NA,NA,NA\n"); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(bw, "%04x,%.2f,%.2f\n", row.Raw, row.Acc, row.Corrected); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReportFilename builds the data file name for a capture:
// <name>_<ddmmyyyy>_<hhmmss>.txt from the capture start time.
func ReportFilename(name string, start time.Time) string {
	return fmt.Sprintf("%s_%s_%s.txt", name, start.Format("02012006"), start.Format("150405"))
}
