package accumulation

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ReportRow is the Parquet schema of a response reconciliation report.
type ReportRow struct {
	Payer           string `parquet:"payer"`
	MappingID       int64  `parquet:"mapping_id"`
	CostBreakdownID int64  `parquet:"cost_breakdown_id"`
	UniqueID        string `parquet:"unique_id"`
	MemberID        string `parquet:"member_id"`
	Status          string `parquet:"status"`
	ResponseCode    string `parquet:"response_code"`
	ResponseReason  string `parquet:"response_reason"`
	Matched         bool   `parquet:"matched"`
}

func reportRows(rows []ResponseRow) []ReportRow {
	out := make([]ReportRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, ReportRow{
			Payer:           string(r.Payer),
			MappingID:       r.MappingID,
			CostBreakdownID: r.CostBreakdownID,
			UniqueID:        r.UniqueID,
			MemberID:        r.MemberID,
			Status:          string(r.Status),
			ResponseCode:    r.ResponseCode,
			ResponseReason:  r.ResponseReason,
			Matched:         r.Matched,
		})
	}
	return out
}

// WriteReport writes rows to a Snappy compressed Parquet file at path.
func WriteReport(path string, rows []ResponseRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	writer := parquet.NewGenericWriter[ReportRow](file, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(reportRows(rows)); err != nil {
		file.Close()
		return fmt.Errorf("write report rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("close report writer: %w", err)
	}
	return file.Close()
}
