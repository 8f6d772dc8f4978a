package ledger

import (
	"context"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// exportRow is the flattened, Parquet-friendly projection of an
// AuditRecord. Nullable fields are written as their zero value when absent.
// Only risk_score has a companion column (has_risk_score); for the other
// nullable fields an absent value is written the same as an empty string.
type exportRow struct {
	ID               int64  `parquet:"name=id, type=INT64"`
	Timestamp        string `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	ServerName       string `parquet:"name=server_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Direction        string `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	Method           string `parquet:"name=method, type=BYTE_ARRAY, convertedtype=UTF8"`
	MessageID        string `parquet:"name=message_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ToolName         string `parquet:"name=tool_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArgumentsJSON    string `parquet:"name=arguments_json, type=BYTE_ARRAY, convertedtype=UTF8"`
	ResponseJSON     string `parquet:"name=response_json, type=BYTE_ARRAY, convertedtype=UTF8"`
	Verdict          string `parquet:"name=verdict, type=BYTE_ARRAY, convertedtype=UTF8"`
	RiskScore        int32  `parquet:"name=risk_score, type=INT32"`
	HasRiskScore     bool   `parquet:"name=has_risk_score, type=BOOLEAN"`
	RiskLevel        string `parquet:"name=risk_level, type=BYTE_ARRAY, convertedtype=UTF8"`
	PolicyHash       string `parquet:"name=policy_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	PrevHash         string `parquet:"name=prev_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Nonce            string `parquet:"name=nonce, type=BYTE_ARRAY, convertedtype=UTF8"`
	Signature        string `parquet:"name=signature, type=BYTE_ARRAY, convertedtype=UTF8"`
	PublicKeyPEM     string `parquet:"name=public_key, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportBatch writes up to batch records after afterID to a Snappy-compressed
// Parquet file at path, returning the id of the last record written (afterID,
// with no file created, if there are none). The external sync uploader polls GetAfterID and this export
// together to ship ledger batches off-host without re-reading raw rows.
func ExportBatch(ctx context.Context, store *Store, afterID int64, batch int, path string) (int64, error) {
	records, err := store.GetAfterID(ctx, afterID, batch)
	if err != nil {
		return 0, fmt.Errorf("ledger: export: %w", err)
	}
	if len(records) == 0 {
		return afterID, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("ledger: export: create file: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(exportRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("ledger: export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var lastID int64
	for _, rec := range records {
		row := toExportRow(rec)
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("ledger: export: write row: %w", err)
		}
		lastID = rec.ID
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("ledger: export: flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("ledger: export: close file: %w", err)
	}
	return lastID, nil
}

func toExportRow(rec *AuditRecord) *exportRow {
	row := &exportRow{
		ID:           rec.ID,
		Timestamp:    rec.Timestamp,
		ServerName:   rec.ServerName,
		Direction:    string(rec.Direction),
		Method:       rec.Method,
		Verdict:      string(rec.Verdict),
		PolicyHash:   rec.PolicyHash,
		PrevHash:     rec.PrevHash,
		Nonce:        rec.Nonce,
		Signature:    rec.Signature,
		PublicKeyPEM: rec.PublicKeyPEM,
	}
	if rec.MessageID != nil {
		row.MessageID = *rec.MessageID
	}
	if rec.ToolName != nil {
		row.ToolName = *rec.ToolName
	}
	if rec.ArgumentsJSON != nil {
		row.ArgumentsJSON = *rec.ArgumentsJSON
	}
	if rec.ResponseJSON != nil {
		row.ResponseJSON = *rec.ResponseJSON
	}
	if rec.RiskScore != nil {
		row.RiskScore = int32(*rec.RiskScore)
		row.HasRiskScore = true
	}
	if rec.RiskLevel != nil {
		row.RiskLevel = string(*rec.RiskLevel)
	}
	return row
}
