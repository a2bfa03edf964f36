package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/export/csvfile"
	"github.com/smallbiznis/scanledger/internal/export/domain"
	"github.com/smallbiznis/scanledger/internal/export/storage"
	obslogger "github.com/smallbiznis/scanledger/internal/observability/logger"
	"go.uber.org/zap"
)

var exportIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

const exportIDLayout = "20060102T150405"

// exportRun is the state threaded through the stages of one export.
type exportRun struct {
	account *accountdomain.Account
	payload domain.Payload

	exportID  string
	names     domain.Names
	claimed   bool
	records   []csvfile.Record
	rowIDs    []string
	skipped   int
	formID    *string
	minimal   []byte
	full      []byte
	emailSent bool
}

type stageFunc func(ctx context.Context, run *exportRun) *domain.StageError

func (s *Service) pipeline() []stageFunc {
	return []stageFunc{
		s.validate,
		s.assignIdentifier,
		s.persistPayload,
		s.normalizeRows,
		s.writeMinimalCSV,
		s.writeFullCSV,
		s.notify,
		s.recordArtifacts,
	}
}

func (s *Service) validate(_ context.Context, run *exportRun) *domain.StageError {
	p := run.payload
	if limit := s.limits.MaxPayloadBytes; limit > 0 && int64(len(p.Raw)) > limit {
		return domain.Validation(domain.StageValidate, "payload too large", domain.ErrPayloadTooLarge)
	}
	if len(p.Rows) == 0 {
		return domain.Validation(domain.StageValidate, "no rows to export", domain.ErrEmptyRows)
	}
	if limit := s.limits.MaxRows; limit > 0 && len(p.Rows) > limit {
		return domain.Validation(domain.StageValidate, fmt.Sprintf("too many rows (max %d)", limit), domain.ErrTooManyRows)
	}
	return nil
}

func (s *Service) assignIdentifier(ctx context.Context, run *exportRun) *domain.StageError {
	id := strings.TrimSpace(run.payload.ExportID)
	if id == "" {
		id = s.clock.Now().UTC().Format(exportIDLayout)
	}
	if !exportIDPattern.MatchString(id) {
		return domain.Validation(domain.StageIdentifier, "invalid export id", domain.ErrInvalidExportID)
	}

	existing, err := s.repo.FindByExportID(ctx, s.db, run.account.ID, id)
	if err != nil {
		return domain.Persistence(domain.StageIdentifier, err)
	}
	if existing != nil {
		return domain.Validation(domain.StageIdentifier, "export id already used", domain.ErrDuplicateExportID)
	}

	// The payload file is the claim on the id: a concurrent export with the
	// same id stops here before writing anything.
	names := domain.NamesFor(id)
	if err := s.storage.Claim(run.account.ID, names.PayloadJSON); err != nil {
		if errors.Is(err, storage.ErrClaimed) {
			return domain.Validation(domain.StageIdentifier, "export id already used", domain.ErrDuplicateExportID)
		}
		return domain.Persistence(domain.StageIdentifier, err)
	}

	run.exportID = id
	run.names = names
	run.claimed = true
	return nil
}

func (s *Service) persistPayload(_ context.Context, run *exportRun) *domain.StageError {
	raw := run.payload.Raw
	if len(raw) == 0 {
		encoded, err := json.Marshal(run.payload)
		if err != nil {
			return domain.Persistence(domain.StagePayload, err)
		}
		raw = encoded
	}
	if err := s.storage.Write(run.account.ID, run.names.PayloadJSON, raw); err != nil {
		return domain.Persistence(domain.StagePayload, err)
	}
	return nil
}

func (s *Service) normalizeRows(ctx context.Context, run *exportRun) *domain.StageError {
	log := obslogger.WithContext(ctx, s.log)

	records := make([]csvfile.Record, 0, len(run.payload.Rows))
	for i, row := range run.payload.Rows {
		record, err := normalizeRow(row)
		if err != nil {
			run.skipped++
			log.Warn("skipping undecodable row",
				zap.String("export_id", run.exportID),
				zap.Int("row", i),
				zap.Error(err),
			)
			continue
		}
		if row.ID != nil {
			if id := csvfile.Stringify(row.ID); id != "" {
				run.rowIDs = append(run.rowIDs, id)
			}
		}
		if run.formID == nil && row.FormID != nil {
			if formID := csvfile.Stringify(row.FormID); formID != "" {
				run.formID = &formID
			}
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return domain.Validation(domain.StageNormalize, "no valid rows", domain.ErrNoValidRows)
	}
	if limit := s.limits.MaxColumns; limit > 0 && len(csvfile.Columns(records)) > limit {
		return domain.Validation(domain.StageNormalize, fmt.Sprintf("too many columns (max %d)", limit), domain.ErrTooManyColumns)
	}

	run.records = records
	return nil
}

func (s *Service) writeMinimalCSV(_ context.Context, run *exportRun) *domain.StageError {
	columns := csvfile.ParseHeaders(run.payload.Headers)
	if len(columns) == 0 {
		columns = csvfile.Columns(run.records)
	}
	data, err := csvfile.Render(columns, run.records)
	if err != nil {
		return domain.Persistence(domain.StageMinimalCSV, err)
	}
	if err := s.storage.Write(run.account.ID, run.names.MinimalCSV, data); err != nil {
		return domain.Persistence(domain.StageMinimalCSV, err)
	}
	run.minimal = data
	return nil
}

func (s *Service) writeFullCSV(_ context.Context, run *exportRun) *domain.StageError {
	data, err := csvfile.Render(csvfile.Columns(run.records), run.records)
	if err != nil {
		return domain.Persistence(domain.StageFullCSV, err)
	}
	if err := s.storage.Write(run.account.ID, run.names.FullCSV, data); err != nil {
		return domain.Persistence(domain.StageFullCSV, err)
	}
	run.full = data
	return nil
}

// notify requires a verified address; a failed send only clears emailSent.
func (s *Service) notify(ctx context.Context, run *exportRun) *domain.StageError {
	to, err := s.verifiedAddress(ctx, run.account.ID)
	if errors.Is(err, domain.ErrNoVerifiedEmail) {
		return domain.Dependency(domain.StageNotify, "no verified email address on file", err)
	}
	if err != nil {
		return domain.Persistence(domain.StageNotify, err)
	}

	err = s.sendArtifacts(ctx, run.account, to, run.exportID, len(run.records),
		run.names.MinimalCSV, run.minimal, run.names.FullCSV, run.full)
	if err != nil {
		obslogger.WithContext(ctx, s.log).Warn("export email delivery failed",
			zap.String("export_id", run.exportID),
			zap.Error(err),
		)
		run.emailSent = false
		return nil
	}
	run.emailSent = true
	return nil
}

func (s *Service) recordArtifacts(ctx context.Context, run *exportRun) *domain.StageError {
	now := s.clock.Now()
	set := &domain.ArtifactSet{
		ID:          s.genID.Generate(),
		AccountID:   run.account.ID,
		ExportID:    run.exportID,
		MinimalCSV:  run.names.MinimalCSV,
		FullCSV:     run.names.FullCSV,
		PayloadJSON: run.names.PayloadJSON,
		RowCount:    len(run.records),
		EmailSent:   run.emailSent,
		FormID:      run.formID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, set); err != nil {
		if errors.Is(err, domain.ErrDuplicateExportID) {
			return domain.Validation(domain.StageRecord, "export id already used", err)
		}
		return domain.Persistence(domain.StageRecord, err)
	}
	return nil
}

// normalizeRow flattens a row's data object and overlays id, form_id and
// scanned_at when present.
func normalizeRow(row domain.Row) (csvfile.Record, error) {
	fields, err := decodeData(row.Data)
	if err != nil {
		return nil, err
	}
	if row.ID != nil {
		fields["id"] = row.ID
	}
	if row.FormID != nil {
		fields["form_id"] = row.FormID
	}
	if row.ScannedAt != nil {
		fields["scanned_at"] = row.ScannedAt
	}
	return fields, nil
}

var errNotObject = errors.New("row data is not a JSON object")

func decodeData(raw json.RawMessage) (csvfile.Record, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 {
		return nil, errNotObject
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, err
		}
		data = bytes.TrimSpace([]byte(inner))
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, errNotObject
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after row object")
	}
	return fields, nil
}
