package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
)

// Service evaluates measures and records every evaluation.
type Service struct {
	runner Runner
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(runner Runner, store Store, logger zerolog.Logger) *Service {
	return &Service{runner: runner, store: store, logger: logger, now: time.Now}
}

// Evaluate runs measure id with raw parameters and persists a Report row
// describing the run in the given format.
func (s *Service) Evaluate(ctx context.Context, id string, raw map[string]string, format string, by *uuid.UUID) (*MeasureReport, Table, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, Table{}, apperror.NotFound("measure %s not found", id)
	}
	args, err := m.BindParameters(raw)
	if err != nil {
		return nil, Table{}, err
	}

	table, err := s.runner.Run(ctx, m.SQL, args)
	if err != nil {
		return nil, Table{}, apperror.Internal(err)
	}

	params := make(map[string]string, len(m.Parameters))
	for _, p := range m.Parameters {
		if v := raw[p.Name]; v != "" {
			params[p.Name] = v
		}
	}

	rec := &Report{
		Title:       m.Name,
		MeasureID:   m.ID,
		Format:      format,
		Parameters:  params,
		RowCount:    len(table.Rows),
		GeneratedBy: by,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		// The caller still gets the data it asked for.
		s.logger.Error().Err(err).Str("measure_id", m.ID).Msg("persist report")
	}

	columns := table.Columns
	if columns == nil {
		columns = []string{}
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: s.now().UTC(),
		Columns:     columns,
		Results:     table.Records(),
		Parameters:  params,
	}, table, nil
}

// Export evaluates a measure and renders it as an XLSX workbook.
func (s *Service) Export(ctx context.Context, id string, raw map[string]string, by *uuid.UUID) ([]byte, string, error) {
	report, table, err := s.Evaluate(ctx, id, raw, "xlsx", by)
	if err != nil {
		return nil, "", err
	}
	data, err := WriteXLSX(report.MeasureName, table.Columns, table.Rows)
	if err != nil {
		return nil, "", apperror.Internal(err)
	}
	filename := report.MeasureID + "-" + report.GeneratedAt.Format("20060102") + ".xlsx"
	return data, filename, nil
}

// ListReports returns persisted reports newest first.
func (s *Service) ListReports(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	return s.store.List(ctx, limit, offset)
}
