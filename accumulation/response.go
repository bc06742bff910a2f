package accumulation

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ResponseRow is one reconciled line of a payer response file.
type ResponseRow struct {
	Payer           PayerName
	MappingID       int64
	CostBreakdownID int64
	UniqueID        string
	MemberID        string
	Status          MappingStatus
	ResponseCode    string
	ResponseReason  string
	Matched         bool
}

// ResponseProcessor applies payer response files to the mappings they
// answer.
type ResponseProcessor struct {
	mappings MappingStore
	payers   PayerDirectory
	opts     Options
	now      func() time.Time
	log      zerolog.Logger
}

func NewResponseProcessor(mappings MappingStore, payers PayerDirectory, opts Options, log zerolog.Logger) *ResponseProcessor {
	return &ResponseProcessor{
		mappings: mappings,
		payers:   payers,
		opts:     opts,
		now:      time.Now,
		log:      log.With().Str("component", "accumulation_responses").Logger(),
	}
}

// Process parses raw and moves every answered mapping to ACCEPTED or
// REJECTED. Lines that match no mapping come back with Matched false.
func (p *ResponseProcessor) Process(ctx context.Context, payer PayerName, raw []byte) ([]ResponseRow, error) {
	gen, err := NewGenerator(payer, p.payers, p.opts)
	if err != nil {
		return nil, err
	}

	var rows []ResponseRow
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !gen.IsDetail(line) {
			continue
		}
		meta, err := gen.DetailMetadata(line)
		if err != nil {
			return rows, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !meta.ShouldUpdate {
			continue
		}
		row, err := p.apply(ctx, payer, meta)
		if err != nil {
			return rows, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return rows, err
	}
	return rows, nil
}

func (p *ResponseProcessor) apply(ctx context.Context, payer PayerName, meta DetailMetadata) (ResponseRow, error) {
	row := ResponseRow{
		Payer:          payer,
		UniqueID:       meta.UniqueID,
		MemberID:       meta.MemberID,
		Status:         StatusAccepted,
		ResponseCode:   meta.ResponseCode,
		ResponseReason: meta.ResponseReason,
	}
	if meta.IsRejection {
		row.Status = StatusRejected
	}

	m, err := p.lookup(ctx, meta.UniqueID)
	if errors.Is(err, ErrMappingNotFound) || errors.Is(err, ErrInvalidUniqueID) {
		p.log.Warn().Str("unique_id", meta.UniqueID).Msg("response line matches no accumulation mapping")
		return row, nil
	}
	if err != nil {
		return row, err
	}

	completedAt := p.now()
	m.Status = row.Status
	m.ResponseCode = meta.ResponseCode
	m.ResponseReason = meta.ResponseReason
	m.CompletedAt = &completedAt
	if err := p.mappings.UpdateMapping(ctx, m); err != nil {
		return row, fmt.Errorf("update mapping %d: %w", m.ID, err)
	}

	row.Matched = true
	row.MappingID = m.ID
	row.CostBreakdownID = m.CostBreakdownID
	return row, nil
}

// lookup matches on unique id first, then on the cost breakdown id carried
// in its suffix.
func (p *ResponseProcessor) lookup(ctx context.Context, uniqueID string) (TreatmentMapping, error) {
	m, err := p.mappings.MappingByUniqueID(ctx, uniqueID)
	if err == nil || !errors.Is(err, ErrMappingNotFound) {
		return m, err
	}
	cbID, err := CostBreakdownIDFromUniqueID(uniqueID)
	if err != nil {
		return TreatmentMapping{}, err
	}
	return p.mappings.MappingByCostBreakdownID(ctx, cbID)
}
