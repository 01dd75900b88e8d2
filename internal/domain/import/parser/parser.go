// Package parser runs one upload through the import pipeline: size checks,
// kind sniffing, decoding, profile detection, row extraction and draft
// building. It either returns a complete ParseResult or a single error.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FACorreiaa/statement-import/internal/domain/import/draft"
	"github.com/FACorreiaa/statement-import/internal/domain/import/extractor"
	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
	"github.com/FACorreiaa/statement-import/internal/domain/import/sniffer"
	"github.com/FACorreiaa/statement-import/pkg/money"
)

// dialectSampleSize bounds how many rows are read to infer number and date
// conventions.
const dialectSampleSize = 50

// Config sets the upload ceilings. Zero disables a ceiling.
type Config struct {
	MaxBytes int64
	MaxRows  int
}

// DefaultConfig returns ceilings suitable for personal statements.
func DefaultConfig() Config {
	return Config{
		MaxBytes: 20 << 20,
		MaxRows:  100_000,
	}
}

// Input is one upload.
type Input struct {
	Data []byte
	// SourceHint is an optional profile source_id chosen by the caller.
	SourceHint string
	// DeclaredType is an optional kind name, extension or file name.
	DeclaredType string
}

// Parser is safe for concurrent use; each Parse call owns its state.
type Parser struct {
	registry *profile.Registry
	detector *sniffer.Detector
	cleaner  *normalizer.CounterpartyCleaner
	config   Config
	logger   *slog.Logger
}

func NewParser(registry *profile.Registry, config Config, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		registry: registry,
		detector: sniffer.NewDetector(registry),
		cleaner:  normalizer.NewCounterpartyCleaner(),
		config:   config,
		logger:   logger,
	}
}

// Parse converts one upload into drafts and warnings.
func (p *Parser) Parse(in Input) (*model.ParseResult, error) {
	if p.config.MaxBytes > 0 && int64(len(in.Data)) > p.config.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", model.ErrInputTooLarge, len(in.Data), p.config.MaxBytes)
	}

	kind, err := sniffer.SniffKind(in.Data, in.DeclaredType)
	if err != nil {
		return nil, p.withKnownSources(err)
	}

	det, ext, err := p.extract(kind, in)
	if err != nil {
		return nil, p.withKnownSources(err)
	}

	opts := p.dialect(det.Profile, ext)
	if det.Profile.CleanCounterparty {
		opts.Cleaner = p.cleaner
	}
	result := draft.Build(ext, det.Profile, det.Kind, opts)

	p.logger.Info("parsed statement",
		slog.String("source_id", result.SourceID),
		slog.String("source_type", result.SourceType.String()),
		slog.Int("rows", result.RowCount),
		slog.Int("drafts", len(result.Drafts)),
		slog.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// extract decodes the upload for its kind, detects the profile and runs the
// matching extractor.
func (p *Parser) extract(kind model.SourceKind, in Input) (*sniffer.Detection, *extractor.Extraction, error) {
	switch kind {
	case model.Tabular:
		text := sniffer.NormalizeText(in.Data)
		if err := p.checkRows(sniffer.CountRecords(text)); err != nil {
			return nil, nil, err
		}
		det, err := p.detector.DetectText(text, in.SourceHint)
		if err != nil {
			return nil, nil, err
		}
		ext, err := p.extractText(text, det)
		return det, ext, err

	case model.Spreadsheet:
		grid, err := extractor.DecodeWorkbook(in.Data)
		if err != nil {
			return nil, nil, err
		}
		if err := p.checkRows(len(grid.Rows)); err != nil {
			return nil, nil, err
		}
		det, err := p.detector.DetectGrid(grid.Strings(), in.SourceHint)
		if err != nil {
			return nil, nil, err
		}
		ext, err := extractor.Spreadsheet(grid, det)
		return det, ext, err

	case model.PdfText:
		text, err := p.pdfText(in.Data)
		if err != nil {
			return nil, nil, err
		}
		if err := p.checkRows(sniffer.CountRecords(text)); err != nil {
			return nil, nil, err
		}
		det, err := p.detector.DetectPDFText(text, in.SourceHint)
		if err != nil {
			return nil, nil, err
		}
		ext, err := extractor.PdfText(text, det)
		return det, ext, err

	default:
		return nil, nil, fmt.Errorf("%w: %d", model.ErrUnknownSourceKind, kind)
	}
}

// extractText handles text uploads, which detection may resolve either to
// a delimited table or to statement lines copied out of a PDF.
func (p *Parser) extractText(text string, det *sniffer.Detection) (*extractor.Extraction, error) {
	switch det.Kind {
	case model.Tabular:
		return extractor.Delimited(text, det)
	case model.PdfText:
		return extractor.PdfText(text, det)
	default:
		return nil, fmt.Errorf("%w: %s for text input", model.ErrUnknownSourceKind, det.Kind)
	}
}

func (p *Parser) pdfText(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return extractor.ExtractPDFText(data)
	}
	return sniffer.NormalizeText(data), nil
}

func (p *Parser) checkRows(n int) error {
	if p.config.MaxRows > 0 && n > p.config.MaxRows {
		return fmt.Errorf("%w: %d rows, limit is %d", model.ErrTooManyRows, n, p.config.MaxRows)
	}
	return nil
}

// dialect samples the extracted values when the profile leaves the decimal
// separator or date formats open.
func (p *Parser) dialect(prof *profile.MappingProfile, ext *extractor.Extraction) draft.Options {
	if prof.Style() != money.StyleAuto && len(prof.DateFormats) > 0 {
		return draft.Options{}
	}

	var amounts, dates []string
	for i, row := range ext.Rows {
		if i >= dialectSampleSize {
			break
		}
		for _, f := range []model.Field{model.FieldAmount, model.FieldDebit, model.FieldCredit} {
			if v := row.Field(f); v != "" {
				amounts = append(amounts, v)
			}
		}
		if v := row.Field(model.FieldDate); v != "" {
			dates = append(dates, v)
		}
	}

	d := sniffer.InferDialect(amounts, dates)
	p.logger.Debug("inferred dialect",
		slog.String("source_id", prof.SourceID),
		slog.Bool("day_first", d.DayFirst),
		slog.Float64("confidence", d.Confidence),
	)
	return draft.Options{Style: d.Style, DayFirst: d.DayFirst}
}

// withKnownSources fills in the registry's source ids on format errors
// raised before a detector was involved.
func (p *Parser) withKnownSources(err error) error {
	var ufe *model.UnrecognizedFormatError
	if errors.As(err, &ufe) && len(ufe.Known) == 0 {
		ufe.Known = p.registry.SourceIDs()
	}
	return err
}
