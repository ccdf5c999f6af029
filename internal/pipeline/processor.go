package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dunamismax/imagetea/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Output is one converted file ready for download or packing.
type Output struct {
	FileName    string
	MimeType    string
	Data        []byte
	Width       int
	Height      int
	SourceBytes int64
}

// Bundle collects converted files into a single archive.
type Bundle interface {
	Add(name string, data []byte) error
	Finish() ([]byte, error)
}

// ProgressFunc is called before each unit of batch work starts.
type ProgressFunc func(done, total int, label string)

// Emitter stores a finished bundle.
type Emitter interface {
	Emit(ctx context.Context, exportID, fileName string, data []byte) (Stored, error)
}

type Stored struct {
	Path  string
	Bytes int
}

type Processor struct {
	transformer Transformer
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewProcessor builds a processor around t, or the build's default transformer when
// t is nil.
func NewProcessor(t Transformer, logger *zap.Logger) *Processor {
	if t == nil {
		t = newTransformer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		transformer: t,
		logger:      logger,
		tracer:      otel.Tracer("imagetea/pipeline"),
	}
}

func (p *Processor) Convert(ctx context.Context, item domain.Item, s domain.Settings) (Output, error) {
	if item.Placeholder() {
		return Output{}, ErrPDFNotRasterized
	}
	if err := s.Validate(); err != nil {
		return Output{}, fmt.Errorf("invalid settings: %w", err)
	}
	if len(item.Payload) == 0 {
		return Output{}, fmt.Errorf("item %s has no payload", item.ID)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.convert")
	span.SetAttributes(
		attribute.String("item.id", item.ID),
		attribute.String("convert.format", string(s.Format)),
		attribute.Int64("item.bytes", int64(len(item.Payload))),
	)
	defer span.End()

	data, width, height, err := p.transformer.Transform(ctx, item.Payload, s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		return Output{}, fmt.Errorf("transform %s: %w", item.Name, err)
	}

	return Output{
		FileName:    item.ConvertedName(s.Format),
		MimeType:    s.Format.MIMEType(),
		Data:        data,
		Width:       width,
		Height:      height,
		SourceBytes: int64(len(item.Payload)),
	}, nil
}

// Export converts items one at a time and packs them into bundle. A failing item is
// logged and skipped; only a bundle failure aborts the export.
func (p *Processor) Export(ctx context.Context, items []domain.Item, s domain.Settings, bundle Bundle, progress ProgressFunc) (domain.ExportReport, []byte, error) {
	if bundle == nil {
		return domain.ExportReport{}, nil, errors.New("bundle is required")
	}

	var report domain.ExportReport
	seen := make(map[string]int, len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return domain.ExportReport{}, nil, err
		}
		if progress != nil {
			progress(i+1, len(items), item.Name)
		}

		out, err := p.Convert(ctx, item, s)
		if err != nil {
			p.logger.Warn("skipping item in export",
				zap.String("item_id", item.ID),
				zap.String("name", item.Name),
				zap.Error(err))
			report.Skipped = append(report.Skipped, item.ID)
			continue
		}

		name := uniqueName(seen, out.FileName)
		if err := bundle.Add(name, out.Data); err != nil {
			p.logger.Warn("skipping item in export",
				zap.String("item_id", item.ID),
				zap.String("entry", name),
				zap.Error(err))
			report.Skipped = append(report.Skipped, item.ID)
			continue
		}

		report.Packed++
		report.BytesIn += out.SourceBytes
		report.BytesOut += int64(len(out.Data))
		report.PixelsProcessed += int64(out.Width) * int64(out.Height)
	}

	data, err := bundle.Finish()
	if err != nil {
		return domain.ExportReport{}, nil, fmt.Errorf("create bundle: %w", err)
	}
	return report, data, nil
}

// uniqueName suffixes repeated entry names: a.jpg, a_2.jpg, a_3.jpg.
func uniqueName(seen map[string]int, name string) string {
	seen[name]++
	n := seen[name]
	if n == 1 {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(n) + ext
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, exportID, fileName string, data []byte) (Stored, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Stored{}, errors.New("output directory is required")
	}

	exportDir := filepath.Join(e.OutputDir, sanitizePathToken(exportID))
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return Stored{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(exportDir, sanitizeFileName(fileName))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Stored{}, fmt.Errorf("write output file: %w", err)
	}

	return Stored{Path: fullPath, Bytes: len(data)}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// sanitizeFileName keeps the extension dot that sanitizePathToken would replace.
func sanitizeFileName(in string) string {
	ext := filepath.Ext(in)
	return sanitizePathToken(strings.TrimSuffix(in, ext)) + "." + sanitizePathToken(strings.TrimPrefix(ext, "."))
}
