// Package materialize converts acquired files into the representation a
// widget stores in its state: an inlined string for small files, a transient
// reference for large ones.
package materialize

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/ondrasimku/filepicker-go/internal/blob"
	"github.com/ondrasimku/filepicker-go/internal/domain"
	"github.com/ondrasimku/filepicker-go/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Threshold is the size in bytes at which files stop being inlined.
const Threshold = 5_000_000

const (
	defaultMIME = "application/octet-stream"
	tracerName  = "github.com/ondrasimku/filepicker-go/internal/materialize"
)

// References creates and releases transient references. *blob.Store implements it.
type References interface {
	Create(ctx context.Context, r io.Reader, contentType, name string, format domain.DataFormat) (string, error)
	Revoke(ctx context.Context, ref string) error
}

type Materializer struct {
	refs    References
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func New(refs References, m *metrics.Metrics) *Materializer {
	return &Materializer{
		refs:    refs,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

func FallbackName(index, alreadySelected int) string {
	return fmt.Sprintf("File-%d", index+alreadySelected)
}

// Batch materializes files concurrently and returns them in input order.
// Either every file succeeds or none is returned; references created before
// a failure are released.
func (m *Materializer) Batch(ctx context.Context, files []domain.RawFile, alreadySelected int, format domain.DataFormat) ([]domain.SelectedFile, error) {
	ctx, span := m.tracer.Start(ctx, "materialize.Batch", trace.WithAttributes(
		attribute.Int("files", len(files)),
		attribute.String("format", string(format)),
	))
	defer span.End()

	results := make([]domain.SelectedFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range files {
		g.Go(func() error {
			name := raw.Name
			if name == "" {
				name = FallbackName(i, alreadySelected)
			}
			sf, err := m.File(gctx, raw, name, format)
			if err != nil {
				return fmt.Errorf("materialize %q: %w", name, err)
			}
			results[i] = sf
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.Release(context.WithoutCancel(ctx), results)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

// Release revokes the transient references held by files.
func (m *Materializer) Release(ctx context.Context, files []domain.SelectedFile) {
	for _, f := range files {
		if blob.IsReference(f.Data) {
			_ = m.refs.Revoke(ctx, f.Data)
		}
	}
}

// File materializes a single file under the given display name.
func (m *Materializer) File(ctx context.Context, raw domain.RawFile, name string, format domain.DataFormat) (domain.SelectedFile, error) {
	sf := domain.SelectedFile{
		ID:         raw.ID,
		Name:       name,
		Type:       raw.Type,
		Size:       raw.Size,
		DataFormat: format,
	}

	rc, err := raw.Source.Open()
	if err != nil {
		m.metrics.MaterializeErrors.Inc()
		return domain.SelectedFile{}, fmt.Errorf("failed to open source: %w", err)
	}
	defer rc.Close()

	if raw.Size >= Threshold {
		ref, err := m.refs.Create(ctx, rc, raw.Type, name, format)
		if err != nil {
			m.metrics.MaterializeErrors.Inc()
			return domain.SelectedFile{}, err
		}
		sf.Data = ref
		m.metrics.Materializations.WithLabelValues(string(format), "reference").Inc()
		return sf, nil
	}

	payload, err := io.ReadAll(rc)
	if err != nil {
		m.metrics.MaterializeErrors.Inc()
		return domain.SelectedFile{}, fmt.Errorf("failed to read source: %w", err)
	}
	sf.Data = Encode(payload, raw.Type, format)
	m.metrics.Materializations.WithLabelValues(string(format), "inline").Inc()
	return sf, nil
}

// Encode renders payload as a data URI (Base64), a byte-per-character
// string (Binary), or UTF-8 text (Text).
func Encode(payload []byte, mimeType string, format domain.DataFormat) string {
	switch format {
	case domain.Base64:
		if mimeType == "" {
			mimeType = defaultMIME
		}
		return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(payload)
	case domain.Binary:
		return binaryString(payload)
	default:
		text := strings.TrimPrefix(string(payload), "\uFEFF")
		return strings.ToValidUTF8(text, "\uFFFD")
	}
}

// binaryString maps each byte to the code point of the same value.
func binaryString(payload []byte) string {
	var b strings.Builder
	b.Grow(len(payload))
	for _, c := range payload {
		b.WriteRune(rune(c))
	}
	return b.String()
}
