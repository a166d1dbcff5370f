package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ondrasimku/filepicker-go/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ondrasimku/filepicker-go/internal/action"

// Webhook hands actions to the host's action engine over HTTP. The engine
// answers with a Result once the action has run.
type Webhook struct {
	url        string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewWebhook(url string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}
}

func (w *Webhook) Execute(ctx context.Context, req Request) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		res := w.dispatch(ctx, req)
		if res.Success {
			w.metrics.ActionsDispatched.WithLabelValues("success").Inc()
		} else {
			w.metrics.ActionsDispatched.WithLabelValues("failure").Inc()
			w.logger.Warn("Action failed", "widgetId", req.WidgetID, "trigger", req.TriggerPropertyName, "error", res.Error)
		}
		if req.Event.Callback != nil {
			req.Event.Callback(res)
		}
	}()
}

func (w *Webhook) dispatch(ctx context.Context, req Request) Result {
	ctx, span := w.tracer.Start(ctx, "action.Execute", trace.WithAttributes(
		attribute.String("widget.id", req.WidgetID),
		attribute.String("action.trigger", req.TriggerPropertyName),
		attribute.String("action.event", req.Event.Type),
		attribute.Int("files", len(req.Files)),
	))
	defer span.End()

	res, err := w.post(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{Success: false, Error: err.Error()}
	}
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

func (w *Webhook) post(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode action request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call action engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return Result{}, fmt.Errorf("action engine returned status %d", resp.StatusCode)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		if err == io.EOF {
			return Result{Success: true}, nil
		}
		return Result{}, fmt.Errorf("failed to decode action result: %w", err)
	}
	return res, nil
}
