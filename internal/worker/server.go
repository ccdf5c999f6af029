// Package worker runs asynchronous exports: it packs the requested items into a zip
// with the same pipeline as the API, stores the bundle and notifies the webhook.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/imagetea/internal/archive"
	"github.com/dunamismax/imagetea/internal/config"
	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/dunamismax/imagetea/internal/pipeline"
	"github.com/dunamismax/imagetea/internal/queue"
	"github.com/dunamismax/imagetea/internal/storage"
	"github.com/dunamismax/imagetea/internal/store"
	"github.com/dunamismax/imagetea/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrNoExportItems = errors.New("none of the export items exist")

type Server struct {
	logger        *zap.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     *pipeline.Processor
	emitter       pipeline.Emitter
	links         linkSigner
	linkTTL       time.Duration
	webhookClient webhookSender
	items         store.ItemStore
	exports       store.ExportStore
	metrics       *metrics
	tracer        trace.Tracer
	now           func() time.Time
}

type webhookSender interface {
	SendExport(ctx context.Context, endpoint string, evt webhook.ExportEvent) error
}

type linkSigner interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// NewServer wires the export handler. Without a storage client bundles are written
// under workerCfg.LocalOutputDir.
func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageCfg config.StorageConfig,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	items store.ItemStore,
	exports store.ExportStore,
) (*Server, error) {
	if items == nil || exports == nil {
		return nil, errors.New("item and export stores are required")
	}

	s := &Server{
		logger:    logger,
		sem:       make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor: pipeline.NewProcessor(nil, logger.Named("pipeline")),
		emitter:   pipeline.LocalFileEmitter{OutputDir: workerCfg.LocalOutputDir},
		linkTTL:   storageCfg.LinkTTL,
		items:     items,
		exports:   exports,
		metrics:   newMetrics(),
		tracer:    otel.Tracer("imagetea/worker"),
		now:       time.Now,
	}
	if storageClient != nil {
		s.emitter = pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: "exports"}
		s.links = storageClient
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn("task failed",
					zap.String("type", task.Type()),
					zap.Int("retry", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err))
			}),
		},
	)
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeExportBundle, s.handleExportBundle)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleExportBundle(ctx context.Context, task *asynq.Task) error {
	startedAt := s.now()
	outcome := domain.ExportStatusFailed

	payload, err := queue.ParseExportBundlePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.export_bundle", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("export.id", payload.ExportID))
	defer span.End()
	defer func() {
		s.metrics.exportDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.exportsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeExports.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeExports.Dec()
	}()

	job, ok, err := s.exports.Get(ctx, payload.ExportID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("load export: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s: %w", store.ErrExportNotFound, payload.ExportID, asynq.SkipRetry)
	}
	if job.Status == domain.ExportStatusSucceeded {
		s.logger.Info("export already finished", zap.String("export_id", job.ID))
		outcome = domain.ExportStatusSucceeded
		return nil
	}
	if job.WebhookURL == "" {
		job.WebhookURL = payload.WebhookURL
	}
	span.SetAttributes(attribute.Int("export.items", len(job.ItemIDs)))

	s.logger.Info("packing export", zap.String("export_id", job.ID), zap.Int("items", len(job.ItemIDs)))
	if _, err := s.exports.UpdateStatus(ctx, job.ID, domain.ExportStatusProcessing); err != nil {
		s.logger.Warn("export status update failed", zap.String("export_id", job.ID), zap.Error(err))
	}

	report, objectKey, err := s.pack(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		s.finish(ctx, job, "", err)
		s.notify(ctx, job, payload, webhook.ExportEvent{Status: domain.ExportStatusFailed, Error: err.Error()})
		return fmt.Errorf("pack export %s: %w", job.ID, err)
	}

	s.finish(ctx, job, objectKey, nil)
	s.metrics.itemsPackedTotal.Add(float64(report.Packed))
	s.metrics.itemsSkippedTotal.Add(float64(len(report.Skipped)))
	s.metrics.pixelsProcessedTotal.Add(float64(report.PixelsProcessed))
	s.metrics.bytesInTotal.Add(float64(report.BytesIn))
	s.metrics.bytesOutTotal.Add(float64(report.BytesOut))

	s.logger.Info("export packed",
		zap.String("export_id", job.ID),
		zap.String("object_key", objectKey),
		zap.Int("packed", report.Packed),
		zap.Int("skipped", len(report.Skipped)))

	s.notify(ctx, job, payload, webhook.ExportEvent{
		Status:      domain.ExportStatusSucceeded,
		ObjectKey:   objectKey,
		DownloadURL: s.downloadURL(ctx, objectKey),
		Report:      &report,
	})

	outcome = domain.ExportStatusSucceeded
	span.SetStatus(codes.Ok, "packed")
	return nil
}

// pack converts the job's items into one bundle and stores it. Ids that no longer
// exist are reported as skipped.
func (s *Server) pack(ctx context.Context, job domain.ExportJob) (domain.ExportReport, string, error) {
	all, err := s.items.GetAll(ctx)
	if err != nil {
		return domain.ExportReport{}, "", fmt.Errorf("load items: %w", err)
	}
	items, missing := store.ItemsByID(all, job.ItemIDs)
	if len(missing) > 0 {
		s.logger.Warn("export items missing", zap.String("export_id", job.ID), zap.Strings("item_ids", missing))
	}
	if len(items) == 0 {
		return domain.ExportReport{}, "", ErrNoExportItems
	}

	now := s.now()
	report, data, err := s.processor.Export(ctx, items, job.Settings, archive.NewZip(now), func(done, total int, label string) {
		s.logger.Debug("export progress", zap.String("export_id", job.ID), zap.Int("done", done), zap.Int("total", total), zap.String("item", label))
	})
	if err != nil {
		return domain.ExportReport{}, "", err
	}
	report.FileName = archive.BundleName(now)
	report.Skipped = append(report.Skipped, missing...)

	stored, err := s.emitter.Emit(ctx, job.ID, report.FileName, data)
	if err != nil {
		return domain.ExportReport{}, "", fmt.Errorf("store bundle: %w", err)
	}
	return report, stored.Path, nil
}

func (s *Server) finish(ctx context.Context, job domain.ExportJob, objectKey string, runErr error) {
	if _, err := s.exports.Finish(ctx, job.ID, objectKey, runErr); err != nil {
		s.logger.Warn("export finish failed", zap.String("export_id", job.ID), zap.Error(err))
	}
}

func (s *Server) downloadURL(ctx context.Context, objectKey string) string {
	if s.links == nil {
		return ""
	}
	link, err := s.links.PresignedGetURL(ctx, objectKey, s.linkTTL)
	if err != nil {
		s.logger.Warn("presign download failed", zap.String("object_key", objectKey), zap.Error(err))
		return ""
	}
	return link
}

// notify is best effort: a failed delivery is logged and never fails the export.
func (s *Server) notify(ctx context.Context, job domain.ExportJob, payload queue.ExportBundlePayload, evt webhook.ExportEvent) {
	if job.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	evt.ExportID = job.ID
	evt.RequestedAt = payload.RequestedAt
	evt.FinishedAt = s.now().UTC()
	if err := s.webhookClient.SendExport(ctx, job.WebhookURL, evt); err != nil {
		s.logger.Warn("webhook delivery failed", zap.String("export_id", job.ID), zap.String("status", evt.Status), zap.Error(err))
	}
}
