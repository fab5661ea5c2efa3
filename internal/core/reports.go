package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"warrantycore/internal/blob"
	"warrantycore/pkg/domain"
)

// ErrNoBlobStore is returned by ArchiveServiceReport when no archive is configured.
var ErrNoBlobStore = errors.New("no blob store configured")

// ServiceReport is the archived record of a finished service request.
type ServiceReport struct {
	Aggregate   domain.Aggregate `json:"aggregate"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// ReportKey returns the blob key of a request's report.
func ReportKey(requestID string) string {
	return "service-reports/" + requestID + ".json"
}

// ArchiveServiceReport writes the aggregate of a COMPLETED or REJECTED request
// to the blob store. Reports are written once; archiving again returns the
// stored report's info.
func (s *Service) ArchiveServiceReport(ctx context.Context, requestID string) (info blob.Info, err error) {
	if s.blobs == nil {
		return blob.Info{}, ErrNoBlobStore
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "archive_service_report")
	start := time.Now()
	defer func() {
		span.End(err)
		s.metrics.Observe(ctx, "archive_service_report", err == nil, time.Since(start))
		if err != nil {
			s.logger.Error("archive failed", "request_id", requestID, "error", err)
			return
		}
		s.logger.Info("service report archived", "request_id", requestID, "key", info.Key, "driver", string(s.blobs.Driver()))
	}()

	var agg domain.Aggregate
	if err := s.store.View(ctx, func(view TransactionView) error {
		var err error
		agg, err = domain.LoadAggregate(view, requestID)
		return err
	}); err != nil {
		return blob.Info{}, err
	}
	if !agg.Request.Status.Terminal() {
		return blob.Info{}, domain.ErrInvalidTransition{
			Entity: EntityServiceRequest,
			ID:     requestID,
			From:   string(agg.Request.Status),
			To:     "ARCHIVED",
			Reason: "only completed or rejected requests are archived",
		}
	}

	key := ReportKey(requestID)
	existing, err := s.blobs.Head(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, blob.ErrNotFound) {
		return blob.Info{}, fmt.Errorf("head %s: %w", key, err)
	}
	payload, err := json.MarshalIndent(ServiceReport{Aggregate: agg, GeneratedAt: s.now()}, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode report: %w", err)
	}
	info, err = s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"request-id": requestID,
			"status":     string(agg.Request.Status),
		},
	})
	if errors.Is(err, blob.ErrExists) {
		return s.blobs.Head(ctx, key)
	}
	return info, err
}

// LoadServiceReport reads an archived report back.
func (s *Service) LoadServiceReport(ctx context.Context, requestID string) (report ServiceReport, err error) {
	if s.blobs == nil {
		return ServiceReport{}, ErrNoBlobStore
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "load_service_report")
	start := time.Now()
	defer func() {
		span.End(err)
		s.metrics.Observe(ctx, "load_service_report", err == nil, time.Since(start))
		if err != nil {
			s.logger.Debug("report read failed", "request_id", requestID, "error", err)
		}
	}()

	_, rc, err := s.blobs.Get(ctx, ReportKey(requestID))
	if err != nil {
		return ServiceReport{}, err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(&report); err != nil {
		return ServiceReport{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
