package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"cmgdl/internal/components/assert"
	"cmgdl/internal/components/chrono"
	"cmgdl/internal/components/telemetry"
	"cmgdl/internal/db"
	"cmgdl/internal/scrapers/caimogu"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const library_name = "cmgdl.service"

var tracer = otel.Tracer(library_name)

const (
	report_download        = "download"
	report_ledger_write    = "ledger.write"
	report_id_generation   = "id.generation"
	report_downloads_count = "downloads.count"
)

var (
	// ErrNoLink is returned by Download when the site did not hand out a
	// download link after remediation.
	ErrNoLink = errors.New("no download link obtained")
	// ErrFollowFailed wraps failures of the follow remediation.
	ErrFollowFailed = errors.New("failed to follow author")
	// ErrPurchaseFailed wraps failures of the purchase remediation.
	ErrPurchaseFailed = errors.New("failed to buy attachment")
)

// IdAPI generates ledger event ids.
//
// note: fault injection point
type IdAPI interface {
	NewId() (string, error)
}

type uuidAPI struct{}

func (uuidAPI) NewId() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Service runs the remediation aware download flow and keeps a ledger of the
// side effects it caused.
type Service struct {
	client *caimogu.Client
	qry    *db.Queries
	makeTx db.MakeTx
	clock  chrono.API
	ids    IdAPI
	tel    telemetry.API

	downloads metric.Int64Counter
	spent     metric.Int64Counter
	total     *atomic.Int64
}

type serviceConfig struct {
	ledger *sql.DB
	clock  chrono.API
	ids    IdAPI
	tel    telemetry.API
}

type Option func(cfg *serviceConfig)

// WithLedger records follows, purchases and downloads into the given database,
// it must have db.Schema applied.
func WithLedger(ledger *sql.DB) Option {
	return func(cfg *serviceConfig) {
		cfg.ledger = ledger
	}
}

func WithClock(clock chrono.API) Option {
	return func(cfg *serviceConfig) {
		cfg.clock = clock
	}
}

func WithIdAPI(ids IdAPI) Option {
	return func(cfg *serviceConfig) {
		cfg.ids = ids
	}
}

func WithTelemetryAPI(tel telemetry.API) Option {
	return func(cfg *serviceConfig) {
		cfg.tel = tel
	}
}

func New(client *caimogu.Client, options ...Option) (*Service, error) {
	assert.NotNil(client)

	cfg := serviceConfig{
		ids: uuidAPI{},
		tel: telemetry.SlogAPI{},
	}
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.clock == nil {
		clock, err := chrono.NewStandardImpl()
		if err != nil {
			return nil, err
		}
		cfg.clock = clock
	}

	meter := otel.Meter(library_name)
	downloads, err := meter.Int64Counter(
		"downloads",
		metric.WithDescription("download links handed out"),
	)
	if err != nil {
		return nil, err
	}
	spent, err := meter.Int64Counter(
		"points_spent",
		metric.WithDescription("site currency spent on attachments"),
	)
	if err != nil {
		return nil, err
	}

	s := &Service{
		client:    client,
		clock:     cfg.clock,
		ids:       cfg.ids,
		tel:       telemetry.NewScopedAPI("service", cfg.tel),
		downloads: downloads,
		spent:     spent,
		total:     &atomic.Int64{},
	}
	if cfg.ledger != nil {
		s.qry = db.New(cfg.ledger)
		s.makeTx = db.NewMakeTx(cfg.ledger)
	}
	return s, nil
}

// Resolve returns a handle to the post with the given id.
func (s *Service) Resolve(postId int64) *caimogu.Post {
	return s.client.Post(postId)
}

type Download struct {
	Name         string
	AttachmentId int64
	Link         string
	Password     string
}

// Download gets a download link for `attachment`, following the author and
// paying for it when the site asks for it. Each remediation runs at most once,
// link resolution is attempted regardless of how remediation went.
func (s *Service) Download(ctx context.Context, post *caimogu.Post, attachment *caimogu.Attachment) (Download, error) {
	ctx, span := tracer.Start(ctx, "Download")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("post_id", post.Id),
		attribute.Int64("attachment_id", attachment.Id),
	)

	var events []db.InsertEventParams
	defer func() {
		s.record(ctx, events)
	}()

	condition, err := attachment.CheckStatus(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check status")
		s.tel.ReportWarning(report_download, err, post.Id, attachment.Id)
		return Download{}, err
	}

	followed := false
	if condition == caimogu.ConditionNeedsFollow {
		err = post.FollowAuthor(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "follow author")
			return Download{}, fmt.Errorf("%w: %w", ErrFollowFailed, err)
		}
		followed = true
		authorId, _ := post.KnownAuthorId()
		s.tel.ReportDebug(report_download, "followed author", authorId)
		events = append(events, s.event(db.EVENT_FOLLOW, post, attachment))

		// following may reveal that the attachment still has to be paid for
		condition, err = attachment.CheckStatus(ctx)
		if err != nil {
			// the follow already happened, link resolution decides the outcome
			span.RecordError(err)
			s.tel.ReportWarning(report_download, "check status after follow", err, post.Id, attachment.Id)
		}
	}

	if err == nil && condition == caimogu.ConditionNeedsPayment {
		err = attachment.Pay(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "buy attachment")
			return Download{}, fmt.Errorf("%w: %w", ErrPurchaseFailed, err)
		}
		s.tel.ReportDebug(report_download, "bought attachment", attachment.Id, attachment.Point)
		s.spent.Add(ctx, attachment.Point)
		events = append(events, s.event(db.EVENT_PURCHASE, post, attachment))
	}

	link := attachment.DownloadLink(ctx)
	if link == "" {
		span.SetStatus(codes.Error, "no link")
		s.tel.ReportBroken(report_download, ErrNoLink, post.Id, attachment.Id, followed)
		return Download{}, fmt.Errorf("attachment %d: %w", attachment.Id, ErrNoLink)
	}
	password, _ := attachment.Password()

	events = append(events, s.event(db.EVENT_DOWNLOAD, post, attachment))
	s.downloads.Add(ctx, 1)
	s.tel.ReportCount(report_downloads_count, s.total.Add(1))

	return Download{
		Name:         attachment.Name,
		AttachmentId: attachment.Id,
		Link:         link,
		Password:     password,
	}, nil
}

// event builds a ledger row, AuthorID is 0 unless the author was resolved for
// a follow (directly or by an earlier call on the same post).
func (s *Service) event(kind db.EventKind, post *caimogu.Post, attachment *caimogu.Attachment) db.InsertEventParams {
	authorId, _ := post.KnownAuthorId()
	point := int64(0)
	if kind != db.EVENT_FOLLOW {
		point = attachment.Point
	}
	return db.InsertEventParams{
		Kind:           kind,
		PostID:         post.Id,
		AttachmentID:   attachment.Id,
		AttachmentName: attachment.Name,
		AuthorID:       authorId,
		Point:          point,
		CreatedAt:      s.clock.Now().Unix(),
	}
}

// record writes the events of one download in a single transaction, ledger
// failures never fail the download itself.
func (s *Service) record(ctx context.Context, events []db.InsertEventParams) {
	if s.makeTx == nil || len(events) == 0 {
		return
	}

	// a cancelled request still caused its side effects on the site
	ctx = context.WithoutCancel(ctx)

	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		s.tel.ReportBroken(report_ledger_write, err)
		return
	}
	defer discard()

	for _, e := range events {
		id, err := s.ids.NewId()
		if err != nil {
			s.tel.ReportBroken(report_id_generation, err)
			return
		}
		e.ID = id
		err = tx.InsertEvent(ctx, e)
		if err != nil {
			s.tel.ReportBroken(report_ledger_write, err, e)
			return
		}
	}
	err = commit()
	if err != nil {
		s.tel.ReportBroken(report_ledger_write, err)
	}
}

// History returns the latest ledger events, newest first.
func (s *Service) History(ctx context.Context, limit int64) ([]db.Event, error) {
	if s.qry == nil {
		return nil, fmt.Errorf("no ledger configured")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.qry.ListEvents(ctx, limit)
}

// Spent returns the site currency spent on purchases according to the ledger.
func (s *Service) Spent(ctx context.Context) (int64, error) {
	if s.qry == nil {
		return 0, fmt.Errorf("no ledger configured")
	}
	return s.qry.SumPoints(ctx)
}
