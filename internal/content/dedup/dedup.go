// Package dedup canonicalizes discovered content. Every raw discovery result
// funnels through Ingest, which resolves it against the global
// (platform, platform_video_id) namespace: first sighting creates the item,
// a sighting by another job links the existing item into that job, and a
// repeat sighting refreshes metrics in place.
package dedup

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/reelforge/reelforge-backend/internal/data/repos"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeLinked  Outcome = "linked"
	OutcomeUpdated Outcome = "updated"
)

// Record is one raw discovery result before canonicalization.
type Record struct {
	Platform        string
	PlatformVideoID string
	URL             string
	Title           string
	Description     string
	Author          string
	Views           int64
	Likes           int64
	Comments        int64
	DurationSecs    float64
	UploadDate      *time.Time
	TrendingScore   float64
	Metadata        datatypes.JSON
}

type Result struct {
	Outcome Outcome
	Item    *types.Item
}

type Stats struct {
	Created int
	Linked  int
	Updated int
	Skipped int
}

func (s Stats) Total() int { return s.Created + s.Linked + s.Updated }

var ErrInvalidRecord = errors.New("record missing platform or platform video id")

type Deduper struct {
	items repos.ItemRepo
	log   *logger.Logger
}

func NewDeduper(items repos.ItemRepo, baseLog *logger.Logger) *Deduper {
	return &Deduper{
		items: items,
		log:   baseLog.With("component", "Deduper"),
	}
}

// Ingest resolves one record for one job. The insert races are settled by the
// unique index; when the insert loses but the read misses (row committed after
// our read), the resolve is retried once.
func (d *Deduper) Ingest(dbc dbctx.Context, jobID uuid.UUID, rec Record) (*Result, error) {
	if jobID == uuid.Nil {
		return nil, errors.New("ingest requires a job id")
	}
	rec.Platform = strings.ToLower(strings.TrimSpace(rec.Platform))
	rec.PlatformVideoID = strings.TrimSpace(rec.PlatformVideoID)
	if rec.Platform == "" || rec.PlatformVideoID == "" {
		return nil, ErrInvalidRecord
	}
	rec.TrendingScore = normalizeTrending(rec.TrendingScore)

	res, err := d.resolve(dbc, jobID, rec)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		res, err = d.resolve(dbc, jobID, rec)
	}
	return res, err
}

// normalizeTrending brings platform trending scores onto the unit scale
// stored on Item. Several platforms report 0-100; anything above 1 is read on
// that scale. Scoring downstream assumes [0,1] and applies no rescaling.
func normalizeTrending(score float64) float64 {
	if score > 1 {
		score = score / 100
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (d *Deduper) resolve(dbc dbctx.Context, jobID uuid.UUID, rec Record) (*Result, error) {
	candidate := &types.Item{
		ID:              uuid.New(),
		JobID:           jobID,
		Platform:        rec.Platform,
		PlatformVideoID: rec.PlatformVideoID,
		URL:             rec.URL,
		Title:           rec.Title,
		Description:     rec.Description,
		Author:          rec.Author,
		Views:           rec.Views,
		Likes:           rec.Likes,
		Comments:        rec.Comments,
		DurationSecs:    rec.DurationSecs,
		UploadDate:      rec.UploadDate,
		TrendingScore:   rec.TrendingScore,
		Metadata:        rec.Metadata,
		DiscoveredAt:    time.Now(),
	}

	item, created, err := d.items.InsertIfAbsent(dbc, candidate)
	if err != nil {
		return nil, err
	}
	if created {
		return &Result{Outcome: OutcomeCreated, Item: item}, nil
	}

	// Existing item: metrics only ever move up, descriptive fields keep
	// their first-seen values.
	if err := d.items.MergeMetrics(dbc, item.ID, rec.Views, rec.Likes, rec.Comments, rec.TrendingScore); err != nil {
		return nil, err
	}

	if item.JobID == jobID {
		return &Result{Outcome: OutcomeUpdated, Item: item}, nil
	}

	if err := d.items.Link(dbc, jobID, item.ID); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeLinked, Item: item}, nil
}

// IngestBatch resolves a slice of records, skipping invalid ones rather than
// failing the batch. Any other error aborts: partial progress is safe to
// replay because every step is idempotent.
func (d *Deduper) IngestBatch(dbc dbctx.Context, jobID uuid.UUID, recs []Record) (Stats, error) {
	var stats Stats
	for _, rec := range recs {
		res, err := d.Ingest(dbc, jobID, rec)
		if errors.Is(err, ErrInvalidRecord) {
			stats.Skipped++
			d.log.Warn("skipping malformed discovery record", "job_id", jobID, "platform", rec.Platform)
			continue
		}
		if err != nil {
			return stats, err
		}
		switch res.Outcome {
		case OutcomeCreated:
			stats.Created++
		case OutcomeLinked:
			stats.Linked++
		case OutcomeUpdated:
			stats.Updated++
		}
	}
	return stats, nil
}
