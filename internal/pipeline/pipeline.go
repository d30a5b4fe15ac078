package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/careops/triage-cli/internal/ehr"
	"github.com/careops/triage-cli/internal/model"
	"github.com/careops/triage-cli/internal/triage"
)

const (
	// maxPageLimit is the largest page size the patients API accepts.
	maxPageLimit = 20

	defaultPageDelay = 120 * time.Millisecond
)

// Config controls paging and pacing.
type Config struct {
	// PageLimit is the requested records per page. Values outside
	// [1, maxPageLimit] are clamped to maxPageLimit.
	PageLimit int

	// PageDelay paces successive page fetches to keep rate-limit
	// pressure down.
	PageDelay time.Duration
}

// Pipeline drives a full assessment run: fetch all pages, aggregate, submit.
// Strictly sequential: one HTTP call in flight at a time.
type Pipeline struct {
	client ehr.Client
	limit  int
	pace   *rate.Limiter
}

// New creates a Pipeline over the given API client.
func New(client ehr.Client, cfg Config) *Pipeline {
	limit := cfg.PageLimit
	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}
	delay := cfg.PageDelay
	if delay <= 0 {
		delay = defaultPageDelay
	}
	return &Pipeline{
		client: client,
		limit:  limit,
		pace:   rate.NewLimiter(rate.Every(delay), 1),
	}
}

// FetchAll retrieves every page of patient records, starting at page 1.
// Returns the accumulated records and the number of pages fetched.
func (p *Pipeline) FetchAll(ctx context.Context) ([]model.PatientRecord, int, error) {
	var records []model.PatientRecord
	var totalPages *int

	pages := 0
	page := 1
	for {
		if err := p.pace.Wait(ctx); err != nil {
			return nil, pages, eris.Wrap(err, "pipeline: pacing wait")
		}

		resp, err := p.client.ListPatients(ctx, page, p.limit)
		if err != nil {
			return nil, pages, eris.Wrapf(err, "pipeline: fetch page %d", page)
		}

		records = append(records, resp.Data...)
		pages++
		zap.L().Debug("pipeline: page fetched",
			zap.Int("page", page),
			zap.Int("records", len(resp.Data)),
		)

		// Track the last non-null total-page count across pages.
		if resp.Pagination.TotalPages != nil {
			totalPages = resp.Pagination.TotalPages
		}

		if !p.hasMore(page, resp, totalPages) {
			break
		}
		page++
	}

	return records, pages, nil
}

// hasMore decides continuation in priority order: an explicit hasNext flag
// wins, then the last observed total-page count, then whether the page came
// back full.
func (p *Pipeline) hasMore(page int, resp *ehr.PatientPage, totalPages *int) bool {
	if resp.Pagination.HasNext != nil {
		return *resp.Pagination.HasNext
	}
	if totalPages != nil {
		return page < *totalPages
	}
	return len(resp.Data) == p.limit
}

// Run executes a full assessment: fetch, aggregate, and (unless dryRun)
// submit. A fetch or submission failure aborts the run with no partial
// submission.
func (p *Pipeline) Run(ctx context.Context, dryRun bool) (*model.RunResult, error) {
	runID := uuid.New()
	start := time.Now()
	log := zap.L().With(zap.String("run_id", runID.String()))

	log.Info("pipeline: starting assessment run",
		zap.Int("page_limit", p.limit),
		zap.Bool("dry_run", dryRun),
	)

	records, pages, err := p.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	results, skipped := triage.Aggregate(records)

	result := &model.RunResult{
		RunID:   runID,
		Results: results,
		DryRun:  dryRun,
		Stats: model.RunStats{
			PagesFetched:   pages,
			RecordsFetched: len(records),
			RecordsSkipped: skipped,
		},
	}

	if !dryRun {
		response, err := p.client.SubmitAssessment(ctx, results)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: submit assessment")
		}
		result.Response = response
	}

	result.Stats.Duration = time.Since(start)
	log.Info("pipeline: run complete",
		zap.Int("pages", pages),
		zap.Int("records", len(records)),
		zap.Int("skipped", skipped),
		zap.Int("high_risk", len(results.HighRiskPatients)),
		zap.Int("fever", len(results.FeverPatients)),
		zap.Int("data_quality", len(results.DataQualityIssues)),
		zap.Duration("duration", result.Stats.Duration),
	)

	return result, nil
}
