package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/desertthunder/sharelist/internal/models"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/desertthunder/sharelist/internal/tokens"
	"golang.org/x/time/rate"
)

const (
	defaultWorkers = 4
	maxWorkers     = 10
	defaultRate    = 5.0
)

// Resolver runs the token lifecycle for one share code.
type Resolver interface {
	Resolve(ctx context.Context, shareCode string) (*tokens.Resolved, error)
}

// CheckOpts contains configuration for a bulk health check.
type CheckOpts struct {
	NumWorkers int     // Concurrent workers (default: 4, max: 10)
	RateLimit  float64 // Share checks per second (default: 5)
}

// ShareCheckResult is the outcome for one share.
type ShareCheckResult struct {
	ShareCode    string `json:"share_code"`
	PlaylistName string `json:"playlist_name"`
	Refreshed    bool   `json:"refreshed"`
	Kind         string `json:"kind,omitempty"`
	Error        error  `json:"-"`
	Message      string `json:"error,omitempty"`
}

// OK reports whether the share resolved to a usable token.
func (r ShareCheckResult) OK() bool { return r.Error == nil }

// CheckReport summarizes a bulk health check.
type CheckReport struct {
	Owner     string             `json:"owner"`
	Total     int                `json:"total"`
	Healthy   int                `json:"healthy"`
	Refreshed int                `json:"refreshed"`
	Failed    int                `json:"failed"`
	Results   []ShareCheckResult `json:"results"`
}

// Checker resolves every share an owner created.
type Checker struct {
	lister   models.ShareLister
	resolver Resolver
}

// NewChecker creates a [Checker].
func NewChecker(lister models.ShareLister, resolver Resolver) *Checker {
	return &Checker{lister: lister, resolver: resolver}
}

type checkJob struct {
	index  int
	record *models.ShareRecord
}

type checkOutcome struct {
	index  int
	result ShareCheckResult
}

// CheckOwner resolves the token behind each of owner's shares with a rate limited worker pool.
func (c *Checker) CheckOwner(ctx context.Context, owner string, prog chan<- ProgressUpdate, opts CheckOpts) (*CheckReport, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner", shared.ErrMissingArgument)
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaultWorkers
	}
	opts.NumWorkers = min(opts.NumWorkers, maxWorkers)
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRate
	}

	records, err := c.lister.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	sendProgress(prog, listedSharesUpdate(len(records), owner))

	report := &CheckReport{
		Owner:   owner,
		Total:   len(records),
		Results: make([]ShareCheckResult, len(records)),
	}
	if len(records) == 0 {
		return report, nil
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	jobs := make(chan checkJob, len(records))
	outcomes := make(chan checkOutcome, len(records))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go c.worker(ctx, &wg, jobs, outcomes)
	}

	go func() {
		defer close(jobs)
		for i, rec := range records {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			jobs <- checkJob{index: i, record: rec}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	seen := make([]bool, len(records))
	completed := 0
	for out := range outcomes {
		completed++
		seen[out.index] = true
		report.Results[out.index] = out.result

		switch res := out.result; {
		case !res.OK():
			report.Failed++
		case res.Refreshed:
			report.Refreshed++
			report.Healthy++
		default:
			report.Healthy++
		}
		sendProgress(prog, checkedShareUpdate(completed, len(records), out.result))
	}

	// Shares never dispatched because ctx ended.
	for i, ok := range seen {
		if ok {
			continue
		}
		report.Results[i] = failedResult(records[i], ctx.Err())
		report.Failed++
	}

	return report, nil
}

func (c *Checker) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan checkJob, outcomes chan<- checkOutcome) {
	defer wg.Done()

	for job := range jobs {
		outcomes <- checkOutcome{index: job.index, result: c.check(ctx, job.record)}
	}
}

func (c *Checker) check(ctx context.Context, record *models.ShareRecord) ShareCheckResult {
	if err := ctx.Err(); err != nil {
		return failedResult(record, err)
	}

	res, err := c.resolver.Resolve(ctx, record.ShareCode)
	if err != nil {
		return failedResult(record, err)
	}
	return ShareCheckResult{
		ShareCode:    record.ShareCode,
		PlaylistName: record.PlaylistName,
		Refreshed:    res.Refreshed,
	}
}

func failedResult(record *models.ShareRecord, err error) ShareCheckResult {
	if err == nil {
		err = context.Canceled
	}

	kind := "error"
	var te *tokens.Error
	switch {
	case errors.As(err, &te):
		kind = te.Kind.String()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = "canceled"
	}

	return ShareCheckResult{
		ShareCode:    record.ShareCode,
		PlaylistName: record.PlaylistName,
		Kind:         kind,
		Error:        err,
		Message:      err.Error(),
	}
}
