package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/insta-extractor/internal/coins"
	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/types"
)

// ResultSink persists extracted items
type ResultSink interface {
	InsertItems(ctx context.Context, items []*models.ExtractedItem) error
}

// StoredKeys is implemented by sinks that can say which item keys a job
// already holds. Chunk invocations start with an empty seen set, so the
// runner uses it to count only items that add a row.
type StoredKeys interface {
	StoredPKs(ctx context.Context, jobID string, pks []string) (map[string]bool, error)
}

// Reporter receives the cumulative item count of a job after every page of Run
type Reporter interface {
	ReportProgress(ctx context.Context, jobID string, extracted int64) error
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(ctx context.Context, jobID string, extracted int64) error

// ReportProgress calls f
func (f ReporterFunc) ReportProgress(ctx context.Context, jobID string, extracted int64) error {
	return f(ctx, jobID, extracted)
}

// RunResult summarizes the pages processed by Run or Step
type RunResult struct {
	Extracted int64 // items kept over the job's lifetime
	Pages     int
	// ActualCoinCost is the true cost of the extracted items, for refundable types only
	ActualCoinCost int64
	// Next is where the job resumes; nil once it is exhausted or its budget is spent
	Next *Cursor
}

// Runner drives strategies and records what they extract
type Runner struct {
	strategies map[types.ExtractionType]Strategy
	sink       ResultSink
	reporter   Reporter
	ledger     *coins.Ledger
	estimator  *coins.Estimator
	now        func() time.Time
}

// RunnerOption customizes a Runner
type RunnerOption func(*Runner)

// WithCoinCheck lets the runner price and debit jobs that were not charged
// at creation (SkipCoinCheck=false)
func WithCoinCheck(ledger *coins.Ledger, estimator *coins.Estimator) RunnerOption {
	return func(r *Runner) {
		r.ledger = ledger
		r.estimator = estimator
	}
}

// WithStrategy overrides the strategy of one extraction type
func WithStrategy(t types.ExtractionType, s Strategy) RunnerOption {
	return func(r *Runner) { r.strategies[t] = s }
}

// NewRunner creates a runner reading from src. sink and reporter may be nil.
func NewRunner(src Source, sink ResultSink, reporter Reporter, opts ...RunnerOption) *Runner {
	r := &Runner{
		strategies: Strategies(src),
		sink:       sink,
		reporter:   reporter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes pages from `from` until the job is exhausted or its budget is spent
func (r *Runner) Run(ctx context.Context, jc *JobContext, from Cursor) (*RunResult, error) {
	if !jc.SkipCoinCheck {
		if err := r.charge(ctx, jc); err != nil {
			return nil, err
		}
	}

	result := &RunResult{Extracted: jc.Extracted}
	at := from
	for {
		if err := ctx.Err(); err != nil {
			result.Next = &at
			return result, err
		}

		step, err := r.Step(ctx, jc, at)
		if err != nil {
			result.Next = &at
			return result, err
		}
		r.report(ctx, jc)
		result.Pages++
		result.Extracted = step.Extracted
		result.ActualCoinCost = step.ActualCoinCost

		if step.Next == nil {
			return result, nil
		}
		at = *step.Next
	}
}

// Step processes the single page at `at`. Progress is left to the caller,
// which records it together with the cursor.
func (r *Runner) Step(ctx context.Context, jc *JobContext, at Cursor) (*RunResult, error) {
	strategy, ok := r.strategies[jc.Type]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, jc.Type)
	}

	if jc.BudgetSpent() {
		return &RunResult{Extracted: jc.Extracted, ActualCoinCost: actualCost(jc)}, nil
	}

	res, err := strategy.Step(ctx, jc, at)
	if err != nil {
		return nil, err
	}

	items, err := r.newItems(ctx, jc, res.Items)
	if err != nil {
		return nil, err
	}
	if rem := jc.Remaining(); rem >= 0 && int64(len(items)) > rem {
		items = items[:rem]
	}

	if len(items) > 0 {
		now := r.now().UTC()
		for _, item := range items {
			item.JobID = jc.JobID
			item.ExtractedAt = now
		}
		if r.sink != nil {
			if err := r.sink.InsertItems(ctx, items); err != nil {
				return nil, fmt.Errorf("store results: %w", err)
			}
		}
	}

	jc.Extracted += int64(len(items))

	next := res.Next
	if jc.BudgetSpent() {
		next = nil
	}
	return &RunResult{
		Extracted:      jc.Extracted,
		Pages:          1,
		ActualCoinCost: actualCost(jc),
		Next:           next,
	}, nil
}

// newItems drops items repeated within the page or already stored for the job
func (r *Runner) newItems(ctx context.Context, jc *JobContext, items []*models.ExtractedItem) ([]*models.ExtractedItem, error) {
	if len(items) == 0 {
		return items, nil
	}
	pks := make([]string, 0, len(items))
	inPage := make(map[string]bool, len(items))
	kept := items[:0:0]
	for _, item := range items {
		if item.PK != "" {
			if inPage[item.PK] {
				continue
			}
			inPage[item.PK] = true
			pks = append(pks, item.PK)
		}
		kept = append(kept, item)
	}

	keyed, ok := r.sink.(StoredKeys)
	if !ok || len(pks) == 0 {
		return kept, nil
	}
	stored, err := keyed.StoredPKs(ctx, jc.JobID, pks)
	if err != nil {
		return nil, fmt.Errorf("check stored results: %w", err)
	}
	if len(stored) == 0 {
		return kept, nil
	}
	fresh := kept[:0:0]
	for _, item := range kept {
		if item.PK == "" || !stored[item.PK] {
			fresh = append(fresh, item)
		}
	}
	return fresh, nil
}

// report persists progress; a lost update is overwritten by the next page
func (r *Runner) report(ctx context.Context, jc *JobContext) {
	if r.reporter == nil {
		return
	}
	if err := r.reporter.ReportProgress(ctx, jc.JobID, jc.Extracted); err != nil {
		logging.FromContext(ctx).WithField("job_id", jc.JobID).WithError(err).Warn("progress update failed")
	}
}

// charge prices a job that was not debited at creation and deducts the cost
func (r *Runner) charge(ctx context.Context, jc *JobContext) error {
	if r.ledger == nil || r.estimator == nil {
		return errors.New("coin check requested but runner has no ledger")
	}

	quote, err := r.estimator.Quote(ctx, jc.Type, jc.Targets, jc.URLs, jc.Filters)
	if err != nil {
		return err
	}

	balance, err := r.ledger.GetUserCoins(ctx, jc.UserID)
	if err != nil {
		return err
	}
	if quote.Cost > balance {
		return apperrors.NewInsufficientCoinsError(quote.Cost, balance)
	}

	if _, err := r.ledger.DeductCoins(ctx, jc.UserID, quote.Cost); err != nil {
		return err
	}
	jc.SkipCoinCheck = true

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"job_id":  jc.JobID,
		"user_id": jc.UserID,
		"cost":    quote.Cost,
	}).Info("coins charged for direct extraction")
	return nil
}

func actualCost(jc *JobContext) int64 {
	if !coins.Rules[jc.Type].Refundable {
		return 0
	}
	return coins.ActualCost(jc.Type, jc.Extracted)
}
