package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zombor/pantry-tracker/internal/inventory"
)

// Uncategorized is the tally bucket for items without a category
const Uncategorized = "Uncategorized"

// Progress receives (current, total) after each item attempt
type Progress func(current, total int)

// CommitFailure pairs an item with the error that stopped it persisting
type CommitFailure struct {
	Item ReviewItem
	Err  error
}

// CommitResult reports what a commit persisted
type CommitResult struct {
	Succeeded  int
	Failures   []CommitFailure
	Committed  []ReviewItem
	Categories map[string]int
	// Canceled is set when the context ended before every item was attempted
	Canceled bool
}

// Committer applies review items to the record store
type Committer struct {
	ledger  *inventory.Ledger
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewCommitter creates a Committer. logger, metrics and now may be nil.
func NewCommitter(ledger *inventory.Ledger, logger *zap.Logger, metrics *Metrics, now func() time.Time) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Committer{ledger: ledger, logger: logger, metrics: metrics, now: now}
}

// Commit persists the active items one at a time. A failing item is logged
// and recorded in Failures; the remaining items are still attempted. The
// context is only checked between items, so an item in flight always
// finishes.
func (c *Committer) Commit(ctx context.Context, items []ReviewItem, note string, progress Progress) CommitResult {
	start := time.Now()
	defer func() { c.metrics.commitFinished(time.Since(start)) }()

	active := make([]ReviewItem, 0, len(items))
	for _, item := range items {
		if item.Active() {
			active = append(active, item)
		}
	}

	result := CommitResult{Categories: make(map[string]int)}
	total := len(active)
	for idx, item := range active {
		if err := ctx.Err(); err != nil {
			c.logger.Info("commit canceled",
				zap.Int("attempted", idx),
				zap.Int("total", total),
			)
			result.Canceled = true
			break
		}

		if err := c.commitOne(item, note); err != nil {
			c.logger.Error("failed to commit item",
				zap.String("item_id", item.ID),
				zap.String("name", item.Name),
				zap.String("match_type", string(item.MatchType)),
				zap.Error(err),
			)
			c.metrics.itemFailed()
			result.Failures = append(result.Failures, CommitFailure{Item: item, Err: err})
		} else {
			c.metrics.itemCommitted(item.MatchType)
			result.Succeeded++
			result.Committed = append(result.Committed, item)
			category := item.Category
			if category == "" {
				category = Uncategorized
			}
			result.Categories[category]++
		}

		if progress != nil {
			progress(idx+1, total)
		}
	}
	return result
}

func (c *Committer) commitOne(item ReviewItem, note string) error {
	quantity := ParseQuantity(item.Quantity)
	purchase := &inventory.Purchase{Quantity: quantity, Date: c.now(), Note: note}

	switch item.MatchType {
	case MatchUpdateExisting:
		if item.MatchedRecordID == nil {
			return fmt.Errorf("item %q has no matched record", item.Name)
		}
		return c.ledger.Increment(*item.MatchedRecordID, quantity, item.Expiry, purchase)
	case MatchCreateNew:
		_, _, err := c.ledger.AddByName(inventory.StockEntry{
			Name:     item.Name,
			Quantity: quantity,
			Unit:     item.Unit,
			Category: item.Category,
			Expiry:   item.Expiry,
		}, purchase)
		return err
	default:
		return fmt.Errorf("unexpected match type %q", item.MatchType)
	}
}
