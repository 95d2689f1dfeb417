package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zombor/pantry-tracker/internal/inventory"
	"github.com/zombor/pantry-tracker/internal/reconcile"
	"github.com/zombor/pantry-tracker/internal/scanning"
)

// ErrClosed is returned by commands sent to a closed session
var ErrClosed = errors.New("session closed")

// DefaultDebounce is the quiet period before an edited name is re-matched
const DefaultDebounce = 300 * time.Millisecond

// QuickScanLabel is the purchase note used when no area is selected
const QuickScanLabel = "Quick scan"

// Area is a storage area visited during a tour
type Area struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// CommitReport summarizes the last commit of the session
type CommitReport struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Snapshot is a consistent, read-only view of a session
type Snapshot struct {
	Version     uint64                 `json:"version"`
	Stage       Stage                  `json:"stage"`
	Area        *Area                  `json:"area,omitempty"`
	Items       []reconcile.ReviewItem `json:"items"`
	ActiveCount int                    `json:"active_count"`
	Completed   []reconcile.AreaResult `json:"completed_areas"`
	LastCommit  *CommitReport          `json:"last_commit,omitempty"`
	Summary     *reconcile.Summary     `json:"summary,omitempty"`
}

// Options tune a Session. Zero values pick defaults.
type Options struct {
	Debounce time.Duration
	Logger   *zap.Logger
	Metrics  *reconcile.Metrics
	Now      func() time.Time
}

// command is a unit of work for the writer goroutine. done, when set, is
// closed after the resulting snapshot is published.
type command struct {
	fn   func()
	done chan struct{}
}

type rematchTimer struct {
	token uint64
	timer *time.Timer
}

// Session drives one scan workflow. Every mutation runs on a single writer
// goroutine; vision calls, commits and re-matches run on helper goroutines
// and hand their results back as commands.
type Session struct {
	scanner   scanning.Scanner
	store     inventory.Store
	resolver  *reconcile.Resolver
	committer *reconcile.Committer
	logger    *zap.Logger
	metrics   *reconcile.Metrics
	debounce  time.Duration

	cmds      chan command
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	stop      context.CancelFunc
	snapshot  atomic.Pointer[Snapshot]

	// owned by the writer goroutine
	stage       Stage
	area        *Area
	review      *reconcile.Review
	tour        *reconcile.Tour
	dedup       *reconcile.DedupTracker
	photo       []byte
	contentType string
	generation  uint64
	cancelOp    context.CancelFunc
	rematches   map[string]*rematchTimer
	nextToken   uint64
	lastCommit  *CommitReport
	version     uint64
	subscribers map[chan Snapshot]struct{}
}

// New creates a Session at area selection and starts its writer goroutine.
// Close must be called to release it.
func New(scanner scanning.Scanner, ledger *inventory.Ledger, defaults reconcile.DefaultsLookup, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	matcher := reconcile.NewMatcher(ledger.Store(), opts.Logger.Named("match"))
	ctx, stop := context.WithCancel(context.Background())
	s := &Session{
		scanner:     scanner,
		store:       ledger.Store(),
		resolver:    reconcile.NewResolver(matcher, defaults, opts.Now),
		committer:   reconcile.NewCommitter(ledger, opts.Logger.Named("commit"), opts.Metrics, opts.Now),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		debounce:    opts.Debounce,
		cmds:        make(chan command),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         ctx,
		stop:        stop,
		stage:       stage(StageAreaSelection),
		review:      reconcile.NewReview(nil),
		tour:        reconcile.NewTour(),
		dedup:       reconcile.NewDedupTracker(),
		rematches:   make(map[string]*rematchTimer),
		subscribers: make(map[chan Snapshot]struct{}),
	}
	s.publish()
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.cmds:
			cmd.fn()
			s.publish()
			if cmd.done != nil {
				close(cmd.done)
			}
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

// do runs fn on the writer goroutine and waits until its effect is published
func (s *Session) do(fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-s.quit:
		return ErrClosed
	}
	<-cmd.done
	return nil
}

// post hands fn to the writer goroutine without waiting. It is dropped once
// the session is closed.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- command{fn: fn}:
	case <-s.quit:
	}
}

func (s *Session) shutdown() {
	s.stopRematches()
	s.cancelOperation()
	s.stop()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
}

// Close stops the session and waits for its goroutines to finish
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
		s.wg.Wait()
	})
	return nil
}

// Snapshot returns the latest published state
func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// Subscribe returns a channel that receives the latest state after every
// change. Slow readers only see the newest snapshot. The channel is closed by
// cancel or by Close.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	if err := s.do(func() {
		s.subscribers[ch] = struct{}{}
		ch <- s.Snapshot()
	}); err != nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = s.do(func() {
				if _, ok := s.subscribers[ch]; ok {
					delete(s.subscribers, ch)
					close(ch)
				}
			})
		})
	}
	return ch, cancel
}

func (s *Session) publish() {
	s.version++
	snap := &Snapshot{
		Version:     s.version,
		Stage:       s.stage,
		Items:       s.review.Items(),
		ActiveCount: len(s.review.Active()),
		Completed:   s.tour.Summarize().PerArea,
		LastCommit:  s.lastCommit,
	}
	if s.area != nil {
		area := *s.area
		snap.Area = &area
	}
	if s.stage.Kind == StageTourSummary {
		summary := s.tour.Summarize()
		snap.Summary = &summary
	}
	s.snapshot.Store(snap)

	for ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- *snap
	}
}

// event applies ev to the current stage and reports whether it applied
func (s *Session) event(ev Event) bool {
	ev.Tour = s.area != nil
	ev.Held = s.review.Len() > 0
	next, ok := Transition(s.stage, ev)
	if ok {
		if next.Kind != s.stage.Kind {
			s.logger.Debug("stage changed",
				zap.String("from", string(s.stage.Kind)),
				zap.String("to", string(next.Kind)),
			)
		}
		s.stage = next
	}
	return ok
}

// resetWorking drops the current area's uncommitted state and invalidates
// any in-flight vision call, commit or re-match
func (s *Session) resetWorking() {
	s.generation++
	s.cancelOperation()
	s.stopRematches()
	s.review = reconcile.NewReview(nil)
	s.photo = nil
	s.contentType = ""
}

func (s *Session) cancelOperation() {
	if s.cancelOp != nil {
		s.cancelOp()
		s.cancelOp = nil
	}
}

func (s *Session) operationContext() context.Context {
	s.cancelOperation()
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelOp = cancel
	return ctx
}

func (s *Session) areaLabel() string {
	if s.area == nil {
		return QuickScanLabel
	}
	return s.area.Label
}

func (s *Session) lists() reconcile.Lists {
	var lists reconcile.Lists
	var err error
	if lists.Categories, err = s.store.ListCategories(); err != nil {
		s.logger.Warn("failed to list categories", zap.Error(err))
	}
	if lists.Units, err = s.store.ListUnits(); err != nil {
		s.logger.Warn("failed to list units", zap.Error(err))
	}
	return lists
}

// SelectArea starts a tour area from area selection
func (s *Session) SelectArea(area Area) error {
	return s.do(func() {
		if s.event(Event{Kind: EventSelectArea}) {
			s.enterArea(area)
		}
	})
}

// QuickScan starts a scan without an area
func (s *Session) QuickScan() error {
	return s.do(func() {
		if s.event(Event{Kind: EventQuickScan}) {
			s.resetWorking()
			s.area = nil
			s.lastCommit = nil
		}
	})
}

// Capture sends a photo to the vision model. Any uncommitted work of the
// current area is discarded; completed areas are kept.
func (s *Session) Capture(image []byte, contentType string) error {
	return s.do(func() {
		if !s.event(Event{Kind: EventCapture}) {
			return
		}
		s.resetWorking()
		s.photo = image
		s.contentType = contentType
		s.startScan()
	})
}

// Retry re-sends the last photo after a failed scan
func (s *Session) Retry() error {
	return s.do(func() {
		if s.photo == nil || !s.event(Event{Kind: EventRetry}) {
			return
		}
		s.generation++
		s.startScan()
	})
}

func (s *Session) startScan() {
	gen := s.generation
	ctx := s.operationContext()
	photo, contentType := s.photo, s.contentType
	tracker := s.dedup.Clone()
	hint := scanning.Hint{SeenNames: tracker.Names()}
	if s.area != nil {
		hint.Area = s.area.Label
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		lists := s.lists()
		hint.Categories = lists.Categories

		start := time.Now()
		candidates, err := s.scanner.ScanItems(ctx, photo, contentType, hint)
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case len(candidates) == 0:
			outcome = "empty"
		}
		s.metrics.ObserveScan(outcome, time.Since(start))

		var items []reconcile.ReviewItem
		if err == nil {
			items = s.resolver.Resolve(candidates, lists, tracker)
		}
		s.post(func() { s.scanFinished(gen, items, err) })
	}()
}

func (s *Session) scanFinished(gen uint64, items []reconcile.ReviewItem, err error) {
	if gen != s.generation {
		return
	}
	s.cancelOperation()

	switch {
	case err != nil:
		s.logger.Error("scan failed", zap.String("area", s.areaLabel()), zap.Error(err))
		s.event(Event{Kind: EventScanFailed, Message: scanErrorMessage(err)})
	case len(items) == 0:
		s.event(Event{Kind: EventScanEmpty})
	default:
		s.review = reconcile.NewReview(items)
		s.event(Event{Kind: EventScanSucceeded})
		s.logger.Info("scan resolved",
			zap.String("area", s.areaLabel()),
			zap.Int("items", len(items)),
		)
	}
}

func scanErrorMessage(err error) string {
	if errors.Is(err, scanning.ErrEncoding) {
		return "The photo could not be read. Please retake it."
	}
	return fmt.Sprintf("Scanning failed: %v", err)
}

func (s *Session) editing() bool {
	switch s.stage.Kind {
	case StageReview, StageIdle, StageEmpty:
		return true
	}
	return false
}

// withItem resolves ref and runs fn on the writer when the review is editable.
// Stale or out-of-range references are ignored.
func (s *Session) withItem(ref reconcile.ItemRef, fn func(id string)) error {
	return s.do(func() {
		if !s.editing() {
			return
		}
		if id, ok := s.review.Resolve(ref); ok {
			fn(id)
		}
	})
}

// EditName renames an item and schedules a re-match of the new name
func (s *Session) EditName(ref reconcile.ItemRef, name string) error {
	return s.withItem(ref, func(id string) {
		s.review.SetName(id, name)
		if area, ok := s.dedup.Lookup(name); ok {
			s.review.SetDupWarning(id, area)
		} else {
			s.review.SetDupWarning(id, "")
		}
		s.scheduleRematch(id, name)
	})
}

// EditQuantity stores the quantity as typed
func (s *Session) EditQuantity(ref reconcile.ItemRef, quantity string) error {
	return s.withItem(ref, func(id string) { s.review.SetQuantity(id, quantity) })
}

// EditUnit changes an item's unit
func (s *Session) EditUnit(ref reconcile.ItemRef, unit string) error {
	return s.withItem(ref, func(id string) { s.review.SetUnit(id, unit) })
}

// EditCategory changes an item's category
func (s *Session) EditCategory(ref reconcile.ItemRef, category string) error {
	return s.withItem(ref, func(id string) { s.review.SetCategory(id, category) })
}

// EditExpiry sets or clears an item's expiry date
func (s *Session) EditExpiry(ref reconcile.ItemRef, expiry *time.Time) error {
	return s.withItem(ref, func(id string) { s.review.SetExpiry(id, expiry) })
}

// ChangeMatch overrides an item's disposition. A pending re-match of the item
// is dropped so it cannot undo the choice.
func (s *Session) ChangeMatch(ref reconcile.ItemRef, mt reconcile.MatchType, recordID *int64) error {
	return s.withItem(ref, func(id string) {
		if s.review.SetMatch(id, mt, recordID) {
			s.cancelRematch(id)
		}
	})
}

// RemoveItem deletes an item. Removing the last one leaves review for the
// empty-result stage.
func (s *Session) RemoveItem(ref reconcile.ItemRef) error {
	return s.withItem(ref, func(id string) {
		s.cancelRematch(id)
		s.review.Remove(id)
		if s.review.Len() == 0 {
			s.event(Event{Kind: EventItemsCleared})
		}
	})
}

// AddItem appends an item typed in by the user
func (s *Session) AddItem(name, quantity string) error {
	var tracker *reconcile.DedupTracker
	if err := s.do(func() { tracker = s.dedup.Clone() }); err != nil {
		return err
	}
	item := s.resolver.ResolveManual(name, quantity, s.lists(), tracker)
	if item.Name == "" {
		return nil
	}
	return s.do(func() {
		if !s.editing() {
			return
		}
		s.review.Append(item)
		s.event(Event{Kind: EventItemAdded})
	})
}

func (s *Session) scheduleRematch(id, name string) {
	s.cancelRematch(id)
	s.nextToken++
	token := s.nextToken

	s.wg.Add(1)
	timer := time.AfterFunc(s.debounce, func() {
		defer s.wg.Done()
		match := s.resolver.Matcher().Match(name)
		s.post(func() { s.applyRematch(id, token, name, match) })
	})
	s.rematches[id] = &rematchTimer{token: token, timer: timer}
}

func (s *Session) applyRematch(id string, token uint64, name string, match reconcile.Match) {
	pending, ok := s.rematches[id]
	if !ok || pending.token != token {
		return
	}
	delete(s.rematches, id)

	item, ok := s.review.Get(id)
	if !ok || item.Name != name {
		return
	}
	s.review.ApplyMatch(id, match)
}

func (s *Session) cancelRematch(id string) {
	pending, ok := s.rematches[id]
	if !ok {
		return
	}
	if pending.timer.Stop() {
		s.wg.Done()
	}
	delete(s.rematches, id)
}

// flushRematches runs every pending re-match now so the items carry the
// match for their current name
func (s *Session) flushRematches() {
	for id := range s.rematches {
		s.cancelRematch(id)
		if item, ok := s.review.Get(id); ok {
			s.review.ApplyMatch(id, s.resolver.Matcher().Match(item.Name))
		}
	}
}

func (s *Session) stopRematches() {
	for id := range s.rematches {
		s.cancelRematch(id)
	}
}

// Confirm commits the active review items
func (s *Session) Confirm() error {
	return s.do(func() {
		if s.stage.Kind != StageReview || s.stage.DiscardPrompt {
			return
		}
		s.flushRematches()
		items := s.review.Active()
		if !s.event(Event{Kind: EventConfirm, Total: len(items)}) {
			return
		}
		s.generation++
		gen := s.generation
		ctx := s.operationContext()
		note := s.areaLabel()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			result := s.committer.Commit(ctx, items, note, func(current, total int) {
				s.post(func() {
					if gen == s.generation {
						s.event(Event{Kind: EventProgress, Current: current, Total: total})
					}
				})
			})
			s.post(func() { s.commitFinished(gen, result) })
		}()
	})
}

func (s *Session) commitFinished(gen uint64, result reconcile.CommitResult) {
	if gen != s.generation {
		s.logger.Info("commit finished after reset",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", len(result.Failures)),
		)
		return
	}
	s.cancelOperation()

	report := &CommitReport{Succeeded: result.Succeeded, Failed: len(result.Failures)}
	for _, f := range result.Failures {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", f.Item.Name, f.Err))
	}
	s.lastCommit = report

	if s.area != nil {
		s.tour.RecordAreaResult(s.area.ID, s.area.Label, result.Succeeded, result.Categories)
		for _, item := range result.Committed {
			s.dedup.Register(item.Name, s.area.Label)
		}
	}

	s.logger.Info("area committed",
		zap.String("area", s.areaLabel()),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", len(result.Failures)),
	)
	s.review = reconcile.NewReview(nil)
	s.photo = nil
	s.event(Event{Kind: EventCommitDone, Count: result.Succeeded})
}

// NextArea moves from a finished area to the next one of the tour
func (s *Session) NextArea(area Area) error {
	return s.do(func() {
		if s.event(Event{Kind: EventNextArea}) {
			s.enterArea(area)
		}
	})
}

func (s *Session) enterArea(area Area) {
	s.resetWorking()
	s.area = &area
	s.lastCommit = nil
	if s.tour.Completed(area.ID) {
		s.logger.Info("revisiting completed area", zap.String("area", area.Label))
	}
}

// FinishTour shows the end-of-tour summary
func (s *Session) FinishTour() error {
	return s.do(func() {
		if !s.event(Event{Kind: EventFinish, Count: s.tour.Len()}) {
			return
		}
		summary := s.tour.Summarize()
		s.logger.Info("tour finished",
			zap.Int("areas", len(summary.PerArea)),
			zap.Int("items", summary.TotalItems),
			zap.Strings("categories", summary.CategoryNames()),
		)
	})
}

// Summary returns the tour totals so far
func (s *Session) Summary() (reconcile.Summary, error) {
	var summary reconcile.Summary
	err := s.do(func() { summary = s.tour.Summarize() })
	return summary, err
}

// Exit leaves the workflow. Tour state is torn down.
func (s *Session) Exit() error {
	return s.do(func() {
		if s.event(Event{Kind: EventExit}) {
			s.teardown()
		}
	})
}

// Back navigates one step back. Leaving unsaved review items raises a
// discard prompt instead.
func (s *Session) Back() error {
	return s.do(func() {
		from := s.stage.Kind
		if !s.event(Event{Kind: EventBack}) || s.stage.DiscardPrompt {
			return
		}
		switch {
		case s.stage.Kind == StageExited:
			s.teardown()
		case from == StageProcessing:
			s.generation++
			s.cancelOperation()
		case s.stage.Kind == StageAreaSelection:
			s.resetWorking()
			s.area = nil
		}
	})
}

// ConfirmDiscard accepts the discard prompt
func (s *Session) ConfirmDiscard() error {
	return s.do(func() {
		if !s.event(Event{Kind: EventConfirmDiscard}) {
			return
		}
		switch s.stage.Kind {
		case StageIdle:
			s.resetWorking()
		case StageAreaSelection:
			s.resetWorking()
			s.area = nil
		case StageExited:
			s.teardown()
		}
	})
}

// CancelDiscard dismisses the discard prompt
func (s *Session) CancelDiscard() error {
	return s.do(func() {
		s.event(Event{Kind: EventCancelDiscard})
	})
}

// Retake returns to the camera. Review items are held until a new photo is
// captured or they are discarded.
func (s *Session) Retake() error {
	return s.do(func() {
		if s.event(Event{Kind: EventRetake}) {
			s.flushRematches()
		}
	})
}

// Resume goes back to reviewing items held after a retake
func (s *Session) Resume() error {
	return s.do(func() {
		s.event(Event{Kind: EventResume})
	})
}

// ReturnToAreaSelection abandons the current area and shows area selection.
// Completed areas are kept.
func (s *Session) ReturnToAreaSelection() error {
	return s.do(func() {
		if s.event(Event{Kind: EventReturnToAreas}) {
			s.resetWorking()
			s.area = nil
			s.lastCommit = nil
		}
	})
}

// Reset clears everything, including completed areas and the dedup
// tracker. An in-flight commit finishes its current item and stops.
func (s *Session) Reset() error {
	return s.do(func() {
		s.event(Event{Kind: EventReset})
		s.teardown()
	})
}

func (s *Session) teardown() {
	s.resetWorking()
	s.area = nil
	s.lastCommit = nil
	s.tour.Reset()
	s.dedup.Reset()
}
