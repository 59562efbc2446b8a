package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ewhitley/cadence/internal/identity"
	"github.com/ewhitley/cadence/internal/source"
	"github.com/ewhitley/cadence/internal/store"
)

var (
	// ErrCycleRunning means a cycle was requested while one is in flight.
	ErrCycleRunning = errors.New("sync cycle already running")
	// ErrRateLimited means the minimum interval between cycle starts has
	// not elapsed yet.
	ErrRateLimited = errors.New("sync cycle rate limited")
)

// Options tunes an Orchestrator.
type Options struct {
	SinceDays     int
	MinInterval   time.Duration
	SourceTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SinceDays <= 0 {
		o.SinceDays = 30
	}
	if o.MinInterval <= 0 {
		o.MinInterval = 60 * time.Second
	}
	if o.SourceTimeout <= 0 {
		o.SourceTimeout = 12 * time.Second
	}
	return o
}

// Orchestrator runs sync cycles: one concurrent task per source, each raced
// against its own timeout, results merged single-threaded at the end.
type Orchestrator struct {
	st      *store.Store
	sources []source.Source
	dir     source.Directory
	opts    Options

	// now is swappable for tests.
	now func() time.Time

	mu         sync.Mutex
	state      CycleState
	lastStart  time.Time
	lastReport *Report
}

func New(st *store.Store, sources []source.Source, dir source.Directory, opts Options) *Orchestrator {
	return &Orchestrator{
		st:      st,
		sources: sources,
		dir:     dir,
		opts:    opts.withDefaults(),
		now:     time.Now,
		state:   StateIdle,
	}
}

// State returns the current cycle state.
func (o *Orchestrator) State() CycleState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastReport returns the most recent finished cycle report, if any.
func (o *Orchestrator) LastReport() *Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastReport
}

// CheckSources probes every source without running a cycle. The probes are
// best-effort reads, so the result distinguishes reachable stores from
// everything else but not why a store is unreachable.
func (o *Orchestrator) CheckSources() map[string]SourceStatus {
	out := make(map[string]SourceStatus, len(o.sources)+1)
	for _, src := range o.sources {
		if src.CheckAvailability() {
			out[src.Name()] = StatusConnected
		} else {
			out[src.Name()] = StatusUnavailable
		}
	}
	if o.dir != nil {
		if o.dir.CheckAvailability() {
			out["directory"] = StatusConnected
		} else {
			out["directory"] = StatusUnavailable
		}
	}
	return out
}

// fetchOutcome is one source task's result. Partial output from a timed-out
// task never reaches here: a source contributes all of its events or none.
type fetchOutcome struct {
	src    source.Source
	events []store.Event
	err    error
}

// Sync runs one full cycle. A request while a cycle is running returns
// ErrCycleRunning; a request before the minimum interval has elapsed returns
// ErrRateLimited. Both leave the running cycle untouched.
func (o *Orchestrator) Sync(ctx context.Context) (*Report, error) {
	start := o.now()

	// Re-entrancy guard and rate limit are one atomic check-and-set so two
	// racing start requests cannot both pass.
	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		return nil, ErrCycleRunning
	}
	if !o.lastStart.IsZero() && start.Sub(o.lastStart) < o.opts.MinInterval {
		o.mu.Unlock()
		return nil, ErrRateLimited
	}
	o.state = StateRunning
	o.lastStart = start
	o.mu.Unlock()

	report := o.runCycle(ctx, start)

	o.mu.Lock()
	o.state = StateIdle
	o.lastReport = report
	o.mu.Unlock()

	if err := o.st.AppendCycle(cycleRecord(report)); err != nil {
		slog.Warn("failed to persist cycle record", "component", "orchestrator", "error", err)
	}
	return report, nil
}

func (o *Orchestrator) runCycle(ctx context.Context, start time.Time) *Report {
	report := &Report{
		State:     StateRunning,
		StartedAt: start,
		Statuses:  make(map[string]SourceStatus, len(o.sources)+1),
		Reasons:   make(map[string]string),
		Counts:    make(map[string]int, len(o.sources)),
	}
	for _, src := range o.sources {
		report.Statuses[src.Name()] = StatusChecking
	}

	log := slog.With("component", "orchestrator")
	log.Info("sync cycle started", "sources", len(o.sources), "since_days", o.opts.SinceDays)

	allOK := true

	// Cycle-start snapshots, read-only for every source task.
	contacts, err := o.st.FetchContacts()
	if err != nil {
		return o.finishFailed(report, "store", fmt.Sprintf("failed to load contacts: %v", err))
	}
	existing, err := o.st.FetchEventSourceIdentifiers()
	if err != nil {
		return o.finishFailed(report, "store", fmt.Sprintf("failed to load source identifiers: %v", err))
	}

	table, err := o.buildIdentityTable(ctx, contacts, report)
	if err != nil {
		// The table still resolves by name; directory failure degrades
		// matching but must not block the other sources.
		allOK = false
	}

	outcomes := o.fetchAll(ctx, table)

	var candidates []store.Event
	for _, oc := range outcomes {
		name := oc.src.Name()
		if oc.err != nil {
			st, reason := statusFor(oc.err)
			report.Statuses[name] = st
			report.Reasons[name] = reason
			report.Failures = append(report.Failures, Failure{Source: name, Message: reason})
			log.Warn("source failed", "source", name, "status", string(st), "error", reason)
			allOK = false
			continue
		}
		report.Statuses[name] = StatusConnected
		report.Counts[name] = len(oc.events)
		candidates = append(candidates, oc.events...)
	}

	// Single-threaded merge after all sources report; the only writer.
	res, err := Merge(o.st, existing, candidates, o.now())
	if err != nil {
		report.Failures = append(report.Failures, Failure{Source: "store", Message: err.Error()})
		log.Error("merge commit failed", "error", err)
		allOK = false
	}
	report.EventsNew = res.Inserted
	report.EventsSeen = res.Skipped
	report.FuturePurge = res.Purged

	report.FinishedAt = o.now()
	if allOK {
		report.State = StateCompleted
	} else {
		report.State = StatePartiallyFailed
	}
	log.Info("sync cycle finished",
		"state", string(report.State),
		"events_new", report.EventsNew,
		"events_seen", report.EventsSeen,
		"future_purged", report.FuturePurge,
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report
}

// buildIdentityTable builds the per-cycle lookup table, reporting the
// directory adapter like any other source.
func (o *Orchestrator) buildIdentityTable(ctx context.Context, contacts []store.Contact, report *Report) (*identity.Table, error) {
	if o.dir == nil {
		table, err := identity.Build(ctx, contacts, nil)
		return table, err
	}

	report.Statuses["directory"] = StatusChecking

	dirCtx, cancel := context.WithTimeout(ctx, o.opts.SourceTimeout)
	defer cancel()

	table, err := identity.Build(dirCtx, contacts, o.dir)
	if err != nil {
		st, reason := statusFor(classifyFetchErr("directory", dirCtx, err))
		report.Statuses["directory"] = st
		report.Reasons["directory"] = reason
		report.Failures = append(report.Failures, Failure{Source: "directory", Message: reason})

		// Fall back to a name-only table.
		table, _ = identity.Build(ctx, contacts, nil)
		return table, err
	}
	report.Statuses["directory"] = StatusConnected
	return table, nil
}

// fetchAll fans out one task per source, each with an independent timeout,
// and collects outcomes as they complete. Order is irrelevant; the merge is
// order-independent by construction.
func (o *Orchestrator) fetchAll(ctx context.Context, table *identity.Table) []fetchOutcome {
	results := make(chan fetchOutcome, len(o.sources))

	var wg sync.WaitGroup
	for _, src := range o.sources {
		wg.Add(1)
		go func(src source.Source) {
			defer wg.Done()
			results <- o.fetchOne(ctx, src, table)
		}(src)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]fetchOutcome, 0, len(o.sources))
	for oc := range results {
		out = append(out, oc)
	}
	return out
}

// fetchOne races a single source against its timeout. On timeout the task is
// cancelled and whatever it had streamed so far is discarded.
func (o *Orchestrator) fetchOne(ctx context.Context, src source.Source, table *identity.Table) fetchOutcome {
	srcCtx, cancel := context.WithTimeout(ctx, o.opts.SourceTimeout)
	defer cancel()

	type fetched struct {
		events []store.Event
		err    error
	}
	done := make(chan fetched, 1)
	go func() {
		raws, err := src.FetchRecent(srcCtx, o.opts.SinceDays)
		if err != nil {
			done <- fetched{err: err}
			return
		}
		done <- fetched{events: buildCandidates(src, raws, table)}
	}()

	select {
	case f := <-done:
		if f.err != nil {
			return fetchOutcome{src: src, err: classifyFetchErr(src.Name(), srcCtx, f.err)}
		}
		return fetchOutcome{src: src, events: f.events}
	case <-srcCtx.Done():
		return fetchOutcome{src: src, err: classifyFetchErr(src.Name(), srcCtx, srcCtx.Err())}
	}
}

// classifyFetchErr maps context expiry onto the timeout kind; adapter errors
// pass through already classified.
func classifyFetchErr(name string, ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return source.Timeout(name, err)
	}
	var se *source.Error
	if errors.As(err, &se) {
		return err
	}
	return source.SchemaError(name, err)
}

func (o *Orchestrator) finishFailed(report *Report, src, msg string) *Report {
	report.Failures = append(report.Failures, Failure{Source: src, Message: msg})
	report.State = StatePartiallyFailed
	report.FinishedAt = o.now()
	return report
}

func cycleRecord(r *Report) store.CycleRecord {
	rec := store.CycleRecord{
		StartedAt:     r.StartedAt,
		State:         string(r.State),
		EventsCreated: r.EventsNew,
		Counts:        r.Counts,
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		rec.FinishedAt = &t
	}
	if len(r.Failures) > 0 {
		rec.Failures = make(map[string]string, len(r.Failures))
		for _, f := range r.Failures {
			rec.Failures[f.Source] = f.Message
		}
	}
	return rec
}
