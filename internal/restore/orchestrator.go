// Package restore rebuilds a snapshot's entity graph inside a target
// instance. It resolves old identifiers to new ones kind by kind in
// dependency order, matching against entities that already exist before
// creating anything, and reports a terminal outcome for every entity.
package restore

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/mterres/opmigrate/internal/op"
	"github.com/mterres/opmigrate/internal/remap"
	"github.com/mterres/opmigrate/internal/snapshot"
)

// Options tunes a restore run.
type Options struct {
	// Workers bounds concurrent create calls within one entity kind.
	// Kinds are always processed sequentially. Default 4.
	Workers int
	// Progress receives human-readable progress lines. Default os.Stdout.
	Progress io.Writer
}

// Orchestrator sequences one restore run. It owns the identity map and the
// report for that run; nothing is shared across runs, so re-invocation after
// a crash simply starts over and relies on natural-key matching to skip
// entities that already made it across.
type Orchestrator struct {
	conn    op.Connection
	snap    *snapshot.Snapshot
	ids     *remap.IdentityMap
	report  *remap.Report
	workers int
	out     io.Writer

	// activityByName indexes the target's time-entry activities. Activities
	// are not archived as a collection; they are resolved by the titles the
	// source attached to time-entry links.
	activityByName map[string]int64
}

// Run restores snap into the instance behind conn. The report lists every
// entity with a terminal status; the identity map gives old-to-new id
// translations for everything that resolved. A non-nil error means the run
// aborted early: either cancellation, or a schema kind that work packages
// require resolved to nothing at all.
func Run(ctx context.Context, snap *snapshot.Snapshot, conn op.Connection, opts Options) (*remap.Report, *remap.IdentityMap, error) {
	o := &Orchestrator{
		conn:    conn,
		snap:    snap,
		ids:     remap.NewIdentityMap(),
		report:  &remap.Report{},
		workers: opts.Workers,
		out:     opts.Progress,
	}
	if o.workers <= 0 {
		o.workers = 4
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	err := o.run(ctx)
	return o.report, o.ids, err
}

func (o *Orchestrator) run(ctx context.Context) error {
	if err := o.resolveSchemas(ctx); err != nil {
		return err
	}
	if err := o.resolveActivities(ctx); err != nil {
		return err
	}
	if err := o.resolveUsers(ctx); err != nil {
		return err
	}
	if err := o.resolveProjects(ctx); err != nil {
		return err
	}
	if err := o.resolveProjectSubresources(ctx); err != nil {
		return err
	}
	if err := o.resolveWorkPackages(ctx); err != nil {
		return err
	}
	if err := o.resolveAttachments(ctx); err != nil {
		return err
	}
	if err := o.resolveTimeEntries(ctx); err != nil {
		return err
	}
	return o.resolveBudgets(ctx)
}

// forEach runs fn over records with the bounded worker pool. Individual
// entity failures are recorded in the report by fn, never returned;
// cancellation is checked between entities, not mid-call.
func (o *Orchestrator) forEach(ctx context.Context, records []snapshot.Record, fn func(ctx context.Context, rec snapshot.Record)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, rec := range records {
		if err := gctx.Err(); err != nil {
			break
		}
		rec := rec
		g.Go(func() error {
			fn(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// fetchIndex collects the target's current collection at endpoint and
// indexes it by key. An absent endpoint yields an empty index.
func (o *Orchestrator) fetchIndex(ctx context.Context, endpoint string, keyFn func(snapshot.Record) string) (map[string]int64, error) {
	records, err := o.conn.Collect(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch target %s: %w", endpoint, err)
	}
	index := make(map[string]int64, len(records))
	for _, rec := range records {
		if key := keyFn(rec); key != "" {
			if _, dup := index[key]; !dup {
				index[key] = rec.ID()
			}
		}
	}
	return index, nil
}

func (o *Orchestrator) progressf(format string, args ...any) {
	fmt.Fprintf(o.out, format+"\n", args...)
}

// recordFailure logs a create failure. Transport-level errors are local to
// one entity and never abort the run.
func (o *Orchestrator) recordFailure(kind string, oldID int64, key string, err error) {
	msg := err.Error()
	if op.IsNotFound(err) {
		msg = "endpoint absent on target (module disabled?)"
	}
	o.report.Add(remap.Outcome{Kind: kind, OldID: oldID, Key: key, Status: remap.Failed, Err: msg})
	o.ids.Put(kind, oldID, remap.Entry{Key: key, Method: remap.Failed})
}

func (o *Orchestrator) recordSkip(kind string, oldID int64, key, reason string) {
	o.report.Add(remap.Outcome{Kind: kind, OldID: oldID, Key: key, Status: remap.SkippedMissingDependency, Err: reason})
	o.ids.Put(kind, oldID, remap.Entry{Key: key, Method: remap.SkippedMissingDependency})
}

func (o *Orchestrator) recordMatch(kind string, oldID, newID int64, key string) {
	o.report.Add(remap.Outcome{Kind: kind, OldID: oldID, NewID: newID, Key: key, Status: remap.MatchedExisting})
	o.ids.Put(kind, oldID, remap.Entry{NewID: newID, Key: key, Method: remap.MatchedExisting})
}

func (o *Orchestrator) recordCreate(kind string, oldID, newID int64, key string) {
	o.report.Add(remap.Outcome{Kind: kind, OldID: oldID, NewID: newID, Key: key, Status: remap.Created})
	o.ids.Put(kind, oldID, remap.Entry{NewID: newID, Key: key, Method: remap.Created})
}
