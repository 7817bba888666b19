package restore

import (
	"context"
	"fmt"

	"github.com/mterres/opmigrate/internal/snapshot"
)

// kindSpec describes how one globally-listed entity kind is resolved:
// where the target's collection lives, what its natural key is, and how to
// build a creation payload for an unmatched record.
type kindSpec struct {
	kind         string
	listEndpoint string
	createPath   string
	keyFn        func(snapshot.Record) string
	payloadFn    func(snapshot.Record) map[string]any
}

// resolveKind runs the two resolution phases for one kind: index the
// target's existing collection by natural key and reuse every match, then
// create whatever is left. Matching always wins over creation, which is what
// makes re-running a restore idempotent.
func (o *Orchestrator) resolveKind(ctx context.Context, spec kindSpec, records []snapshot.Record) error {
	if len(records) == 0 {
		return nil
	}
	index, err := o.fetchIndex(ctx, spec.listEndpoint, spec.keyFn)
	if err != nil {
		return err
	}

	return o.forEach(ctx, records, func(ctx context.Context, rec snapshot.Record) {
		key := spec.keyFn(rec)
		if newID, ok := index[key]; ok && key != "" {
			o.recordMatch(spec.kind, rec.ID(), newID, key)
			return
		}
		created, err := o.conn.Create(ctx, spec.createPath, spec.payloadFn(rec))
		if err != nil {
			o.recordFailure(spec.kind, rec.ID(), key, err)
			return
		}
		o.recordCreate(spec.kind, rec.ID(), created.ID(), key)
	})
}

func keyName(rec snapshot.Record) string { return rec.Str("name") }

// resolveSchemas processes the global schema collections. Creation of schema
// items is attempted for completeness but many servers reject it; that is a
// per-item failure, not a run failure. The run aborts only when a kind that
// every work package depends on (types, statuses) resolves to nothing, since
// nothing downstream could be created.
func (o *Orchestrator) resolveSchemas(ctx context.Context) error {
	restorable := []string{
		snapshot.KindTypes, snapshot.KindStatuses, snapshot.KindPriorities,
		snapshot.KindRoles, snapshot.KindGroups, snapshot.KindCostTypes,
		snapshot.KindCustomFields,
	}
	for _, kind := range restorable {
		records := o.snap.Schemas[kind]
		if len(records) == 0 {
			continue
		}
		o.progressf("Resolving %s (%d records)...", kind, len(records))
		spec := kindSpec{
			kind:         kind,
			listEndpoint: "/" + kind,
			createPath:   "/" + kind,
			keyFn:        keyName,
			payloadFn: func(rec snapshot.Record) map[string]any {
				return map[string]any{"name": rec.Str("name")}
			},
		}
		if err := o.resolveKind(ctx, spec, records); err != nil {
			return err
		}
	}

	if len(o.snap.WorkPackages) > 0 {
		for _, kind := range []string{snapshot.KindTypes, snapshot.KindStatuses} {
			if len(o.snap.Schemas[kind]) > 0 && o.ids.ResolvedCount(kind) == 0 {
				return fmt.Errorf("no %s could be resolved on the target; work packages cannot be restored", kind)
			}
		}
	}
	return nil
}

// resolveActivities builds the time-entry activity lookup. Activities are
// never archived as their own collection; time entries reference them by
// link title, so resolution is a pure natural-key match against the target.
func (o *Orchestrator) resolveActivities(ctx context.Context) error {
	if len(o.snap.TimeEntries) == 0 {
		return nil
	}
	index, err := o.fetchIndex(ctx, "/time_entries/activities", keyName)
	if err != nil {
		return err
	}
	o.activityByName = index
	return nil
}

func (o *Orchestrator) resolveUsers(ctx context.Context) error {
	if len(o.snap.Users) == 0 {
		return nil
	}
	o.progressf("Resolving users (%d records)...", len(o.snap.Users))
	spec := kindSpec{
		kind:         snapshot.KindUsers,
		listEndpoint: "/users",
		createPath:   "/users",
		keyFn:        func(rec snapshot.Record) string { return rec.Str("login") },
		payloadFn:    buildUserPayload,
	}
	return o.resolveKind(ctx, spec, o.snap.Users)
}

func (o *Orchestrator) resolveProjects(ctx context.Context) error {
	if len(o.snap.Projects) == 0 {
		return nil
	}
	o.progressf("Resolving projects (%d records)...", len(o.snap.Projects))
	spec := kindSpec{
		kind:         snapshot.KindProjects,
		listEndpoint: "/projects",
		createPath:   "/projects",
		keyFn:        func(rec snapshot.Record) string { return rec.Str("identifier") },
		payloadFn:    buildProjectPayload,
	}
	return o.resolveKind(ctx, spec, o.snap.Projects)
}

// resolveRef translates one relation through the identity map. The empty
// result carries the reason, for skip messages.
func (o *Orchestrator) resolveRef(rec snapshot.Record, rel, kind string) (int64, string) {
	ref, ok := rec.Ref(rel)
	if !ok {
		if title := rec.LinkTitle(rel); title != "" {
			return 0, fmt.Sprintf("%s link %q is dangling", rel, title)
		}
		return 0, fmt.Sprintf("no %s link", rel)
	}
	newID, ok := o.ids.Resolve(kind, ref.ID)
	if !ok {
		return 0, fmt.Sprintf("%s %d (%s) unresolved", rel, ref.ID, ref.Title)
	}
	return newID, ""
}
