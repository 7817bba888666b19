package restore

import (
	"context"
	"fmt"
	"strings"

	"github.com/mterres/opmigrate/internal/snapshot"
)

type wpKey struct {
	projectID int64
	subject   string
}

// resolveSchemaRef resolves a work package's link into a schema kind: first
// through the identity map, then by natural-key title against the target's
// own collection. The fallback covers snapshots whose schema collections
// were never captured while the target carries a default configuration.
func (o *Orchestrator) resolveSchemaRef(rec snapshot.Record, rel, kind string, index map[string]int64) (int64, string) {
	if ref, ok := rec.Ref(rel); ok {
		if newID, ok := o.ids.Resolve(kind, ref.ID); ok {
			return newID, ""
		}
		if newID, ok := index[ref.Title]; ok && ref.Title != "" {
			return newID, ""
		}
		return 0, fmt.Sprintf("%s %d (%s) unresolved", rel, ref.ID, ref.Title)
	}
	if title := rec.LinkTitle(rel); title != "" {
		if newID, ok := index[title]; ok {
			return newID, ""
		}
		return 0, fmt.Sprintf("%s link %q is dangling", rel, title)
	}
	return 0, fmt.Sprintf("no %s link", rel)
}

// resolveWorkPackages restores work items. Project, type and status are
// required: if any of them is unresolved the work package is skipped and is
// never created with a guessed reference. Matching reuses a target work
// package with the same subject in the same project, which is what keeps a
// re-run from duplicating items.
func (o *Orchestrator) resolveWorkPackages(ctx context.Context) error {
	if len(o.snap.WorkPackages) == 0 {
		return nil
	}
	o.progressf("Resolving work packages (%d records)...", len(o.snap.WorkPackages))

	existing, err := o.conn.Collect(ctx, "/work_packages", nil)
	if err != nil {
		return fmt.Errorf("fetch target work packages: %w", err)
	}
	index := make(map[wpKey]int64, len(existing))
	for _, wp := range existing {
		if ref, ok := wp.Ref("project"); ok {
			key := wpKey{ref.ID, wp.Str("subject")}
			if _, dup := index[key]; !dup {
				index[key] = wp.ID()
			}
		}
	}

	typeIndex, err := o.fetchIndex(ctx, "/types", keyName)
	if err != nil {
		return err
	}
	statusIndex, err := o.fetchIndex(ctx, "/statuses", keyName)
	if err != nil {
		return err
	}
	priorityIndex, err := o.fetchIndex(ctx, "/priorities", keyName)
	if err != nil {
		return err
	}

	return o.forEach(ctx, o.snap.WorkPackages, func(ctx context.Context, rec snapshot.Record) {
		subject := rec.Str("subject")

		var missing []string
		projectNewID, reason := o.resolveRef(rec, "project", snapshot.KindProjects)
		if reason != "" {
			missing = append(missing, reason)
		}
		typeNewID, reason := o.resolveSchemaRef(rec, "type", snapshot.KindTypes, typeIndex)
		if reason != "" {
			missing = append(missing, reason)
		}
		statusNewID, reason := o.resolveSchemaRef(rec, "status", snapshot.KindStatuses, statusIndex)
		if reason != "" {
			missing = append(missing, reason)
		}
		if len(missing) > 0 {
			o.recordSkip(snapshot.KindWorkPackages, rec.ID(), subject, strings.Join(missing, "; "))
			return
		}

		if newID, ok := index[wpKey{projectNewID, subject}]; ok {
			o.recordMatch(snapshot.KindWorkPackages, rec.ID(), newID, subject)
			return
		}

		// Optional relations degrade gracefully: unresolved assignee or
		// priority is omitted, never guessed.
		var assigneeID, priorityID int64
		if ref, ok := rec.Ref("assignee"); ok {
			assigneeID, _ = o.ids.Resolve(snapshot.KindUsers, ref.ID)
		}
		if ref, ok := rec.Ref("priority"); ok {
			if id, ok := o.ids.Resolve(snapshot.KindPriorities, ref.ID); ok {
				priorityID = id
			} else if id, ok := priorityIndex[ref.Title]; ok && ref.Title != "" {
				priorityID = id
			}
		}

		payload := buildWorkPackagePayload(rec, typeNewID, statusNewID, assigneeID, priorityID)
		created, err := o.conn.Create(ctx, fmt.Sprintf("/projects/%d/work_packages", projectNewID), payload)
		if err != nil {
			o.recordFailure(snapshot.KindWorkPackages, rec.ID(), subject, err)
			return
		}
		o.recordCreate(snapshot.KindWorkPackages, rec.ID(), created.ID(), subject)
	})
}

// resolveAttachments uploads attachment payloads to their new parent work
// packages. The payload is located content-addressed by (old work package
// id, attachment id); an attachment whose parent was skipped is itself
// skipped, and one whose payload never made it into the archive is a
// failure, not a silent omission.
func (o *Orchestrator) resolveAttachments(ctx context.Context) error {
	for _, wp := range o.snap.WorkPackages {
		attachments := wp.Embedded("attachments")
		if len(attachments) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		wpNewID, parentResolved := o.ids.Resolve(snapshot.KindWorkPackages, wp.ID())
		if !parentResolved {
			for _, att := range attachments {
				o.recordSkip(snapshot.KindAttachments, att.ID(), att.Str("fileName"),
					fmt.Sprintf("work package %d unresolved", wp.ID()))
			}
			continue
		}

		// Reuse attachments already present on the target work package, so a
		// second run matches instead of uploading duplicates.
		existing, err := o.conn.Collect(ctx, fmt.Sprintf("/work_packages/%d/attachments", wpNewID), nil)
		if err != nil {
			return fmt.Errorf("fetch target attachments for work package %d: %w", wpNewID, err)
		}
		byName := make(map[string]int64, len(existing))
		for _, att := range existing {
			if name := att.Str("fileName"); name != "" {
				byName[name] = att.ID()
			}
		}

		wpOldID := wp.ID()
		err = o.forEach(ctx, attachments, func(ctx context.Context, att snapshot.Record) {
			fileName := att.Str("fileName")
			if newID, ok := byName[fileName]; ok {
				o.recordMatch(snapshot.KindAttachments, att.ID(), newID, fileName)
				return
			}
			data := o.snap.Files[snapshot.AttachmentKey{WorkPackageID: wpOldID, AttachmentID: att.ID()}]
			if data == nil {
				o.recordFailure(snapshot.KindAttachments, att.ID(), fileName,
					fmt.Errorf("payload missing from archive"))
				return
			}
			created, err := o.conn.Upload(ctx, fmt.Sprintf("/work_packages/%d/attachments", wpNewID),
				fileName, att.Str("contentType"), data)
			if err != nil {
				o.recordFailure(snapshot.KindAttachments, att.ID(), fileName, err)
				return
			}
			o.recordCreate(snapshot.KindAttachments, att.ID(), created.ID(), fileName)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type timeEntryKey struct {
	wpID   int64
	userID int64
	spent  string
	hours  string
}

// resolveTimeEntries restores time records. All four references (project,
// work package, user, activity) are required.
func (o *Orchestrator) resolveTimeEntries(ctx context.Context) error {
	if len(o.snap.TimeEntries) == 0 {
		return nil
	}
	o.progressf("Resolving time entries (%d records)...", len(o.snap.TimeEntries))

	existing, err := o.conn.Collect(ctx, "/time_entries", nil)
	if err != nil {
		return fmt.Errorf("fetch target time entries: %w", err)
	}
	index := make(map[timeEntryKey]int64, len(existing))
	for _, te := range existing {
		wpRef, ok1 := te.Ref("workPackage")
		userRef, ok2 := te.Ref("user")
		if ok1 && ok2 {
			index[timeEntryKey{wpRef.ID, userRef.ID, te.Str("spentOn"), te.Str("hours")}] = te.ID()
		}
	}

	return o.forEach(ctx, o.snap.TimeEntries, func(ctx context.Context, rec snapshot.Record) {
		key := fmt.Sprintf("%s %s", rec.Str("spentOn"), rec.LinkTitle("user"))

		var missing []string
		projectNewID, reason := o.resolveRef(rec, "project", snapshot.KindProjects)
		if reason != "" {
			missing = append(missing, reason)
		}
		wpNewID, reason := o.resolveRef(rec, "workPackage", snapshot.KindWorkPackages)
		if reason != "" {
			missing = append(missing, reason)
		}
		userNewID, reason := o.resolveRef(rec, "user", snapshot.KindUsers)
		if reason != "" {
			missing = append(missing, reason)
		}
		activityNewID, ok := o.activityByName[rec.LinkTitle("activity")]
		if !ok {
			missing = append(missing, fmt.Sprintf("activity %q unresolved", rec.LinkTitle("activity")))
		}
		if len(missing) > 0 {
			o.recordSkip(snapshot.KindTimeEntries, rec.ID(), key, strings.Join(missing, "; "))
			return
		}

		if newID, ok := index[timeEntryKey{wpNewID, userNewID, rec.Str("spentOn"), rec.Str("hours")}]; ok {
			o.recordMatch(snapshot.KindTimeEntries, rec.ID(), newID, key)
			return
		}
		created, err := o.conn.Create(ctx, "/time_entries",
			buildTimeEntryPayload(rec, projectNewID, wpNewID, userNewID, activityNewID))
		if err != nil {
			o.recordFailure(snapshot.KindTimeEntries, rec.ID(), key, err)
			return
		}
		o.recordCreate(snapshot.KindTimeEntries, rec.ID(), created.ID(), key)
	})
}
