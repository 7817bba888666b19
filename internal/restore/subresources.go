package restore

import (
	"context"
	"fmt"

	"github.com/mterres/opmigrate/internal/snapshot"
)

// resolveProjectSubresources restores memberships, versions and categories
// for every project that itself resolved. Sub-resources of an unresolved
// project cascade to skipped; the cascade only ever flows forward.
func (o *Orchestrator) resolveProjectSubresources(ctx context.Context) error {
	for _, project := range o.snap.Projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		oldID := project.ID()
		identifier := project.Str("identifier")
		newID, resolved := o.ids.Resolve(snapshot.KindProjects, oldID)

		skipAll := func(kind string, records []snapshot.Record) {
			for _, rec := range records {
				o.recordSkip(kind, rec.ID(), subresourceKey(identifier, rec),
					fmt.Sprintf("project %q unresolved", identifier))
			}
		}
		if !resolved {
			skipAll(snapshot.KindMemberships, project.Embedded("memberships"))
			skipAll(snapshot.KindVersions, project.Embedded("versions"))
			skipAll(snapshot.KindCategories, project.Embedded("categories"))
			continue
		}

		if err := o.resolveMemberships(ctx, project, newID); err != nil {
			return err
		}
		if err := o.resolveVersions(ctx, project, newID); err != nil {
			return err
		}
		if err := o.resolveCategories(ctx, project, newID); err != nil {
			return err
		}
	}
	return nil
}

func subresourceKey(projectIdentifier string, rec snapshot.Record) string {
	name := rec.Str("name")
	if name == "" {
		name = rec.Str("subject")
	}
	if name == "" {
		name = rec.LinkTitle("principal")
	}
	return projectIdentifier + "/" + name
}

// resolveMemberships matches target memberships by principal and creates the
// rest. The principal (user or group) is required; the role set degrades
// gracefully, unresolved roles are omitted rather than blocking creation.
func (o *Orchestrator) resolveMemberships(ctx context.Context, project snapshot.Record, projectNewID int64) error {
	memberships := project.Embedded("memberships")
	if len(memberships) == 0 {
		return nil
	}
	identifier := project.Str("identifier")

	existing, err := o.conn.Collect(ctx, fmt.Sprintf("/projects/%d/memberships", projectNewID), nil)
	if err != nil {
		return fmt.Errorf("fetch target memberships for %q: %w", identifier, err)
	}
	// Index by the principal's href on the target.
	byPrincipal := make(map[string]int64, len(existing))
	for _, m := range existing {
		if ref, ok := m.Ref("principal"); ok {
			byPrincipal[principalHrefFor(ref.Kind, ref.ID)] = m.ID()
		}
	}

	return o.forEach(ctx, memberships, func(ctx context.Context, rec snapshot.Record) {
		key := subresourceKey(identifier, rec)
		ref, ok := rec.Ref("principal")
		if !ok {
			o.recordSkip(snapshot.KindMemberships, rec.ID(), key, "no principal link")
			return
		}
		principalKind := snapshot.KindUsers
		if ref.Kind == "groups" {
			principalKind = snapshot.KindGroups
		}
		principalNewID, ok := o.ids.Resolve(principalKind, ref.ID)
		if !ok {
			o.recordSkip(snapshot.KindMemberships, rec.ID(), key,
				fmt.Sprintf("principal %s %d (%s) unresolved", principalKind, ref.ID, ref.Title))
			return
		}
		href := principalHrefFor(ref.Kind, principalNewID)
		if newID, ok := byPrincipal[href]; ok {
			o.recordMatch(snapshot.KindMemberships, rec.ID(), newID, key)
			return
		}

		var roleHrefs []string
		for _, role := range rec.Refs("roles") {
			if newRoleID, ok := o.ids.Resolve(snapshot.KindRoles, role.ID); ok {
				roleHrefs = append(roleHrefs, roleHref(newRoleID))
			}
		}
		created, err := o.conn.Create(ctx, "/memberships",
			buildMembershipPayload(projectNewID, href, roleHrefs))
		if err != nil {
			o.recordFailure(snapshot.KindMemberships, rec.ID(), key, err)
			return
		}
		o.recordCreate(snapshot.KindMemberships, rec.ID(), created.ID(), key)
	})
}

func principalHrefFor(kind string, id int64) string {
	if kind == "groups" {
		return groupHref(id)
	}
	return userHref(id)
}

func (o *Orchestrator) resolveVersions(ctx context.Context, project snapshot.Record, projectNewID int64) error {
	return o.resolveNamedSubresource(ctx, project, projectNewID,
		snapshot.KindVersions, "versions", buildVersionPayload)
}

func (o *Orchestrator) resolveCategories(ctx context.Context, project snapshot.Record, projectNewID int64) error {
	return o.resolveNamedSubresource(ctx, project, projectNewID,
		snapshot.KindCategories, "categories", buildCategoryPayload)
}

// resolveNamedSubresource handles the per-project kinds whose natural key is
// (project, name): versions and categories.
func (o *Orchestrator) resolveNamedSubresource(ctx context.Context, project snapshot.Record, projectNewID int64,
	kind, segment string, payloadFn func(snapshot.Record) map[string]any) error {

	records := project.Embedded(segment)
	if len(records) == 0 {
		return nil
	}
	identifier := project.Str("identifier")
	endpoint := fmt.Sprintf("/projects/%d/%s", projectNewID, segment)

	index, err := o.fetchIndex(ctx, endpoint, keyName)
	if err != nil {
		return fmt.Errorf("fetch target %s for %q: %w", segment, identifier, err)
	}

	return o.forEach(ctx, records, func(ctx context.Context, rec snapshot.Record) {
		key := subresourceKey(identifier, rec)
		if newID, ok := index[rec.Str("name")]; ok {
			o.recordMatch(kind, rec.ID(), newID, key)
			return
		}
		created, err := o.conn.Create(ctx, endpoint, payloadFn(rec))
		if err != nil {
			o.recordFailure(kind, rec.ID(), key, err)
			return
		}
		o.recordCreate(kind, rec.ID(), created.ID(), key)
	})
}

// resolveBudgets restores budgets last; each depends only on its project.
func (o *Orchestrator) resolveBudgets(ctx context.Context) error {
	if len(o.snap.Budgets) == 0 {
		return nil
	}
	o.progressf("Resolving budgets (%d records)...", len(o.snap.Budgets))

	existing, err := o.conn.Collect(ctx, "/budgets", nil)
	if err != nil {
		return fmt.Errorf("fetch target budgets: %w", err)
	}
	type budgetKey struct {
		projectID int64
		subject   string
	}
	index := make(map[budgetKey]int64, len(existing))
	for _, b := range existing {
		if ref, ok := b.Ref("project"); ok {
			index[budgetKey{ref.ID, b.Str("subject")}] = b.ID()
		}
	}

	return o.forEach(ctx, o.snap.Budgets, func(ctx context.Context, rec snapshot.Record) {
		subject := rec.Str("subject")
		projectNewID, reason := o.resolveRef(rec, "project", snapshot.KindProjects)
		if reason != "" {
			o.recordSkip(snapshot.KindBudgets, rec.ID(), subject, reason)
			return
		}
		if newID, ok := index[budgetKey{projectNewID, subject}]; ok {
			o.recordMatch(snapshot.KindBudgets, rec.ID(), newID, subject)
			return
		}
		created, err := o.conn.Create(ctx, fmt.Sprintf("/projects/%d/budgets", projectNewID),
			buildBudgetPayload(rec))
		if err != nil {
			o.recordFailure(snapshot.KindBudgets, rec.ID(), subject, err)
			return
		}
		o.recordCreate(snapshot.KindBudgets, rec.ID(), created.ID(), subject)
	})
}
