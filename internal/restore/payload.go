package restore

import (
	"fmt"

	"github.com/mterres/opmigrate/internal/snapshot"
)

// href builders for the target's API. The identity map deals in numeric ids;
// creation payloads express relations as API v3 hrefs.

func projectHref(id int64) string     { return fmt.Sprintf("/api/v3/projects/%d", id) }
func userHref(id int64) string        { return fmt.Sprintf("/api/v3/users/%d", id) }
func groupHref(id int64) string       { return fmt.Sprintf("/api/v3/groups/%d", id) }
func typeHref(id int64) string        { return fmt.Sprintf("/api/v3/types/%d", id) }
func statusHref(id int64) string      { return fmt.Sprintf("/api/v3/statuses/%d", id) }
func priorityHref(id int64) string    { return fmt.Sprintf("/api/v3/priorities/%d", id) }
func roleHref(id int64) string        { return fmt.Sprintf("/api/v3/roles/%d", id) }
func workPackageHref(id int64) string { return fmt.Sprintf("/api/v3/work_packages/%d", id) }
func activityHref(id int64) string    { return fmt.Sprintf("/api/v3/time_entries/activities/%d", id) }

// copyField copies a scalar field from src into payload when present.
func copyField(payload map[string]any, src snapshot.Record, keys ...string) {
	for _, key := range keys {
		if v, ok := src[key]; ok && v != nil {
			payload[key] = v
		}
	}
}

// copyFormattable copies a {format, raw} field such as description.
func copyFormattable(payload map[string]any, src snapshot.Record, key string) {
	if raw := src.RawText(key); raw != "" {
		payload[key] = map[string]any{"format": "markdown", "raw": raw}
	}
}

func buildUserPayload(rec snapshot.Record) map[string]any {
	payload := map[string]any{
		"login":  rec.Str("login"),
		"status": "active",
	}
	copyField(payload, rec, "email", "firstName", "lastName", "language", "admin")
	return payload
}

func buildProjectPayload(rec snapshot.Record) map[string]any {
	payload := map[string]any{
		"name":       rec.Str("name"),
		"identifier": rec.Str("identifier"),
	}
	copyField(payload, rec, "public", "active")
	copyFormattable(payload, rec, "description")
	return payload
}

func buildVersionPayload(rec snapshot.Record) map[string]any {
	payload := map[string]any{"name": rec.Str("name")}
	copyField(payload, rec, "status", "startDate", "endDate")
	copyFormattable(payload, rec, "description")
	return payload
}

func buildCategoryPayload(rec snapshot.Record) map[string]any {
	return map[string]any{"name": rec.Str("name")}
}

func buildBudgetPayload(rec snapshot.Record) map[string]any {
	payload := map[string]any{"subject": rec.Str("subject")}
	copyField(payload, rec, "fixedDate")
	copyFormattable(payload, rec, "description")
	return payload
}

func buildMembershipPayload(projectID int64, principalHref string, roleHrefs []string) map[string]any {
	links := map[string]any{
		"project":   map[string]any{"href": projectHref(projectID)},
		"principal": map[string]any{"href": principalHref},
	}
	if len(roleHrefs) > 0 {
		roles := make([]any, len(roleHrefs))
		for i, href := range roleHrefs {
			roles[i] = map[string]any{"href": href}
		}
		links["roles"] = roles
	}
	return map[string]any{"_links": links}
}

// buildWorkPackagePayload builds the creation document for one work item.
// Type and status are already resolved by the caller (they are required);
// assignee and priority are optional, 0 means omit.
func buildWorkPackagePayload(rec snapshot.Record, typeID, statusID, assigneeID, priorityID int64) map[string]any {
	payload := map[string]any{
		"subject": rec.Str("subject"),
	}
	copyField(payload, rec, "startDate", "dueDate", "estimatedTime")
	copyFormattable(payload, rec, "description")

	links := map[string]any{
		"type":   map[string]any{"href": typeHref(typeID)},
		"status": map[string]any{"href": statusHref(statusID)},
	}
	if assigneeID != 0 {
		links["assignee"] = map[string]any{"href": userHref(assigneeID)}
	}
	if priorityID != 0 {
		links["priority"] = map[string]any{"href": priorityHref(priorityID)}
	}
	payload["_links"] = links
	return payload
}

func buildTimeEntryPayload(rec snapshot.Record, projectID, wpID, userID, activityID int64) map[string]any {
	payload := map[string]any{}
	copyField(payload, rec, "spentOn", "hours")
	copyFormattable(payload, rec, "comment")
	payload["_links"] = map[string]any{
		"project":     map[string]any{"href": projectHref(projectID)},
		"workPackage": map[string]any{"href": workPackageHref(wpID)},
		"user":        map[string]any{"href": userHref(userID)},
		"activity":    map[string]any{"href": activityHref(activityID)},
	}
	return payload
}
