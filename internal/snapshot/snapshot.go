package snapshot

// Entity kind names, matching the API v3 collection endpoints they are
// fetched from. Schema kinds are the global configuration collections backed
// up before any project data.
const (
	KindTypes        = "types"
	KindStatuses     = "statuses"
	KindPriorities   = "priorities"
	KindRoles        = "roles"
	KindCustomFields = "custom_fields"
	KindGroups       = "groups"
	KindQueries      = "queries"
	KindNews         = "news"
	KindCostTypes    = "cost_types"

	KindUsers        = "users"
	KindProjects     = "projects"
	KindMemberships  = "memberships"
	KindVersions     = "versions"
	KindCategories   = "categories"
	KindWorkPackages = "work_packages"
	KindAttachments  = "attachments"
	KindTimeEntries  = "time_entries"
	KindBudgets      = "budgets"
	KindActivities   = "activities"
)

// SchemaKinds lists the global schema collections in backup order.
var SchemaKinds = []string{
	KindTypes, KindStatuses, KindPriorities,
	KindRoles, KindCustomFields, KindGroups,
	KindQueries, KindNews,
	KindCostTypes,
}

// AttachmentKey addresses an attachment payload by its owning work package's
// old id plus the attachment's old id, so restore can locate the bytes
// without knowing the work package's new identifier.
type AttachmentKey struct {
	WorkPackageID int64
	AttachmentID  int64
}

// Snapshot is a point-in-time capture of a source instance's entity graph.
// It is built once per extraction run and never mutated afterward; the
// archive codec serializes it and the restore orchestrator only reads it.
//
// Project records carry their memberships, versions, categories, wiki pages
// and forums under _embedded; work package records carry their activity
// journal and attachment metadata the same way.
type Snapshot struct {
	Schemas      map[string][]Record
	Users        []Record
	Projects     []Record
	WorkPackages []Record
	TimeEntries  []Record
	Budgets      []Record

	// Files holds attachment payloads. A nil value means the metadata was
	// captured but the backing file is missing from the archive.
	Files map[AttachmentKey][]byte
}

// New returns an empty snapshot with its maps initialized.
func New() *Snapshot {
	return &Snapshot{
		Schemas: make(map[string][]Record),
		Files:   make(map[AttachmentKey][]byte),
	}
}

// Counts returns per-collection record counts, used by the archive manifest
// and progress output.
func (s *Snapshot) Counts() map[string]int {
	counts := map[string]int{
		KindUsers:        len(s.Users),
		KindProjects:     len(s.Projects),
		KindWorkPackages: len(s.WorkPackages),
		KindTimeEntries:  len(s.TimeEntries),
		KindBudgets:      len(s.Budgets),
	}
	for kind, records := range s.Schemas {
		counts["schemas/"+kind] = len(records)
	}
	return counts
}
