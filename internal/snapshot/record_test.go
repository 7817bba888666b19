package snapshot

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, doc string) Record {
	t.Helper()
	var rec Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return rec
}

func TestParseHref(t *testing.T) {
	tests := []struct {
		href     string
		wantKind string
		wantID   int64
		ok       bool
	}{
		{"/api/v3/projects/12", "projects", 12, true},
		{"/api/v3/work_packages/1528", "work_packages", 1528, true},
		{"/api/v3/time_entries/activities/3", "activities", 3, true},
		{"/api/v3/projects", "", 0, false},
		{"urn:openproject-org:api:v3:undisclosed", "", 0, false},
		{"", "", 0, false},
	}
	for _, tt := range tests {
		kind, id, ok := ParseHref(tt.href)
		if ok != tt.ok || kind != tt.wantKind || id != tt.wantID {
			t.Errorf("ParseHref(%q) = (%q, %d, %v), want (%q, %d, %v)",
				tt.href, kind, id, ok, tt.wantKind, tt.wantID, tt.ok)
		}
	}
}

func TestRecordRefs(t *testing.T) {
	rec := decode(t, `{
		"id": 42,
		"subject": "Fix login",
		"description": {"format": "markdown", "raw": "details"},
		"_links": {
			"project": {"href": "/api/v3/projects/3", "title": "Acme"},
			"assignee": {"href": null},
			"roles": [
				{"href": "/api/v3/roles/5", "title": "Member"},
				{"href": "/api/v3/roles/8", "title": "Reader"}
			]
		}
	}`)

	if rec.ID() != 42 {
		t.Errorf("ID = %d, want 42", rec.ID())
	}
	if rec.Str("subject") != "Fix login" {
		t.Errorf("subject = %q", rec.Str("subject"))
	}
	if rec.RawText("description") != "details" {
		t.Errorf("description = %q", rec.RawText("description"))
	}

	ref, ok := rec.Ref("project")
	if !ok || ref.Kind != "projects" || ref.ID != 3 || ref.Title != "Acme" {
		t.Errorf("project ref = %+v ok=%v", ref, ok)
	}

	if _, ok := rec.Ref("assignee"); ok {
		t.Error("null assignee href resolved to a ref")
	}
	if _, ok := rec.Ref("status"); ok {
		t.Error("absent relation resolved to a ref")
	}

	roles := rec.Refs("roles")
	if len(roles) != 2 || roles[0].ID != 5 || roles[1].ID != 8 {
		t.Errorf("roles = %+v", roles)
	}

	// Single-object relations are usable through Refs too.
	if refs := rec.Refs("project"); len(refs) != 1 || refs[0].ID != 3 {
		t.Errorf("Refs(project) = %+v", refs)
	}
}

func TestDanglingRefPreserved(t *testing.T) {
	// A work package whose project was deleted before backup keeps the raw
	// link; the title is still reportable.
	rec := decode(t, `{
		"id": 9,
		"_links": {"project": {"href": "/api/v3/projects/oops", "title": "Ghost"}}
	}`)
	if _, ok := rec.Ref("project"); ok {
		t.Error("unparseable href resolved to a ref")
	}
	if rec.LinkTitle("project") != "Ghost" {
		t.Errorf("LinkTitle = %q, want Ghost", rec.LinkTitle("project"))
	}

	// The raw document still carries the link verbatim.
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var again Record
	if err := json.Unmarshal(data, &again); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if again.LinkTitle("project") != "Ghost" {
		t.Error("dangling link lost on round trip")
	}
}

func TestEmbedded(t *testing.T) {
	rec := decode(t, `{
		"id": 1,
		"_embedded": {
			"memberships": [{"id": 10}, {"id": 11}],
			"attachments": {"elements": [{"id": 20}]}
		}
	}`)

	ms := rec.Embedded("memberships")
	if len(ms) != 2 || ms[0].ID() != 10 {
		t.Errorf("memberships = %+v", ms)
	}
	// Collection-document shape.
	atts := rec.Embedded("attachments")
	if len(atts) != 1 || atts[0].ID() != 20 {
		t.Errorf("attachments = %+v", atts)
	}

	rec.SetEmbedded("versions", []Record{{"id": float64(30)}})
	vs := rec.Embedded("versions")
	if len(vs) != 1 || vs[0].ID() != 30 {
		t.Errorf("versions = %+v", vs)
	}
}
