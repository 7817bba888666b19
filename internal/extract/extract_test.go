package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"testing"

	"github.com/mterres/opmigrate/internal/op"
	"github.com/mterres/opmigrate/internal/snapshot"
)

// fakeSource serves canned collections and documents.
type fakeSource struct {
	collections map[string][]snapshot.Record
	documents   map[string]snapshot.Record
	payloads    map[string][]byte
	queries     map[string]url.Values
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		collections: make(map[string][]snapshot.Record),
		documents:   make(map[string]snapshot.Record),
		payloads:    make(map[string][]byte),
		queries:     make(map[string]url.Values),
	}
}

func (f *fakeSource) add(endpoint, doc string) {
	var rec snapshot.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		panic(err)
	}
	f.collections[endpoint] = append(f.collections[endpoint], rec)
}

func (f *fakeSource) put(path, doc string) {
	var rec snapshot.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		panic(err)
	}
	f.documents[path] = rec
}

func (f *fakeSource) Collect(_ context.Context, endpoint string, query url.Values) ([]snapshot.Record, error) {
	f.queries[endpoint] = query
	return f.collections[endpoint], nil
}

func (f *fakeSource) Get(_ context.Context, path string) (snapshot.Record, error) {
	rec, ok := f.documents[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, op.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeSource) Create(_ context.Context, _ string, _ any) (snapshot.Record, error) {
	return nil, fmt.Errorf("extraction must not create anything")
}

func (f *fakeSource) Upload(_ context.Context, _, _, _ string, _ []byte) (snapshot.Record, error) {
	return nil, fmt.Errorf("extraction must not upload anything")
}

func (f *fakeSource) Download(_ context.Context, href string) ([]byte, error) {
	data, ok := f.payloads[href]
	if !ok {
		return nil, fmt.Errorf("%s: %w", href, op.ErrNotFound)
	}
	return data, nil
}

func populatedSource() *fakeSource {
	src := newFakeSource()
	src.add("/types", `{"id": 1, "name": "Task"}`)
	src.add("/users", `{"id": 4, "login": "alice"}`)
	src.add("/projects", `{"id": 3, "identifier": "acme"}`)
	src.put("/projects/3", `{"id": 3, "identifier": "acme", "name": "Acme"}`)
	src.add("/projects/3/memberships", `{"id": 30}`)
	src.add("/projects/3/versions", `{"id": 12, "name": "v1.0"}`)
	src.add("/projects/3/forums", `{"id": 70, "name": "General"}`)
	src.add("/forums/70/messages", `{"id": 71, "subject": "Welcome"}`)
	src.add("/work_packages", `{"id": 42, "subject": "Fix login"}`)
	src.put("/work_packages/42", `{
		"id": 42, "subject": "Fix login",
		"_links": {"project": {"href": "/api/v3/projects/3", "title": "Acme"}},
		"_embedded": {"attachments": {"elements": [{
			"id": 20, "fileName": "screenshot.png",
			"_links": {"self": {"href": "/api/v3/attachments/20"}}
		}]}}
	}`)
	src.add("/work_packages/42/activities", `{"id": 7, "comment": {"raw": "created"}}`)
	src.payloads["/api/v3/attachments/20/content"] = []byte("png-bytes")
	src.add("/time_entries", `{"id": 8, "spentOn": "2026-03-01", "hours": "PT2H"}`)
	// No /budgets collection: module disabled.
	return src
}

func TestExtractBuildsCompleteSnapshot(t *testing.T) {
	src := populatedSource()
	var progress bytes.Buffer

	s, err := Run(context.Background(), src, Options{Workers: 2, Progress: &progress})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(s.Schemas[snapshot.KindTypes]) != 1 {
		t.Errorf("types = %d, want 1", len(s.Schemas[snapshot.KindTypes]))
	}
	if len(s.Users) != 1 || len(s.Projects) != 1 || len(s.WorkPackages) != 1 || len(s.TimeEntries) != 1 {
		t.Fatalf("collection sizes: users %d projects %d wps %d entries %d",
			len(s.Users), len(s.Projects), len(s.WorkPackages), len(s.TimeEntries))
	}

	project := s.Projects[0]
	if len(project.Embedded("memberships")) != 1 || len(project.Embedded("versions")) != 1 {
		t.Error("project sub-resources not embedded")
	}
	forums := project.Embedded("forums")
	if len(forums) != 1 || len(forums[0].Embedded("messages")) != 1 {
		t.Errorf("forums with messages not embedded: %+v", forums)
	}

	wp := s.WorkPackages[0]
	if len(wp.Embedded("activities")) != 1 {
		t.Error("work package activity journal not embedded")
	}

	key := snapshot.AttachmentKey{WorkPackageID: 42, AttachmentID: 20}
	if string(s.Files[key]) != "png-bytes" {
		t.Errorf("attachment payload = %q", s.Files[key])
	}

	// Disabled budgets module yields an empty collection, not a failure.
	if len(s.Budgets) != 0 {
		t.Errorf("budgets = %d, want 0", len(s.Budgets))
	}
}

func TestExtractDateFilterOption(t *testing.T) {
	src := populatedSource()
	_, err := Run(context.Background(), src, Options{
		Workers:   1,
		SpentFrom: "2026-03-01",
		SpentTo:   "2026-03-31",
		Progress:  io.Discard,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	filters := src.queries["/time_entries"].Get("filters")
	if filters != `[{"spentOn":{"operator":"<>d","values":["2026-03-01","2026-03-31"]}}]` {
		t.Errorf("time entry filters = %q", filters)
	}

	_, err = Run(context.Background(), src, Options{Workers: 1, Progress: io.Discard})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.queries["/time_entries"].Get("filters") != "" {
		t.Error("unfiltered run still sent a filters expression")
	}
}
