package archive

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mterres/opmigrate/internal/snapshot"
)

func record(t *testing.T, doc string) snapshot.Record {
	t.Helper()
	var rec snapshot.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return rec
}

func sampleSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	s := snapshot.New()
	s.Schemas[snapshot.KindTypes] = []snapshot.Record{
		record(t, `{"id": 1, "name": "Task"}`),
		record(t, `{"id": 2, "name": "Bug"}`),
	}
	s.Schemas[snapshot.KindStatuses] = []snapshot.Record{
		record(t, `{"id": 1, "name": "New"}`),
	}
	s.Users = []snapshot.Record{
		record(t, `{"id": 4, "login": "alice", "firstName": "Alice", "lastName": "Santos", "email": "alice@example.com"}`),
	}
	s.Projects = []snapshot.Record{
		record(t, `{
			"id": 3, "identifier": "acme", "name": "Acme",
			"description": {"format": "markdown", "raw": "the project"},
			"_embedded": {"memberships": [], "versions": [{"id": 12, "name": "v1.0"}]}
		}`),
	}
	s.WorkPackages = []snapshot.Record{
		record(t, `{
			"id": 42, "subject": "Fix login",
			"_links": {
				"project": {"href": "/api/v3/projects/3", "title": "Acme"},
				"type": {"href": "/api/v3/types/1", "title": "Task"},
				"status": {"href": "/api/v3/statuses/1", "title": "New"}
			},
			"_embedded": {
				"activities": [{"id": 7, "comment": {"raw": "created"}}],
				"attachments": {"elements": [
					{"id": 20, "fileName": "screenshot.png", "contentType": "image/png"},
					{"id": 21, "fileName": "lost.txt", "contentType": "text/plain"}
				]}
			}
		}`),
	}
	s.TimeEntries = []snapshot.Record{
		record(t, `{
			"id": 8, "hours": "PT2H", "spentOn": "2026-03-01",
			"_links": {
				"project": {"href": "/api/v3/projects/3", "title": "Acme"},
				"workPackage": {"href": "/api/v3/work_packages/42", "title": "Fix login"},
				"user": {"href": "/api/v3/users/4", "title": "Alice Santos"},
				"activity": {"href": "/api/v3/time_entries/activities/2", "title": "Development"}
			}
		}`),
	}
	s.Budgets = []snapshot.Record{
		record(t, `{"id": 5, "subject": "Q1", "_links": {"project": {"href": "/api/v3/projects/3", "title": "Acme"}}}`),
	}
	s.Files[snapshot.AttachmentKey{WorkPackageID: 42, AttachmentID: 20}] = []byte("png-bytes")
	// Metadata present but the backing file was never downloaded.
	s.Files[snapshot.AttachmentKey{WorkPackageID: 42, AttachmentID: 21}] = nil
	return s
}

func TestRoundTripDirectory(t *testing.T) {
	s := sampleSnapshot(t)
	dir := t.TempDir()

	if err := Save(s, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshotsEqual(t, s, loaded)
}

func TestRoundTripZip(t *testing.T) {
	s := sampleSnapshot(t)
	staging := t.TempDir()
	if err := Save(s, staging); err != nil {
		t.Fatalf("Save: %v", err)
	}
	zipPath := filepath.Join(t.TempDir(), "backup.zip")
	if err := ZipDir(staging, zipPath); err != nil {
		t.Fatalf("ZipDir: %v", err)
	}

	loaded, err := Load(zipPath)
	if err != nil {
		t.Fatalf("Load zip: %v", err)
	}
	assertSnapshotsEqual(t, s, loaded)
}

func assertSnapshotsEqual(t *testing.T, want, got *snapshot.Snapshot) {
	t.Helper()
	if !reflect.DeepEqual(want.Schemas, got.Schemas) {
		t.Errorf("schemas differ:\nwant %v\ngot  %v", want.Schemas, got.Schemas)
	}
	if !reflect.DeepEqual(want.Users, got.Users) {
		t.Errorf("users differ")
	}
	if !reflect.DeepEqual(want.Projects, got.Projects) {
		t.Errorf("projects differ:\nwant %v\ngot  %v", want.Projects, got.Projects)
	}
	if !reflect.DeepEqual(want.WorkPackages, got.WorkPackages) {
		t.Errorf("work packages differ")
	}
	if !reflect.DeepEqual(want.TimeEntries, got.TimeEntries) {
		t.Errorf("time entries differ")
	}
	if !reflect.DeepEqual(want.Budgets, got.Budgets) {
		t.Errorf("budgets differ")
	}
	if len(want.Files) != len(got.Files) {
		t.Fatalf("attachment count = %d, want %d", len(got.Files), len(want.Files))
	}
	for key, data := range want.Files {
		gotData, ok := got.Files[key]
		if !ok {
			t.Errorf("attachment %v missing after round trip", key)
			continue
		}
		if (data == nil) != (gotData == nil) {
			t.Errorf("attachment %v payload presence changed", key)
			continue
		}
		if data != nil && sha256.Sum256(data) != sha256.Sum256(gotData) {
			t.Errorf("attachment %v content changed", key)
		}
	}
}

func TestMissingAttachmentFileLoadsAsNil(t *testing.T) {
	s := sampleSnapshot(t)
	dir := t.TempDir()
	if err := Save(s, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "attachments", "42", "20_screenshot.png")); err != nil {
		t.Fatalf("remove attachment file: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load with missing attachment: %v", err)
	}
	key := snapshot.AttachmentKey{WorkPackageID: 42, AttachmentID: 20}
	if data, ok := loaded.Files[key]; !ok || data != nil {
		t.Errorf("Files[%v] = (%v, %v), want (nil, true)", key, data, ok)
	}
}

// Load canonicalizes projects and work packages to ascending id order; the
// per-entity file layout does not record the server's fetch order.
func TestLoadCanonicalizesEntityOrder(t *testing.T) {
	s := snapshot.New()
	s.Projects = []snapshot.Record{
		record(t, `{"id": 9, "identifier": "zeta", "name": "Zeta"}`),
		record(t, `{"id": 3, "identifier": "acme", "name": "Acme"}`),
	}
	s.WorkPackages = []snapshot.Record{
		record(t, `{"id": 50, "subject": "later"}`),
		record(t, `{"id": 42, "subject": "earlier"}`),
	}
	dir := t.TempDir()
	if err := Save(s, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Projects) != 2 || loaded.Projects[0].ID() != 3 || loaded.Projects[1].ID() != 9 {
		t.Errorf("project order after load: %v, %v", loaded.Projects[0].ID(), loaded.Projects[1].ID())
	}
	if len(loaded.WorkPackages) != 2 || loaded.WorkPackages[0].ID() != 42 || loaded.WorkPackages[1].ID() != 50 {
		t.Errorf("work package order after load: %v, %v", loaded.WorkPackages[0].ID(), loaded.WorkPackages[1].ID())
	}
}

func TestReadManifestAbsent(t *testing.T) {
	m, err := ReadManifest(t.TempDir())
	if err != nil {
		t.Fatalf("ReadManifest on manifest-less archive: %v", err)
	}
	if m != nil {
		t.Errorf("manifest = %+v, want nil", m)
	}
}

func TestManifestWritten(t *testing.T) {
	s := sampleSnapshot(t)
	dir := t.TempDir()
	if err := Save(s, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m == nil {
		t.Fatal("manifest missing")
	}
	if m.Counts["projects"] != 1 || m.Counts["work_packages"] != 1 || m.Counts["schemas/types"] != 2 {
		t.Errorf("manifest counts = %v", m.Counts)
	}
}
