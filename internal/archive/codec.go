// Package archive converts a snapshot to and from its portable on-disk form:
// one JSON document per entity collection, one file per attachment payload,
// plus a yaml manifest. An archive is a directory or its zip equivalent.
package archive

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mterres/opmigrate/internal/snapshot"
)

// Manifest describes an archive: when it was taken and how many records each
// collection holds. It is advisory; Load never requires it.
type Manifest struct {
	Tool      string         `yaml:"tool"`
	CreatedAt time.Time      `yaml:"created_at"`
	Counts    map[string]int `yaml:"counts"`
}

const manifestName = "manifest.yaml"

// Save writes the snapshot under dir using the fixed archive layout:
//
//	schemas/<kind>.json
//	users/users.json
//	projects/<id>_<identifier>/project_details.json
//	work_packages/wp_<id>.json
//	attachments/<work_package_id>/<attachment_id>_<filename>
//	time_entries/time_entries.json
//	budgets/budgets.json
//	manifest.yaml
//
// Attachment paths encode the owning work package's old id so restore can
// find payloads without re-parsing any JSON.
func Save(s *snapshot.Snapshot, dir string) error {
	for _, sub := range []string{"schemas", "users", "projects", "work_packages", "attachments", "time_entries", "budgets"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return fmt.Errorf("create archive layout: %w", err)
		}
	}

	for kind, records := range s.Schemas {
		if err := writeJSON(filepath.Join(dir, "schemas", kind+".json"), records); err != nil {
			return err
		}
	}
	if err := writeJSON(filepath.Join(dir, "users", "users.json"), s.Users); err != nil {
		return err
	}
	for _, project := range s.Projects {
		name := fmt.Sprintf("%d_%s", project.ID(), project.Str("identifier"))
		projectDir := filepath.Join(dir, "projects", name)
		if err := os.MkdirAll(projectDir, 0755); err != nil {
			return fmt.Errorf("create project dir: %w", err)
		}
		if err := writeJSON(filepath.Join(projectDir, "project_details.json"), project); err != nil {
			return err
		}
	}
	for _, wp := range s.WorkPackages {
		if err := writeJSON(filepath.Join(dir, "work_packages", fmt.Sprintf("wp_%d.json", wp.ID())), wp); err != nil {
			return err
		}
		for _, att := range wp.Embedded("attachments") {
			key := snapshot.AttachmentKey{WorkPackageID: wp.ID(), AttachmentID: att.ID()}
			data, ok := s.Files[key]
			if !ok || data == nil {
				continue
			}
			attDir := filepath.Join(dir, "attachments", strconv.FormatInt(wp.ID(), 10))
			if err := os.MkdirAll(attDir, 0755); err != nil {
				return fmt.Errorf("create attachment dir: %w", err)
			}
			fileName := fmt.Sprintf("%d_%s", att.ID(), sanitizeFileName(att.Str("fileName")))
			if err := os.WriteFile(filepath.Join(attDir, fileName), data, 0644); err != nil {
				return fmt.Errorf("write attachment %d/%d: %w", wp.ID(), att.ID(), err)
			}
		}
	}
	if err := writeJSON(filepath.Join(dir, "time_entries", "time_entries.json"), s.TimeEntries); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "budgets", "budgets.json"), s.Budgets); err != nil {
		return err
	}

	return writeManifest(dir, &Manifest{
		Tool:      "opmigrate",
		CreatedAt: time.Now().UTC(),
		Counts:    s.Counts(),
	})
}

// Load reads an archive from a directory or a .zip and reconstructs the
// snapshot. Attachments whose backing file is absent are kept with a nil
// payload rather than failing the load.
//
// The on-disk layout spreads projects and work packages over per-entity
// files, so their original fetch order is not stored; Load canonicalizes
// both collections to ascending id order. Restore semantics do not depend
// on collection order, only on the per-kind phase sequence.
func Load(archivePath string) (*snapshot.Snapshot, error) {
	if strings.HasSuffix(archivePath, ".zip") {
		return loadZip(archivePath)
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open archive: %s is neither a directory nor a .zip", archivePath)
	}
	return loadFS(os.DirFS(archivePath))
}

func loadFS(fsys fs.FS) (*snapshot.Snapshot, error) {
	s := snapshot.New()

	schemaEntries, err := fs.ReadDir(fsys, "schemas")
	if err == nil {
		for _, entry := range schemaEntries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			kind := strings.TrimSuffix(entry.Name(), ".json")
			var records []snapshot.Record
			if err := readJSON(fsys, path.Join("schemas", entry.Name()), &records); err != nil {
				return nil, err
			}
			s.Schemas[kind] = records
		}
	}

	if err := readJSONIfPresent(fsys, "users/users.json", &s.Users); err != nil {
		return nil, err
	}
	if err := readJSONIfPresent(fsys, "time_entries/time_entries.json", &s.TimeEntries); err != nil {
		return nil, err
	}
	if err := readJSONIfPresent(fsys, "budgets/budgets.json", &s.Budgets); err != nil {
		return nil, err
	}

	projectDirs, err := fs.ReadDir(fsys, "projects")
	if err == nil {
		sort.Slice(projectDirs, func(i, j int) bool { return dirID(projectDirs[i].Name()) < dirID(projectDirs[j].Name()) })
		for _, entry := range projectDirs {
			if !entry.IsDir() {
				continue
			}
			var project snapshot.Record
			if err := readJSON(fsys, path.Join("projects", entry.Name(), "project_details.json"), &project); err != nil {
				return nil, err
			}
			s.Projects = append(s.Projects, project)
		}
	}

	wpEntries, err := fs.ReadDir(fsys, "work_packages")
	if err == nil {
		sort.Slice(wpEntries, func(i, j int) bool { return wpFileID(wpEntries[i].Name()) < wpFileID(wpEntries[j].Name()) })
		for _, entry := range wpEntries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			var wp snapshot.Record
			if err := readJSON(fsys, path.Join("work_packages", entry.Name()), &wp); err != nil {
				return nil, err
			}
			s.WorkPackages = append(s.WorkPackages, wp)
		}
	}

	// Register every attachment from metadata first, then fill in payloads
	// from whatever files survived. Missing files stay nil.
	for _, wp := range s.WorkPackages {
		for _, att := range wp.Embedded("attachments") {
			key := snapshot.AttachmentKey{WorkPackageID: wp.ID(), AttachmentID: att.ID()}
			s.Files[key] = nil
			name := fmt.Sprintf("%d_%s", att.ID(), sanitizeFileName(att.Str("fileName")))
			data, err := fs.ReadFile(fsys, path.Join("attachments", strconv.FormatInt(wp.ID(), 10), name))
			if err == nil {
				s.Files[key] = data
			}
		}
	}

	return s, nil
}

// ReadManifest returns the archive's manifest, or nil if the archive
// predates manifests.
func ReadManifest(archivePath string) (*Manifest, error) {
	var data []byte
	var err error
	if strings.HasSuffix(archivePath, ".zip") {
		fsys, closeFn, zerr := openZip(archivePath)
		if zerr != nil {
			return nil, zerr
		}
		defer closeFn()
		data, err = fs.ReadFile(fsys, manifestName)
	} else {
		data, err = os.ReadFile(filepath.Join(archivePath, manifestName))
	}
	if err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "file does not exist") {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func writeManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp, err := os.CreateTemp(dir, manifestName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	_ = tmp.Close()
	if err := os.Rename(tmpPath, filepath.Join(dir, manifestName)); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

func writeJSON(filePath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(filePath), err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filePath, err)
	}
	return nil
}

func readJSON(fsys fs.FS, name string, v any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func readJSONIfPresent(fsys fs.FS, name string, v any) error {
	if _, err := fs.Stat(fsys, name); err != nil {
		return nil
	}
	return readJSON(fsys, name, v)
}

// dirID extracts the leading numeric id from a "<id>_<identifier>" dir name.
func dirID(name string) int64 {
	i := strings.Index(name, "_")
	if i < 0 {
		i = len(name)
	}
	id, _ := strconv.ParseInt(name[:i], 10, 64)
	return id
}

// wpFileID extracts the id from a "wp_<id>.json" file name.
func wpFileID(name string) int64 {
	name = strings.TrimSuffix(strings.TrimPrefix(name, "wp_"), ".json")
	id, _ := strconv.ParseInt(name, 10, 64)
	return id
}

// sanitizeFileName strips path separators so a hostile fileName field cannot
// escape the attachments directory.
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "attachment"
	}
	return name
}
