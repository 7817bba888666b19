// Package extract walks a source instance and builds the snapshot: global
// schema collections, users, projects with their sub-resources, work
// packages with activity history and attachments, time entries and budgets.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mterres/opmigrate/internal/op"
	"github.com/mterres/opmigrate/internal/snapshot"
)

// Options tunes an extraction run.
type Options struct {
	// Workers bounds concurrent per-work-package detail fetches. Default 4.
	Workers int
	// SpentFrom/SpentTo restrict the time-entry fetch to a date range
	// (YYYY-MM-DD). Empty means unfiltered. The divergent filtered and
	// unfiltered script variants collapse into this one option.
	SpentFrom string
	SpentTo   string
	// Progress receives human-readable progress lines. Default os.Stdout.
	Progress io.Writer
}

// Run extracts the full entity graph from the instance behind conn. The
// returned snapshot is complete and immutable; the caller owns it until it
// hands it to the archive codec.
func Run(ctx context.Context, conn op.Connection, opts Options) (*snapshot.Snapshot, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	out := opts.Progress
	if out == nil {
		out = os.Stdout
	}
	s := snapshot.New()

	fmt.Fprintln(out, "[1/6] Backing up global schema collections...")
	for _, kind := range snapshot.SchemaKinds {
		records, err := conn.Collect(ctx, "/"+kind, nil)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", kind, err)
		}
		s.Schemas[kind] = records
		if len(records) > 0 {
			fmt.Fprintf(out, "  - %s: %d records\n", kind, len(records))
		}
	}

	fmt.Fprintln(out, "[2/6] Backing up users...")
	users, err := conn.Collect(ctx, "/users", nil)
	if err != nil {
		return nil, fmt.Errorf("extract users: %w", err)
	}
	s.Users = users
	fmt.Fprintf(out, "  - %d users\n", len(users))

	fmt.Fprintln(out, "[3/6] Backing up projects...")
	if err := extractProjects(ctx, conn, s, out); err != nil {
		return nil, err
	}

	fmt.Fprintln(out, "[4/6] Backing up work packages...")
	if err := extractWorkPackages(ctx, conn, s, opts.Workers, out); err != nil {
		return nil, err
	}

	fmt.Fprintln(out, "[5/6] Backing up time entries...")
	query := url.Values{}
	if opts.SpentFrom != "" && opts.SpentTo != "" {
		query.Set("filters", fmt.Sprintf(
			`[{"spentOn":{"operator":"<>d","values":["%s","%s"]}}]`, opts.SpentFrom, opts.SpentTo))
	}
	entries, err := conn.Collect(ctx, "/time_entries", query)
	if err != nil {
		return nil, fmt.Errorf("extract time entries: %w", err)
	}
	s.TimeEntries = entries
	fmt.Fprintf(out, "  - %d time entries\n", len(entries))

	fmt.Fprintln(out, "[6/6] Backing up budgets...")
	budgets, err := conn.Collect(ctx, "/budgets", nil)
	if err != nil {
		return nil, fmt.Errorf("extract budgets: %w", err)
	}
	s.Budgets = budgets
	if len(budgets) == 0 {
		fmt.Fprintln(out, "  - budgets module disabled or empty")
	} else {
		fmt.Fprintf(out, "  - %d budgets\n", len(budgets))
	}

	return s, nil
}

// extractProjects fetches each project's full document and nests its
// memberships, versions, categories, wiki pages and forums (with messages)
// under _embedded, matching the archive layout.
func extractProjects(ctx context.Context, conn op.Connection, s *snapshot.Snapshot, out io.Writer) error {
	projects, err := conn.Collect(ctx, "/projects", nil)
	if err != nil {
		return fmt.Errorf("extract projects: %w", err)
	}
	fmt.Fprintf(out, "  - %d projects\n", len(projects))

	for _, summary := range projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := summary.ID()
		project, err := conn.Get(ctx, fmt.Sprintf("/projects/%d", id))
		if err != nil {
			if op.IsNotFound(err) {
				fmt.Fprintf(os.Stderr, "Warning: project %d vanished mid-extraction, skipping\n", id)
				continue
			}
			return fmt.Errorf("extract project %d: %w", id, err)
		}

		for _, sub := range []string{"memberships", "versions", "categories", "wiki_pages"} {
			records, err := conn.Collect(ctx, fmt.Sprintf("/projects/%d/%s", id, sub), nil)
			if err != nil {
				return fmt.Errorf("extract project %d %s: %w", id, sub, err)
			}
			project.SetEmbedded(sub, records)
		}

		forums, err := conn.Collect(ctx, fmt.Sprintf("/projects/%d/forums", id), nil)
		if err != nil {
			return fmt.Errorf("extract project %d forums: %w", id, err)
		}
		for _, forum := range forums {
			messages, err := conn.Collect(ctx, fmt.Sprintf("/forums/%d/messages", forum.ID()), nil)
			if err != nil {
				return fmt.Errorf("extract forum %d messages: %w", forum.ID(), err)
			}
			forum.SetEmbedded("messages", messages)
		}
		project.SetEmbedded("forums", forums)

		s.Projects = append(s.Projects, project)
	}
	return nil
}

// extractWorkPackages fetches each work package's full document plus its
// activity journal, and downloads attachment payloads content-addressed by
// (work package id, attachment id). Detail fetches are independent, so they
// run on a bounded worker pool; the snapshot is assembled in list order
// afterward.
func extractWorkPackages(ctx context.Context, conn op.Connection, s *snapshot.Snapshot, workers int, out io.Writer) error {
	summaries, err := conn.Collect(ctx, "/work_packages", nil)
	if err != nil {
		return fmt.Errorf("extract work packages: %w", err)
	}
	fmt.Fprintf(out, "  - %d work packages\n", len(summaries))

	details := make([]snapshot.Record, len(summaries))
	var mu sync.Mutex
	files := make(map[snapshot.AttachmentKey][]byte)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, summary := range summaries {
		if gctx.Err() != nil {
			break
		}
		i, id := i, summary.ID()
		g.Go(func() error {
			wp, err := conn.Get(gctx, fmt.Sprintf("/work_packages/%d", id))
			if err != nil {
				if op.IsNotFound(err) {
					fmt.Fprintf(os.Stderr, "Warning: work package %d vanished mid-extraction, skipping\n", id)
					return nil
				}
				return fmt.Errorf("extract work package %d: %w", id, err)
			}

			activities, err := conn.Collect(gctx, fmt.Sprintf("/work_packages/%d/activities", id), nil)
			if err != nil {
				return fmt.Errorf("extract work package %d activities: %w", id, err)
			}
			wp.SetEmbedded("activities", activities)

			for _, att := range wp.Embedded("attachments") {
				key := snapshot.AttachmentKey{WorkPackageID: id, AttachmentID: att.ID()}
				var data []byte
				if href := attachmentContentHref(att); href != "" {
					data, err = conn.Download(gctx, href)
					if err != nil {
						fmt.Fprintf(os.Stderr, "Warning: attachment %d of work package %d not downloadable: %v\n",
							att.ID(), id, err)
						data = nil
					}
				}
				mu.Lock()
				files[key] = data
				mu.Unlock()
			}

			details[i] = wp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, wp := range details {
		if wp != nil {
			s.WorkPackages = append(s.WorkPackages, wp)
		}
	}
	for key, data := range files {
		s.Files[key] = data
	}
	return nil
}

// attachmentContentHref prefers the explicit downloadLocation link and falls
// back to the self href plus /content, which is how the API serves bytes.
func attachmentContentHref(att snapshot.Record) string {
	links, ok := att["_links"].(map[string]any)
	if !ok {
		return ""
	}
	if dl, ok := links["downloadLocation"].(map[string]any); ok {
		if href, _ := dl["href"].(string); href != "" {
			return href
		}
	}
	if self, ok := links["self"].(map[string]any); ok {
		if href, _ := self["href"].(string); href != "" {
			return href + "/content"
		}
	}
	return ""
}
