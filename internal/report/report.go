// Package report turns time entries into the tabular view the monthly
// spreadsheet is built from: date, user, activity, work package, project,
// hours and costs, with per-work-package costs resolved through a run-scoped
// cache.
package report

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/mterres/opmigrate/internal/op"
	"github.com/mterres/opmigrate/internal/snapshot"
)

// Row is one resolved time record.
type Row struct {
	SpentOn     string
	User        string
	Activity    string
	WorkPackage string
	Comment     string
	LoggedBy    string
	Project     string
	Hours       float64
	Costs       string
}

// Header lists the spreadsheet columns in order.
var Header = []string{
	"DATE", "USER", "ACTIVITY", "WORK PACKAGE", "COMMENT",
	"LOGGED BY", "PROJECT", "HOURS", "COSTS",
}

// Options tunes a report run.
type Options struct {
	// SpentFrom/SpentTo restrict the fetch to a date range (YYYY-MM-DD).
	// Empty means all time entries.
	SpentFrom string
	SpentTo   string
	// Progress receives human-readable progress lines. Default os.Stdout.
	Progress io.Writer
}

// costCache memoizes per-work-package overall costs for one run. The cache
// is owned by the run and passed through explicitly, never shared
// process-wide.
type costCache struct {
	conn  op.Connection
	costs map[int64]string
}

func newCostCache(conn op.Connection) *costCache {
	return &costCache{conn: conn, costs: make(map[int64]string)}
}

func (c *costCache) overallCosts(ctx context.Context, wpID int64) string {
	if costs, ok := c.costs[wpID]; ok {
		return costs
	}
	costs := ""
	wp, err := c.conn.Get(ctx, fmt.Sprintf("/work_packages/%d", wpID))
	if err == nil {
		costs = wp.Str("overallCosts")
	}
	// A failed lookup is cached too, so one vanished work package costs a
	// single request.
	c.costs[wpID] = costs
	return costs
}

// Build fetches time entries from conn and resolves each into a Row. Titles
// come from the entry's own links; costs come from the owning work
// package's overallCosts field.
func Build(ctx context.Context, conn op.Connection, opts Options) ([]Row, error) {
	out := opts.Progress
	if out == nil {
		out = os.Stdout
	}

	query := url.Values{}
	if opts.SpentFrom != "" && opts.SpentTo != "" {
		query.Set("filters", fmt.Sprintf(
			`[{"spentOn":{"operator":"<>d","values":["%s","%s"]}}]`, opts.SpentFrom, opts.SpentTo))
	}
	entries, err := conn.Collect(ctx, "/time_entries", query)
	if err != nil {
		return nil, fmt.Errorf("fetch time entries: %w", err)
	}
	fmt.Fprintf(out, "Processing %d time entries...\n", len(entries))

	cache := newCostCache(conn)
	rows := make([]Row, 0, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if (i+1)%50 == 0 || i+1 == len(entries) {
			fmt.Fprintf(out, "  - %d/%d\n", i+1, len(entries))
		}
		rows = append(rows, buildRow(ctx, cache, entry))
	}
	return rows, nil
}

func buildRow(ctx context.Context, cache *costCache, entry snapshot.Record) Row {
	hours, err := ParseHours(entry.Str("hours"))
	if err != nil {
		hours = 0
	}

	user := entry.LinkTitle("user")
	row := Row{
		SpentOn:  entry.Str("spentOn"),
		User:     user,
		LoggedBy: user,
		Activity: entry.LinkTitle("activity"),
		Project:  entry.LinkTitle("project"),
		Comment:  entry.RawText("comment"),
		Hours:    hours,
	}

	if ref, ok := entry.Ref("workPackage"); ok {
		row.WorkPackage = fmt.Sprintf("Task #%d: %s", ref.ID, ref.Title)
		row.Costs = cache.overallCosts(ctx, ref.ID)
	} else if title := entry.LinkTitle("workPackage"); title != "" {
		row.WorkPackage = title
	}
	return row
}

var durationPart = regexp.MustCompile(`(\d+(?:\.\d+)?)([HMS])`)

// ParseHours converts an ISO-8601 duration as the API emits for time
// entries (PT2H, PT1H30M, PT30M) into decimal hours. Date components are
// not expected in time-entry durations and are rejected.
func ParseHours(iso string) (float64, error) {
	if iso == "" {
		return 0, fmt.Errorf("empty duration")
	}
	rest, ok := strings.CutPrefix(iso, "PT")
	if !ok || strings.ContainsAny(rest, "YDW") {
		return 0, fmt.Errorf("unsupported duration %q", iso)
	}
	matches := durationPart.FindAllStringSubmatch(rest, -1)
	if matches == nil {
		return 0, fmt.Errorf("unsupported duration %q", iso)
	}
	consumed := 0
	hours := 0.0
	for _, m := range matches {
		consumed += len(m[0])
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("unsupported duration %q", iso)
		}
		switch m[2] {
		case "H":
			hours += value
		case "M":
			hours += value / 60
		case "S":
			hours += value / 3600
		}
	}
	if consumed != len(rest) {
		return 0, fmt.Errorf("unsupported duration %q", iso)
	}
	return hours, nil
}
