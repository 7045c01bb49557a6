package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flywheel-apps/ROI-export/internal/flywheel"
	"github.com/flywheel-apps/ROI-export/internal/logging"
	"github.com/flywheel-apps/ROI-export/internal/pixels"
	"github.com/flywheel-apps/ROI-export/internal/preview"
	"github.com/flywheel-apps/ROI-export/internal/roi"
)

// Header is the fixed column order of the report.
var Header = []string{
	"Group", "Project", "Subject", "Session", "Acquisition",
	"File", "Dicom Member", "File Type",
	"location", "description",
	"X min", "X max", "Y min", "Y max",
	"User Origin", "ROI type",
	"area", "count", "max", "mean", "min", "stdDev", "variance",
}

// Row is the flattening of one ROI instance: its hierarchy location,
// the normalized annotation fields and the derived statistics. HasStats
// is false when pixel decoding failed; the statistics columns then
// render blank. The bounding box derives from the shape parameters
// alone and is present either way.
type Row struct {
	Group       string
	Project     string
	Subject     string
	Session     string
	Acquisition string
	File        string
	Member      string
	FileType    string

	Location    string
	Description string
	UserOrigin  string
	ROIType     string

	XMin float64
	XMax float64
	YMin float64
	YMax float64

	HasStats bool
	Stats    roi.Stats
}

// Summary carries the per-run counters surfaced at the end of an
// export.
type Summary struct {
	RunID                string
	ProjectLabel         string
	Rows                 int
	FilesVisited         int
	NonDICOMSkipped      int
	OrphanedFiles        int
	UnmatchedSessionROIs int
	ROIsSkipped          int
	DecodeFailures       int
	PreviewFailures      int
}

// Builder joins walker output with normalized ROIs and geometry
// statistics into report rows.
type Builder struct {
	api API
	log *logging.Logger

	// PreviewDir enables PNG overlay rendering into the given directory
	// when non-empty.
	PreviewDir string
}

// NewBuilder creates a report builder over the given platform API.
func NewBuilder(api API, log *logging.Logger) *Builder {
	return &Builder{api: api, log: log}
}

// Assemble walks the hierarchy under the root container and produces
// the ordered report rows. Pixel data is fetched and decoded on demand,
// cached per file member, and discarded once the file's ROIs are
// evaluated. Fatal errors return before any output is written.
func (b *Builder) Assemble(ctx context.Context, rootID string) ([]Row, Summary, error) {
	summary := Summary{RunID: uuid.NewString()}

	root, err := b.api.GetContainer(ctx, rootID)
	if err != nil {
		return nil, summary, &FetchError{Op: "container", ID: rootID, Err: err}
	}
	if root.Type != flywheel.TypeProject && root.Type != flywheel.TypeSession {
		return nil, summary, fmt.Errorf("%w: got %q", ErrUnsupportedRoot, root.Type)
	}

	summary.ProjectLabel, err = b.projectLabel(ctx, root)
	if err != nil {
		return nil, summary, err
	}

	var rows []Row
	walker := NewWalker(b.api, b.log)
	err = walker.Walk(ctx, root, func(item Item) error {
		fileRows, err := b.processFile(ctx, item, &summary)
		if err != nil {
			return err
		}
		rows = append(rows, fileRows...)
		return nil
	})
	if err != nil {
		return nil, summary, err
	}

	summary.Rows = len(rows)
	summary.NonDICOMSkipped = walker.NonDICOMSkipped
	summary.OrphanedFiles = walker.OrphanedFiles
	summary.UnmatchedSessionROIs = walker.UnmatchedSessionROIs
	return rows, summary, nil
}

// projectLabel resolves the label of the first project ancestor of the
// root, used to build the output filename.
func (b *Builder) projectLabel(ctx context.Context, root *flywheel.Container) (string, error) {
	if root.Type == flywheel.TypeProject {
		return root.Label, nil
	}
	if root.Parents.Project == "" {
		return "", ErrRootResolution
	}
	project, err := b.api.GetProject(ctx, root.Parents.Project)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRootResolution, err)
	}
	return project.Label, nil
}

// processFile turns one walked file into rows: normalize the annotation
// blob, evaluate each ROI against its member's decoded pixels, render
// the optional preview. Decode failures blank the statistics of the
// affected ROIs and never abort the run.
func (b *Builder) processFile(ctx context.Context, item Item, summary *Summary) ([]Row, error) {
	summary.FilesVisited++

	records, skipped := roi.Normalize(item.Blob)
	if skipped > 0 {
		summary.ROIsSkipped += skipped
		b.log.Warn("skipped unrecognized ROI entries", "file", item.File.Name, "count", skipped)
	}
	if len(records) == 0 {
		return nil, nil
	}
	b.log.Info("processing file", "file", item.File.Name, "rois", len(records))

	// Pixel data is cached per member for the duration of this file
	// only, so memory stays bounded by one file at a time.
	cache := newGridCache(ctx, b.api, item, b.log)

	rows := make([]Row, 0, len(records))
	byMember := make(map[string][]roi.Record)
	for _, rec := range records {
		row := Row{
			Group:       item.Location.Group,
			Project:     item.Location.Project,
			Subject:     item.Location.Subject,
			Session:     item.Location.Session,
			Acquisition: item.Location.Acquisition,
			File:        item.File.Name,
			Member:      rec.Member,
			FileType:    item.File.Type,
			Location:    rec.Location,
			Description: rec.Description,
			UserOrigin:  rec.UserOrigin,
			ROIType:     rec.ToolType,
		}

		grid, err := cache.get(rec.Member)
		if err != nil {
			if cache.firstFailure(rec.Member) {
				summary.DecodeFailures++
				b.log.Warn("pixel decode failed, emitting blank statistics", "error", err)
			}
			row.XMin, row.XMax, row.YMin, row.YMax = roi.Bounds(rec)
			rows = append(rows, row)
			continue
		}

		stats := roi.Evaluate(rec, grid)
		row.XMin, row.XMax, row.YMin, row.YMax = stats.XMin, stats.XMax, stats.YMin, stats.YMax
		row.HasStats = true
		row.Stats = stats
		rows = append(rows, row)
		byMember[rec.Member] = append(byMember[rec.Member], rec)
	}

	if b.PreviewDir != "" {
		b.renderPreviews(item, cache, byMember, summary)
	}
	return rows, nil
}

func (b *Builder) renderPreviews(item Item, cache *gridCache, byMember map[string][]roi.Record, summary *Summary) {
	for member, recs := range byMember {
		grid, err := cache.get(member)
		if err != nil {
			continue
		}
		img, err := preview.Render(grid, recs)
		if err != nil {
			summary.PreviewFailures++
			b.log.Warn("preview render failed", "file", item.File.Name, "error", err)
			continue
		}
		path := filepath.Join(b.PreviewDir, previewName(item.File.Name, member))
		if err := preview.WritePNG(path, img); err != nil {
			summary.PreviewFailures++
			b.log.Warn("preview write failed", "file", item.File.Name, "error", err)
		}
	}
}

func previewName(file, member string) string {
	name := file
	if member != "" {
		name += "_" + member
	}
	sanitized := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(name)
	return sanitized + "_preview.png"
}

// gridCache downloads a file's bytes once and decodes each requested
// member once, remembering failures so they are only counted once.
type gridCache struct {
	ctx  context.Context
	api  API
	item Item
	log  *logging.Logger

	raw      []byte
	rawErr   error
	fetched  bool
	grids    map[string]*pixels.Grid
	failures map[string]int
}

func newGridCache(ctx context.Context, api API, item Item, log *logging.Logger) *gridCache {
	return &gridCache{
		ctx:      ctx,
		api:      api,
		item:     item,
		log:      log,
		grids:    map[string]*pixels.Grid{},
		failures: map[string]int{},
	}
}

func (c *gridCache) get(member string) (*pixels.Grid, error) {
	if grid, ok := c.grids[member]; ok {
		return grid, nil
	}
	if n, ok := c.failures[member]; ok {
		c.failures[member] = n + 1
		return nil, &DecodeError{File: c.item.File.Name, Member: member, Err: fmt.Errorf("previous decode failed")}
	}

	grid, err := c.decode(member)
	if err != nil {
		c.failures[member] = 1
		return nil, &DecodeError{File: c.item.File.Name, Member: member, Err: err}
	}
	c.grids[member] = grid
	return grid, nil
}

// firstFailure reports whether the most recent failed get was the first
// for that member.
func (c *gridCache) firstFailure(member string) bool {
	return c.failures[member] == 1
}

func (c *gridCache) decode(member string) (*pixels.Grid, error) {
	if !c.fetched {
		c.fetched = true
		c.raw, c.rawErr = c.api.Download(c.ctx, c.item.AcquisitionID, c.item.File.Name)
	}
	if c.rawErr != nil {
		return nil, fmt.Errorf("download: %w", c.rawErr)
	}

	data := c.raw
	if member != "" {
		memberData, err := pixels.Member(c.raw, member)
		if err != nil {
			return nil, err
		}
		data = memberData
	} else if c.item.File.IsArchive() {
		// Annotations on the archive itself are evaluated against its
		// first member.
		names, err := pixels.Members(c.raw)
		if err != nil || len(names) == 0 {
			return nil, fmt.Errorf("archive has no readable members: %v", err)
		}
		memberData, err := pixels.Member(c.raw, names[0])
		if err != nil {
			return nil, err
		}
		data = memberData
	}
	return pixels.Decode(data)
}

// ReportFilename builds the timestamped output filename for a project.
func ReportFilename(projectLabel string, now time.Time) string {
	return fmt.Sprintf("%s_ROI-Export_%s.csv", projectLabel, now.Format("01-02-2006_15-04-05"))
}

// WriteCSV writes the report with the fixed header. Undefined numeric
// values render as empty cells, never as a NaN literal.
func WriteCSV(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row.csvRecord()); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func (r Row) csvRecord() []string {
	record := []string{
		r.Group, r.Project, r.Subject, r.Session, r.Acquisition,
		r.File, r.Member, r.FileType,
		r.Location, r.Description,
		formatFloat(r.XMin), formatFloat(r.XMax), formatFloat(r.YMin), formatFloat(r.YMax),
		r.UserOrigin, r.ROIType,
	}
	if !r.HasStats {
		return append(record, "", "", "", "", "", "", "")
	}
	return append(record,
		formatFloat(r.Stats.Area),
		strconv.Itoa(r.Stats.Count),
		formatFloat(r.Stats.Max),
		formatFloat(r.Stats.Mean),
		formatFloat(r.Stats.Min),
		formatFloat(r.Stats.StdDev),
		formatFloat(r.Stats.Variance),
	)
}

// formatFloat renders plain decimal notation; 'g' would switch large
// statistics to scientific form.
func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
