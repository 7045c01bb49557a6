// Package export drives the traversal-and-flattening pipeline: hierarchy
// walking, per-file ROI normalization and evaluation, and CSV report
// assembly.
package export

import (
	"context"
	"errors"

	"github.com/flywheel-apps/ROI-export/internal/flywheel"
	"github.com/flywheel-apps/ROI-export/internal/logging"
	"github.com/flywheel-apps/ROI-export/internal/roi"
)

// API is the platform surface the pipeline consumes.
type API interface {
	GetContainer(ctx context.Context, id string) (*flywheel.Container, error)
	GetProject(ctx context.Context, id string) (*flywheel.Container, error)
	Subjects(ctx context.Context, projectID string) ([]flywheel.Container, error)
	Sessions(ctx context.Context, subjectID string) ([]flywheel.Container, error)
	Acquisitions(ctx context.Context, sessionID string) ([]flywheel.Container, error)
	Files(ctx context.Context, acquisitionID string) ([]flywheel.FileEntry, error)
	Download(ctx context.Context, acquisitionID, filename string) ([]byte, error)
}

// Location is the fully resolved ancestry of one file.
type Location struct {
	Group       string
	Project     string
	Subject     string
	Session     string
	Acquisition string
}

// Item is one qualifying DICOM file yielded by the walk, with its
// location context and raw annotation blob.
type Item struct {
	Location      Location
	AcquisitionID string
	File          flywheel.FileEntry
	Blob          roi.Blob
}

// Walker enumerates every session, acquisition and DICOM file beneath a
// starting container. Each container and file is visited exactly once;
// a Walker cannot be reused.
type Walker struct {
	api API
	log *logging.Logger

	// NonDICOMSkipped counts files skipped because their type is not
	// DICOM. OrphanedFiles counts files skipped for unresolvable
	// ancestry. UnmatchedSessionROIs counts session-level viewer
	// measurements that reference no file in the session.
	NonDICOMSkipped      int
	OrphanedFiles        int
	UnmatchedSessionROIs int

	walked bool
}

// NewWalker creates a walker over the given platform API.
func NewWalker(api API, log *logging.Logger) *Walker {
	return &Walker{api: api, log: log}
}

// Walk enumerates the hierarchy beneath root depth-first, in platform
// order, calling visit for every qualifying DICOM file. A visit error
// aborts the walk and is returned unchanged. Platform failures abort
// with a *FetchError.
func (w *Walker) Walk(ctx context.Context, root *flywheel.Container, visit func(Item) error) error {
	if w.walked {
		return errors.New("walker is not restartable; create a new one")
	}
	w.walked = true

	switch root.Type {
	case flywheel.TypeProject:
		return w.walkProject(ctx, root, visit)
	case flywheel.TypeSession:
		loc, err := w.sessionRootLocation(ctx, root)
		if err != nil {
			return err
		}
		return w.walkSession(ctx, root, loc, visit)
	default:
		return ErrUnsupportedRoot
	}
}

func (w *Walker) walkProject(ctx context.Context, project *flywheel.Container, visit func(Item) error) error {
	subjects, err := w.api.Subjects(ctx, project.ID)
	if err != nil {
		return &FetchError{Op: "subjects of project", ID: project.ID, Err: err}
	}
	for _, subject := range subjects {
		w.log.Debug("queueing sessions", "subject", subject.Label)
		sessions, err := w.api.Sessions(ctx, subject.ID)
		if err != nil {
			return &FetchError{Op: "sessions of subject", ID: subject.ID, Err: err}
		}
		loc := Location{
			Group:   project.Parents.Group,
			Project: project.Label,
			Subject: subject.Label,
		}
		for i := range sessions {
			if err := w.walkSession(ctx, &sessions[i], loc, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// sessionRootLocation resolves the ancestry of a session used as the
// walk root.
func (w *Walker) sessionRootLocation(ctx context.Context, session *flywheel.Container) (Location, error) {
	loc := Location{Group: session.Parents.Group}
	if session.Parents.Project != "" {
		project, err := w.api.GetProject(ctx, session.Parents.Project)
		if err != nil {
			return loc, &FetchError{Op: "project", ID: session.Parents.Project, Err: err}
		}
		loc.Project = project.Label
	}
	if session.Parents.Subject != "" {
		subject, err := w.api.GetContainer(ctx, session.Parents.Subject)
		if err != nil {
			return loc, &FetchError{Op: "subject", ID: session.Parents.Subject, Err: err}
		}
		loc.Subject = subject.Label
	}
	return loc, nil
}

func (w *Walker) walkSession(ctx context.Context, session *flywheel.Container, loc Location, visit func(Item) error) error {
	w.log.Info("walking session", "session", session.Label)
	loc.Session = session.Label

	// Child listings omit the info blob; refetch the session for its
	// viewer measurements. These live on the session, keyed by the
	// series UID of the file they were drawn on.
	full, err := w.api.GetContainer(ctx, session.ID)
	if err != nil {
		return &FetchError{Op: "session", ID: session.ID, Err: err}
	}
	sessionROIs, unattributable := roi.SessionMeasurements(full.Info)
	if unattributable > 0 {
		w.UnmatchedSessionROIs += unattributable
		w.log.Warn("session measurements without a series reference", "session", session.Label, "count", unattributable)
	}

	acquisitions, err := w.api.Acquisitions(ctx, session.ID)
	if err != nil {
		return &FetchError{Op: "acquisitions of session", ID: session.ID, Err: err}
	}

	for _, acq := range acquisitions {
		files, err := w.api.Files(ctx, acq.ID)
		if err != nil {
			return &FetchError{Op: "files of acquisition", ID: acq.ID, Err: err}
		}
		acqLoc := loc
		acqLoc.Acquisition = acq.Label

		for _, f := range files {
			if !f.IsDICOM() {
				w.NonDICOMSkipped++
				w.log.Debug("skipping non-DICOM file", "file", f.Name, "type", f.Type)
				continue
			}
			if acqLoc.Session == "" || acqLoc.Acquisition == "" {
				w.OrphanedFiles++
				w.log.Warn("skipping file with unresolvable ancestry", "file", f.Name)
				continue
			}
			blob := roi.ExtractBlob(f.Info)
			if uid := f.SeriesInstanceUID(); uid != "" {
				if entries, ok := sessionROIs[uid]; ok {
					// First matching file wins, as elsewhere in the
					// platform's series resolution.
					blob[""] = append(blob[""], entries...)
					delete(sessionROIs, uid)
				}
			}
			item := Item{
				Location:      acqLoc,
				AcquisitionID: acq.ID,
				File:          f,
				Blob:          blob,
			}
			if err := visit(item); err != nil {
				return err
			}
		}
	}

	for uid, entries := range sessionROIs {
		w.UnmatchedSessionROIs += len(entries)
		w.log.Warn("no file matches the series referenced by session measurements", "session", session.Label, "series", uid, "count", len(entries))
	}
	return nil
}
