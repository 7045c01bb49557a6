package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/flywheel-apps/ROI-export/internal/flywheel"
	"github.com/flywheel-apps/ROI-export/internal/roi"
)

func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// encodeDataset writes a 4x4 monochrome dataset whose pixel value at
// (x, y) is y*4+x.
func encodeDataset(t *testing.T) []byte {
	t.Helper()

	const size = 4
	nativeFrame := frame.NewNativeFrame[uint16](16, size, size, size*size, 1)
	for i := range nativeFrame.RawData {
		nativeFrame.RawData[i] = uint16(i)
	}
	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}

	elements := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustNewElement(tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}),
		mustNewElement(tag.SOPInstanceUID, []string{"1.2.826.0.1.3680043.8.498.1"}),
		mustNewElement(tag.Rows, []int{size}),
		mustNewElement(tag.Columns, []int{size}),
		mustNewElement(tag.BitsAllocated, []int{16}),
		mustNewElement(tag.BitsStored, []int{16}),
		mustNewElement(tag.HighBit, []int{15}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.PixelData, pixelDataInfo),
	}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, dicom.Dataset{Elements: elements}); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return buf.Bytes()
}

func TestAssemble_ProjectExport(t *testing.T) {
	api := twoSubjectHierarchy()
	dcm := encodeDataset(t)
	api.downloads = map[string][]byte{
		"acq1/scan1.dcm": dcm,
		"acq2/scan2.dcm": dcm,
	}

	b := NewBuilder(api, testLogger())
	rows, summary, err := b.Assemble(context.Background(), "proj1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if summary.Rows != 2 || summary.FilesVisited != 2 {
		t.Errorf("summary Rows/FilesVisited = %d/%d, want 2/2", summary.Rows, summary.FilesVisited)
	}
	if summary.NonDICOMSkipped != 1 {
		t.Errorf("NonDICOMSkipped = %d, want 1", summary.NonDICOMSkipped)
	}
	if summary.ProjectLabel != "Neuro Study" {
		t.Errorf("ProjectLabel = %q, want %q", summary.ProjectLabel, "Neuro Study")
	}
	if summary.RunID == "" {
		t.Error("RunID should be set")
	}

	row := rows[0]
	if row.Group != "lab" || row.Project != "Neuro Study" || row.Subject != "sub-01" ||
		row.Session != "baseline" || row.Acquisition != "T1" || row.File != "scan1.dcm" {
		t.Errorf("row location fields = %+v", row)
	}
	if row.Member != "" {
		t.Errorf("Member = %q, want empty for a plain file", row.Member)
	}
	if row.ROIType != "rectangleRoi" || row.Location != "a" {
		t.Errorf("ROIType/Location = %q/%q", row.ROIType, row.Location)
	}
	if row.UserOrigin != roi.UnknownUser {
		t.Errorf("UserOrigin = %q, want sentinel", row.UserOrigin)
	}

	// Rectangle (1,1)-(2,2) over pixel values y*4+x: 5, 6, 9, 10.
	if !row.HasStats {
		t.Fatal("expected statistics for a decodable file")
	}
	if row.Stats.Count != 4 {
		t.Errorf("Count = %d, want 4", row.Stats.Count)
	}
	if row.Stats.Min != 5 || row.Stats.Max != 10 || row.Stats.Mean != 7.5 {
		t.Errorf("Min/Max/Mean = %v/%v/%v, want 5/10/7.5", row.Stats.Min, row.Stats.Max, row.Stats.Mean)
	}
	if math.Abs(row.Stats.Variance-4.25) > 1e-12 {
		t.Errorf("Variance = %v, want 4.25", row.Stats.Variance)
	}
}

func TestAssemble_ArchiveMember(t *testing.T) {
	dcm := encodeDataset(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("1.dcm")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(dcm); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	api := twoSubjectHierarchy()
	api.files = map[string][]flywheel.FileEntry{
		"acq1": {
			{
				Name:           "series.zip",
				Type:           "dicom",
				ZipMemberCount: 1,
				Info: map[string]interface{}{
					"roi": map[string]interface{}{
						"1.dcm": []interface{}{
							map[string]interface{}{
								"toolType": "rectangleRoi",
								"label":    "zipped",
								"handles": map[string]interface{}{
									"start": map[string]interface{}{"x": 1.0, "y": 1.0},
									"end":   map[string]interface{}{"x": 2.0, "y": 2.0},
								},
							},
						},
					},
				},
			},
		},
	}
	api.downloads = map[string][]byte{"acq1/series.zip": buf.Bytes()}

	b := NewBuilder(api, testLogger())
	rows, _, err := b.Assemble(context.Background(), "sess1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Member != "1.dcm" {
		t.Errorf("Member = %q, want 1.dcm", rows[0].Member)
	}
	if !rows[0].HasStats || rows[0].Stats.Count != 4 {
		t.Errorf("expected statistics from the archive member, got %+v", rows[0].Stats)
	}
}

func TestAssemble_DecodeFailureKeepsRowWithoutStats(t *testing.T) {
	api := twoSubjectHierarchy()
	api.downloads = map[string][]byte{
		"acq1/scan1.dcm": []byte("garbage"),
		"acq2/scan2.dcm": encodeDataset(t),
	}

	b := NewBuilder(api, testLogger())
	rows, summary, err := b.Assemble(context.Background(), "proj1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	bad := rows[0]
	if bad.HasStats {
		t.Error("expected no statistics for an undecodable file")
	}
	// The bounding box still derives from the handles.
	if bad.XMin != 1 || bad.XMax != 2 || bad.YMin != 1 || bad.YMax != 2 {
		t.Errorf("bbox = (%v,%v)-(%v,%v), want (1,1)-(2,2)", bad.XMin, bad.YMin, bad.XMax, bad.YMax)
	}
	if summary.DecodeFailures != 1 {
		t.Errorf("DecodeFailures = %d, want 1", summary.DecodeFailures)
	}
	if !rows[1].HasStats {
		t.Error("the decodable file should still get statistics")
	}
}

func TestAssemble_UnsupportedRoot(t *testing.T) {
	api := twoSubjectHierarchy()
	api.containers["subj1"].Type = flywheel.TypeSubject

	b := NewBuilder(api, testLogger())
	_, _, err := b.Assemble(context.Background(), "subj1")
	if !errors.Is(err, ErrUnsupportedRoot) {
		t.Errorf("err = %v, want ErrUnsupportedRoot", err)
	}
}

func TestAssemble_SessionWithoutProjectParent(t *testing.T) {
	api := twoSubjectHierarchy()
	api.containers["orphan"] = &flywheel.Container{
		ID: "orphan", Label: "stray", Type: flywheel.TypeSession,
	}

	b := NewBuilder(api, testLogger())
	_, _, err := b.Assemble(context.Background(), "orphan")
	if !errors.Is(err, ErrRootResolution) {
		t.Errorf("err = %v, want ErrRootResolution", err)
	}
}

func TestAssemble_DownloadFailureDegradesToBlankStats(t *testing.T) {
	api := twoSubjectHierarchy()
	api.failOn = "download"

	b := NewBuilder(api, testLogger())
	rows, summary, err := b.Assemble(context.Background(), "proj1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	// Download failures degrade to blank statistics rather than aborting.
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for _, row := range rows {
		if row.HasStats {
			t.Error("expected blank statistics when downloads fail")
		}
	}
	if summary.DecodeFailures != 2 {
		t.Errorf("DecodeFailures = %d, want 2", summary.DecodeFailures)
	}
}

func TestReportFilename(t *testing.T) {
	now := time.Date(2020, 3, 9, 14, 5, 9, 0, time.UTC)
	got := ReportFilename("Neuro Study", now)
	want := "Neuro Study_ROI-Export_03-09-2020_14-05-09.csv"
	if got != want {
		t.Errorf("ReportFilename = %q, want %q", got, want)
	}
}

func TestWriteCSV(t *testing.T) {
	rows := []Row{
		{
			Group: "lab", Project: "p", Subject: "s", Session: "ses", Acquisition: "acq",
			File: "f.dcm", FileType: "dicom", Location: "Liver", UserOrigin: "alice",
			ROIType: "rectangleRoi", XMin: 1, XMax: 2, YMin: 1, YMax: 2,
			HasStats: true,
			Stats: roi.Stats{
				Area: 4, Count: 4, Min: 5, Max: 10, Mean: 7.5, StdDev: 2, Variance: 4,
			},
		},
		{
			Group: "lab", Project: "p", Subject: "s", Session: "ses", Acquisition: "acq",
			File: "broken.dcm", FileType: "dicom", Location: "x", UserOrigin: "unknown",
			ROIType: "ellipticalRoi", XMin: 3, XMax: 3, YMin: 3, YMax: 3,
		},
	}

	path := filepath.Join(t.TempDir(), "report.csv")
	if err := WriteCSV(path, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("got %d lines, want header plus 2 rows", len(records))
	}
	for i, col := range Header {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}

	good := records[1]
	if good[16] != "4" || good[17] != "4" || good[19] != "7.5" {
		t.Errorf("stat cells = area %q count %q mean %q", good[16], good[17], good[19])
	}

	// The statistics columns of the failed row stay blank, never "NaN".
	blank := records[2]
	for i := 16; i < len(blank); i++ {
		if blank[i] != "" {
			t.Errorf("column %q = %q, want empty", Header[i], blank[i])
		}
	}
}

func TestFormatFloat_PlainDecimal(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1234567, "1234567"},
		{1234567.5, "1234567.5"},
		{0.0001, "0.0001"},
		{7.5, "7.5"},
		{0, "0"},
		{math.NaN(), ""},
		{math.Inf(1), ""},
	}
	for _, tt := range tests {
		if got := formatFloat(tt.in); got != tt.want {
			t.Errorf("formatFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRowCSVRecord_NaNRendersEmpty(t *testing.T) {
	nan := math.NaN()
	row := Row{
		HasStats: true,
		Stats:    roi.Stats{Min: nan, Max: nan, Mean: nan, StdDev: nan, Variance: nan},
	}
	record := row.csvRecord()
	if len(record) != len(Header) {
		t.Fatalf("record has %d cells, want %d", len(record), len(Header))
	}
	for i := 18; i < len(record); i++ {
		if record[i] != "" {
			t.Errorf("column %q = %q, want empty for NaN", Header[i], record[i])
		}
	}
}
