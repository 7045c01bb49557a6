package roi

import "sort"

// Annotation metadata namespaces checked on a file's info blob.
var possibleKeys = []string{"roi", "ohifViewer"}

// Blob is the raw annotation metadata for one file, keyed by archive
// member name. The empty key holds annotations attached to the file
// itself. Values are the viewer-native ROI entry lists.
type Blob map[string][]interface{}

// ExtractBlob pulls the ROI annotation namespaces out of a file's raw
// info metadata. The "roi" namespace is either a plain entry list or a
// member-name-keyed mapping of entry lists (multi-frame zip); the
// "ohifViewer" namespace nests entry lists per tool type under
// "measurements". Returns an empty blob when no namespace is present.
func ExtractBlob(info map[string]interface{}) Blob {
	blob := Blob{}
	if info == nil {
		return blob
	}

	if raw, ok := info["roi"]; ok {
		switch v := raw.(type) {
		case []interface{}:
			blob[""] = append(blob[""], v...)
		case map[string]interface{}:
			for member, entries := range v {
				list, ok := entries.([]interface{})
				if !ok {
					continue
				}
				blob[member] = append(blob[member], list...)
			}
		}
	}

	if raw, ok := info["ohifViewer"]; ok {
		ns, ok := raw.(map[string]interface{})
		if ok {
			measurements, _ := ns["measurements"].(map[string]interface{})
			// Tool types iterate in sorted order so repeated runs over an
			// unchanged hierarchy produce identical reports.
			toolTypes := make([]string, 0, len(measurements))
			for tt := range measurements {
				toolTypes = append(toolTypes, tt)
			}
			sort.Strings(toolTypes)
			for _, tt := range toolTypes {
				list, ok := measurements[tt].([]interface{})
				if !ok {
					continue
				}
				blob[""] = append(blob[""], list...)
			}
		}
	}

	if len(blob[""]) == 0 {
		delete(blob, "")
	}
	return blob
}

// SessionMeasurements pulls the session-level viewer measurements out of
// a session's info metadata, keyed by the series instance UID each entry
// references. Entries without a seriesInstanceUid cannot be attributed
// to any file; their count is the second return.
func SessionMeasurements(info map[string]interface{}) (map[string][]interface{}, int) {
	bySeries := map[string][]interface{}{}
	unattributable := 0

	ns, ok := info["ohifViewer"].(map[string]interface{})
	if !ok {
		return bySeries, 0
	}
	measurements, _ := ns["measurements"].(map[string]interface{})
	toolTypes := make([]string, 0, len(measurements))
	for tt := range measurements {
		toolTypes = append(toolTypes, tt)
	}
	sort.Strings(toolTypes)

	for _, tt := range toolTypes {
		list, ok := measurements[tt].([]interface{})
		if !ok {
			continue
		}
		for _, raw := range list {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				unattributable++
				continue
			}
			uid := getString(entry, "seriesInstanceUid")
			if uid == "" {
				unattributable++
				continue
			}
			bySeries[uid] = append(bySeries[uid], raw)
		}
	}
	return bySeries, unattributable
}

// Normalize flattens a raw annotation blob into Records, one per
// recognized ROI entry across all members. Unsupported or malformed
// entries are skipped and counted; they never fail the file.
func Normalize(blob Blob) (records []Record, skipped int) {
	members := make([]string, 0, len(blob))
	for m := range blob {
		members = append(members, m)
	}
	sort.Strings(members)

	for _, member := range members {
		for _, raw := range blob[member] {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				skipped++
				continue
			}
			rec, ok := normalizeEntry(member, entry)
			if !ok {
				skipped++
				continue
			}
			records = append(records, rec)
		}
	}
	return records, skipped
}

func normalizeEntry(member string, entry map[string]interface{}) (Record, bool) {
	toolType := getString(entry, "toolType")
	shape, ok := ParseToolType(toolType)
	if !ok {
		return Record{}, false
	}

	rec := Record{
		Member:      member,
		Shape:       shape,
		ToolType:    toolType,
		Location:    getString(entry, "location"),
		Description: getString(entry, "description"),
		UserOrigin:  userOrigin(entry),
	}
	if rec.Location == "" {
		rec.Location = getString(entry, "label")
	}

	handles, _ := entry["handles"].(map[string]interface{})
	switch shape {
	case ShapeFreehand:
		points, ok := polygonPoints(handles)
		if !ok {
			return Record{}, false
		}
		rec.Points = points
	default:
		start, okStart := pointAt(handles, "start")
		end, okEnd := pointAt(handles, "end")
		if !okStart || !okEnd {
			return Record{}, false
		}
		rec.Start = start
		rec.End = end
	}
	return rec, true
}

// userOrigin resolves the creator identity: updatedById, then the
// flywheelOrigin id, then the sentinel.
func userOrigin(entry map[string]interface{}) string {
	if id := getString(entry, "updatedById"); id != "" {
		return id
	}
	if origin, ok := entry["flywheelOrigin"].(map[string]interface{}); ok {
		if id := getString(origin, "id"); id != "" {
			return id
		}
	}
	return UnknownUser
}

func polygonPoints(handles map[string]interface{}) ([]Point, bool) {
	raw, ok := handles["points"].([]interface{})
	if !ok {
		return nil, false
	}
	points := make([]Point, 0, len(raw))
	for _, rp := range raw {
		pm, ok := rp.(map[string]interface{})
		if !ok {
			return nil, false
		}
		x, okX := getFloat(pm, "x")
		y, okY := getFloat(pm, "y")
		if !okX || !okY {
			return nil, false
		}
		points = append(points, Point{X: x, Y: y})
	}
	if len(points) < 3 {
		return nil, false
	}
	return points, true
}

func pointAt(handles map[string]interface{}, key string) (Point, bool) {
	pm, ok := handles[key].(map[string]interface{})
	if !ok {
		return Point{}, false
	}
	x, okX := getFloat(pm, "x")
	y, okY := getFloat(pm, "y")
	if !okX || !okY {
		return Point{}, false
	}
	return Point{X: x, Y: y}, true
}

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func getFloat(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
