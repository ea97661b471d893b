// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
)

var wktTypes = []string{
	"POINT", "LINESTRING", "POLYGON",
	"MULTIPOINT", "MULTILINESTRING", "MULTIPOLYGON",
	"GEOMETRYCOLLECTION",
}

// Geometry renders a raw geometry as WKT text. WKT input passes through
// trimmed; ArcGIS JSON geometries (x/y points, multipoints, paths, rings)
// are converted. Anything else, including empty input, yields nil so the
// destination column is NULL.
func Geometry(v interface{}) interface{} {
	switch vt := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		if wkt, ok := arcgisToWKT(vt); ok {
			return wkt
		}
		return nil
	}

	s := strings.TrimSpace(stringOf(v))
	if isNullToken(s) {
		return nil
	}
	if strings.HasPrefix(s, "{") {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil
		}
		return Geometry(m)
	}
	if isWKT(s) {
		return s
	}
	return nil
}

func isWKT(s string) bool {
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "SRID=") {
		i := strings.IndexByte(upper, ';')
		if i == -1 {
			return false
		}
		upper = upper[i+1:]
	}
	for _, t := range wktTypes {
		if strings.HasPrefix(upper, t) {
			rest := strings.TrimSpace(upper[len(t):])
			return strings.HasPrefix(rest, "(") || strings.HasPrefix(rest, "Z") ||
				strings.HasPrefix(rest, "M") || rest == "EMPTY"
		}
	}
	return false
}

type point [2]float64

func arcgisToWKT(m map[string]interface{}) (string, bool) {
	if x, ok := toFloat(m["x"]); ok {
		y, ok := toFloat(m["y"])
		if !ok {
			return "", false
		}
		return "POINT (" + fmtPoint(point{x, y}) + ")", true
	}
	if raw, ok := m["points"]; ok {
		pts, ok := toPoints(raw)
		if !ok || len(pts) == 0 {
			return "", false
		}
		parts := make([]string, len(pts))
		for i, p := range pts {
			parts[i] = "(" + fmtPoint(p) + ")"
		}
		return "MULTIPOINT (" + strings.Join(parts, ", ") + ")", true
	}
	if raw, ok := m["paths"]; ok {
		paths, ok := toLines(raw)
		if !ok || len(paths) == 0 {
			return "", false
		}
		if len(paths) == 1 {
			return "LINESTRING " + fmtLine(paths[0]), true
		}
		return "MULTILINESTRING (" + joinLines(paths) + ")", true
	}
	if raw, ok := m["rings"]; ok {
		rings, ok := toLines(raw)
		if !ok || len(rings) == 0 {
			return "", false
		}
		polys := groupRings(rings)
		if len(polys) == 1 {
			return "POLYGON (" + joinLines(polys[0]) + ")", true
		}
		parts := make([]string, len(polys))
		for i, poly := range polys {
			parts[i] = "(" + joinLines(poly) + ")"
		}
		return "MULTIPOLYGON (" + strings.Join(parts, ", ") + ")", true
	}
	return "", false
}

// groupRings splits ArcGIS rings into polygons. Clockwise rings are shells
// and start a new polygon; counter-clockwise rings are holes of the
// preceding shell.
func groupRings(rings [][]point) [][][]point {
	var polys [][][]point
	for _, r := range rings {
		if clockwise(r) || len(polys) == 0 {
			polys = append(polys, [][]point{r})
			continue
		}
		last := len(polys) - 1
		polys[last] = append(polys[last], r)
	}
	return polys
}

func clockwise(r []point) bool {
	var sum float64
	for i := 0; i+1 < len(r); i++ {
		sum += (r[i+1][0] - r[i][0]) * (r[i+1][1] + r[i][1])
	}
	return sum > 0
}

func toFloat(v interface{}) (float64, bool) {
	switch vt := v.(type) {
	case float64:
		return vt, true
	case int:
		return float64(vt), true
	case int64:
		return float64(vt), true
	case json.Number:
		f, err := vt.Float64()
		return f, err == nil
	}
	return 0, false
}

func toPoints(v interface{}) ([]point, bool) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	pts := make([]point, 0, len(list))
	for _, item := range list {
		coords, ok := item.([]interface{})
		if !ok || len(coords) < 2 {
			return nil, false
		}
		x, okx := toFloat(coords[0])
		y, oky := toFloat(coords[1])
		if !okx || !oky {
			return nil, false
		}
		pts = append(pts, point{x, y})
	}
	return pts, true
}

func toLines(v interface{}) ([][]point, bool) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	lines := make([][]point, 0, len(list))
	for _, item := range list {
		pts, ok := toPoints(item)
		if !ok || len(pts) == 0 {
			return nil, false
		}
		lines = append(lines, pts)
	}
	return lines, true
}

func fmtPoint(p point) string {
	return strconv.FormatFloat(p[0], 'f', -1, 64) + " " + strconv.FormatFloat(p[1], 'f', -1, 64)
}

func fmtLine(pts []point) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = fmtPoint(p)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func joinLines(lines [][]point) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = fmtLine(l)
	}
	return strings.Join(parts, ", ")
}
