package pipeline

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"meshmap/server/internal/meshcore"
)

// coordPattern matches two signed decimals with up to three integer digits,
// separated by a comma, semicolon, slash, pipe, or run of whitespace.
var coordPattern = regexp.MustCompile(`([-+]?\d{1,3}(?:\.\d+)?)(?:\s*[,;/|]\s*|\s+)([-+]?\d{1,3}(?:\.\d+)?)`)

var spaceRuns = regexp.MustCompile(`\s{2,}`)

// TextLocation is a coordinate pair found in free text, with the matched span
// so the caller can strip it.
type TextLocation struct {
	Lat   float64
	Lon   float64
	Span  string
	Start int
}

// LocationFromDecoded reads the structured location of a decoded packet.
// Range validation is left to the caller; the decoder's output is trusted to
// at least be finite.
func LocationFromDecoded(pkt *meshcore.Packet) (lat, lon float64, ok bool) {
	if pkt.Decoded == nil || pkt.Decoded.AppData == nil || pkt.Decoded.AppData.Location == nil {
		return 0, 0, false
	}

	loc := pkt.Decoded.AppData.Location
	if !isFinite(loc.Latitude) || !isFinite(loc.Longitude) {
		return 0, 0, false
	}
	return loc.Latitude, loc.Longitude, true
}

// LocationFromText scans text left to right for an embedded coordinate pair
// and returns the first match whose numbers fall inside valid
// latitude/longitude ranges. An out-of-range candidate is skipped, not fatal;
// the scan continues past it.
func LocationFromText(text string) (TextLocation, bool) {
	pos := 0
	for pos < len(text) {
		idx := coordPattern.FindStringSubmatchIndex(text[pos:])
		if idx == nil {
			break
		}

		start := pos + idx[0]
		end := pos + idx[1]

		// A candidate glued to surrounding digits is part of a longer
		// number, not a coordinate.
		if boundedByDigit(text, start, end) {
			pos = start + 1
			continue
		}

		lat, latErr := strconv.ParseFloat(text[pos+idx[2]:pos+idx[3]], 64)
		lon, lonErr := strconv.ParseFloat(text[pos+idx[4]:pos+idx[5]], 64)
		if latErr == nil && lonErr == nil && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
			return TextLocation{Lat: lat, Lon: lon, Span: text[start:end], Start: start}, true
		}

		pos = start + 1
	}
	return TextLocation{}, false
}

// StripSpan removes the matched substring, collapses runs of whitespace to a
// single space, and trims the ends. Used to recover the residual message text
// after a coordinate was extracted.
func StripSpan(text string, start int, span string) string {
	if start < 0 || start+len(span) > len(text) || text[start:start+len(span)] != span {
		return text
	}

	stripped := text[:start] + text[start+len(span):]
	stripped = spaceRuns.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(stripped)
}

func boundedByDigit(text string, start, end int) bool {
	if start > 0 {
		c := text[start-1]
		if (c >= '0' && c <= '9') || c == '.' {
			return true
		}
	}
	if end < len(text) {
		c := text[end]
		if (c >= '0' && c <= '9') || c == '.' {
			return true
		}
	}
	return false
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
