package control

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const defaultTag = "untagged"

// LogPath returns the session log path for a session started at t:
// <dir>/record<YYYYMMDD>/record_<YYYYMMDD>_<HHMMSS>_<freq>Hz_<tag>.csv
func LogPath(dir string, t time.Time, frequency float64, tag string) string {
	day := t.Format("20060102")
	name := fmt.Sprintf("record_%s_%s_%dHz_%s.csv", day, t.Format("150405"), int(frequency), SanitizeTag(tag))
	return filepath.Join(dir, "record"+day, name)
}

// SanitizeTag maps a peer supplied tag to a safe file name component.
// Anything outside [A-Za-z0-9._-] becomes '_' and leading dots are dropped.
func SanitizeTag(tag string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, tag)

	clean = strings.TrimLeft(clean, ".")
	if clean == "" {
		return defaultTag
	}
	return clean
}
