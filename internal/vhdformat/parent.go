package vhdformat

import (
	"strings"
	"unicode/utf16"

	"github.com/ehrlich-b/go-vhd/internal/constants"
)

// DecodePath decodes a parent locator's raw platform-encoded bytes into an
// absolute filesystem path. Only MACX (UTF-8) and W2KU (UTF-16LE) are
// understood; other platform codes return the empty string. This is a
// read-only collaborator per the spec — no locator is ever re-encoded by
// this driver.
func (l *ParentLocator) DecodePath() string {
	var raw string
	switch l.PlatformCode {
	case constants.ParentLocatorMACX:
		raw = string(l.Data)
	case constants.ParentLocatorW2KU:
		raw = decodeUTF16LE(l.Data)
	default:
		return ""
	}
	raw = strings.TrimPrefix(raw, "file://")
	raw = strings.TrimRight(raw, "\x00")

	// Strip a leading "c:"-style drive letter and normalize separators,
	// matching the original driver's path translation for locators
	// captured on Windows hosts.
	if len(raw) >= 2 && raw[1] == ':' {
		raw = raw[2:]
	}
	raw = strings.ReplaceAll(raw, "\\", "/")
	return raw
}

func decodeUTF16LE(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])|uint16(b[i+1])<<8)
	}
	return string(utf16.Decode(units))
}

// FindParentLocator returns the first usable (MACX or W2KU) locator in a
// header, or nil if none are present.
func (h *Header) FindParentLocator() *ParentLocator {
	for i := range h.ParentLocators {
		loc := &h.ParentLocators[i]
		if loc.PlatformCode == constants.ParentLocatorMACX || loc.PlatformCode == constants.ParentLocatorW2KU {
			if loc.PlatformDataLen > 0 {
				return loc
			}
		}
	}
	return nil
}

// ParentValid reports whether a candidate parent footer+mtime matches the
// parent identity captured in this (child) header: same UUID and the same
// modification timestamp recorded at diff-creation time. The driver only
// compares; deciding what to do about a mismatch (error out, re-link, …) is
// a caller concern per the spec's Non-goals on parent-locator tooling.
func (h *Header) ParentValid(parentUniqueID [16]byte, parentTimestamp uint32) bool {
	return h.ParentUniqueID == parentUniqueID && h.ParentTimestamp == parentTimestamp
}
