package rotation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pavelanni/escuela/internal/model"
)

var (
	specialistKeywords = []string{"fisica", "artes", "ingles", "usaer"}
	directorKeywords   = []string{"director", "directivo", "subdirector"}
)

// Fold lowercases s and strips diacritics, so "Física" and "fisica" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// ClassifyLegacy derives a category from free-text role and group fields. It is
// meant to run once, when a staff row without a category enters the system.
func ClassifyLegacy(name, role, group string, cfg model.RotationConfig) model.StaffCategory {
	fname := Fold(name)
	frole := Fold(role)

	if isDirector(fname, cfg.Directors) || containsAny(frole, directorKeywords) {
		return model.CategoryExcluded
	}
	for _, n := range cfg.SpecialistNames {
		if fname == Fold(n) {
			return model.CategorySpecialist
		}
	}
	if containsAny(frole+" "+Fold(group), specialistKeywords) {
		return model.CategorySpecialist
	}
	return model.CategoryRegular
}

// Classify returns the member's category, falling back to the legacy rules for
// rows that predate explicit categories.
func Classify(m model.StaffMember, cfg model.RotationConfig) model.StaffCategory {
	if m.Category != model.CategoryUnset {
		return m.Category
	}
	return ClassifyLegacy(m.Name, m.Role, m.Group, cfg)
}

// FromImport turns a directory row into a staff member, resolving its category
// once so the rotation never re-reads free-text roles.
func FromImport(si model.StaffImport, cfg model.RotationConfig) model.StaffMember {
	m := model.StaffMember{Name: si.Name, Role: si.Role, Group: si.Group, Category: si.Category}
	if m.Category == model.CategoryUnset {
		m.Category = ClassifyLegacy(si.Name, si.Role, si.Group, cfg)
	}
	return m
}

func isDirector(fname string, directors []string) bool {
	for _, d := range directors {
		fd := Fold(d)
		if fd == "" {
			continue
		}
		if fname == fd {
			return true
		}
		tokens := strings.Fields(fd)
		if len(tokens) >= 2 &&
			strings.Contains(fname, tokens[0]) &&
			strings.Contains(fname, tokens[len(tokens)-1]) {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
