// Package version parses and orders the semantic versions used to name
// core LV slots and EFI bundles, and reads the running system's version
// out of /etc/os-release.
package version

import (
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
	"gopkg.in/ini.v1"

	cerrors "github.com/clipos/updater/pkg/errors"
)

// Version is a totally ordered semantic version. Equality is structural,
// ordering follows SemVer 2.0 precedence (numeric pre-release comparison,
// not lexicographic).
type Version struct {
	sv semver.Version
}

// Parse strictly parses s as MAJOR.MINOR.PATCH with an optional pre-release
// tag. Build metadata, if any, is stripped: CLIP OS build markers such as
// "+instrumented" are not significant to version ordering or to naming an
// LV/EFI bundle, and must never leak into either.
func Parse(s string) (Version, error) {
	sv, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, cerrors.Wrap(cerrors.VersionParse, fmt.Sprintf("parsing version %q", s), err)
	}
	sv.Metadata = ""
	return Version{sv: *sv}, nil
}

// Current reads VERSION_ID from the os-release-shaped file at path
// (conventionally /etc/os-release) and parses it as a Version.
func Current(path string) (Version, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return Version{}, cerrors.Wrap(cerrors.VersionParse, fmt.Sprintf("reading %s", path), err)
	}

	raw := cfg.Section("").Key("VERSION_ID").String()
	raw = strings.Trim(raw, `"`)
	if raw == "" {
		return Version{}, cerrors.New(cerrors.VersionParse, fmt.Sprintf("%s has no VERSION_ID", path))
	}
	return Parse(raw)
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func Compare(a, b Version) int {
	return a.sv.Compare(b.sv)
}

// LessThan reports whether a is strictly less than b.
func (a Version) LessThan(b Version) bool { return Compare(a, b) < 0 }

// Equal reports structural equality.
func (a Version) Equal(b Version) bool { return Compare(a, b) == 0 }

func (v Version) String() string { return v.sv.String() }

// IsZero reports whether v is the zero Version, i.e. 0.0.0 with no
// pre-release tag (what Parse returns for "0.0.0").
func (v Version) IsZero() bool { return v.sv == (semver.Version{}) }
