package resolver

import (
	"path"
	"strings"
	"unicode"

	"github.com/italolelis/seedbox_resolver/internal/fingerprint"
	"github.com/italolelis/seedbox_resolver/internal/store"
)

// MatchName reports whether a store filename and a requested display name
// refer to the same content. Both are lowercased, stripped of a short
// extension and have punctuation runs collapsed to one space. They match
// when either contains the first prefix characters of the other. Empty
// names never match.
func MatchName(candidate, requested string, prefix int) bool {
	c := simplify(candidate)
	r := simplify(requested)

	if c == "" || r == "" {
		return false
	}

	return strings.Contains(c, truncate(r, prefix)) || strings.Contains(r, truncate(c, prefix))
}

func simplify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))

	if ext := path.Ext(name); isExtension(ext) {
		name = strings.TrimSuffix(name, ext)
	}

	var b strings.Builder

	space := false

	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}

			b.WriteRune(r)

			space = false

			continue
		}

		space = true
	}

	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return strings.TrimSpace(string(runes[:n]))
}

// isExtension accepts ".mkv" or ".mp4" but not ".1999" or ".BluRay".
func isExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 5 {
		return false
	}

	letter := false

	for _, r := range ext[1:] {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case !unicode.IsDigit(r):
			return false
		}
	}

	return letter
}

// matchFile checks the file name and the name of the top-level folder
// holding it.
func matchFile(f *store.File, requested string, prefix int) bool {
	if MatchName(f.Name, requested, prefix) {
		return true
	}

	if i := strings.IndexByte(f.Path, '/'); i > 0 {
		return MatchName(f.Path[:i], requested, prefix)
	}

	return false
}

func findFile(files []*store.File, requested string, prefix int) *store.File {
	for _, f := range files {
		if matchFile(f, requested, prefix) {
			return f
		}
	}

	return nil
}

// findTransfer prefers an exact hash match over a name match.
func findTransfer(transfers []*store.Transfer, fp fingerprint.Fingerprint, requested string, prefix int) *store.Transfer {
	for _, t := range transfers {
		if t.Hash != "" && strings.EqualFold(t.Hash, fp.String()) {
			return t
		}
	}

	for _, t := range transfers {
		if MatchName(t.Name, requested, prefix) {
			return t
		}
	}

	return nil
}
