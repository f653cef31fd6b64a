package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const artifactExt = ".html"

// FileName maps a resource id onto a safe file name. Ids that need
// rewriting get a short hash suffix so distinct ids never collide.
func FileName(resourceID string) string {
	var b strings.Builder
	changed := false
	for _, r := range resourceID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			changed = true
		}
	}
	name := b.String()
	if strings.HasPrefix(name, ".") {
		name = "_" + name
		changed = true
	}
	if changed {
		sum := sha256.Sum256([]byte(resourceID))
		name += "-" + hex.EncodeToString(sum[:4])
	}
	return name + artifactExt
}

// PathFor returns the canonical artifact path inside dir.
func PathFor(dir, resourceID string) string {
	return filepath.Join(dir, FileName(resourceID))
}
