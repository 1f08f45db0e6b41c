package files

import "strings"

// maxFolderPathLen bounds virtual folder paths.
const maxFolderPathLen = 500

// NormalizeFolderPath canonicalizes a raw folder path. Blank input and
// a bare "/" both map to "" (root, no folder), so the root has exactly
// one representation. A single trailing slash is stripped and a missing
// leading slash is added. Idempotent.
func NormalizeFolderPath(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" || p == "/" {
		return ""
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// ValidateFolderPath checks a normalized folder path. An empty path is
// only an error when required; otherwise it denotes the root.
func ValidateFolderPath(path string, required bool) error {
	if path == "" {
		if required {
			return validationf("folder path is required")
		}
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		return validationf("folder path must start with '/'")
	}
	if len(path) > maxFolderPathLen {
		return validationf("folder path exceeds %d characters", maxFolderPathLen)
	}
	if strings.Contains(path, "//") {
		return validationf("folder path must not contain consecutive slashes")
	}
	if strings.Contains(path, "..") {
		return validationf("folder path must not contain parent directory references")
	}
	return nil
}

// isSubtreePath reports whether path equals folder or is a strict
// descendant of it. folder == "" is the root, whose subtree is everything.
func isSubtreePath(folder, path string) bool {
	if folder == "" {
		return true
	}
	return path == folder || strings.HasPrefix(path, folder+"/")
}

// DirectChild returns the direct child of parent on the way to path:
// for parent "/a" and path "/a/b/c" it returns "/a/b". ok is false when
// path is not a strict descendant of parent.
func DirectChild(parent, path string) (string, bool) {
	var rest string
	if parent == "" {
		if !strings.HasPrefix(path, "/") {
			return "", false
		}
		rest = path[1:]
	} else {
		if !strings.HasPrefix(path, parent+"/") {
			return "", false
		}
		rest = path[len(parent)+1:]
	}
	if rest == "" {
		return "", false
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	if parent == "" {
		return "/" + rest, true
	}
	return parent + "/" + rest, true
}
