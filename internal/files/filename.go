package files

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	maxFilenameLen = 255

	// maxNameCandidates bounds the counter-suffix search so resolution
	// terminates even against pathological pre-existing sequences.
	maxNameCandidates = 10000
)

// Windows device names are rejected regardless of extension.
var reservedFilenames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// SanitizeFilename trims and cleans a caller-supplied filename,
// replacing path separators and stripping control characters, then
// rejects names that cannot be stored.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			b.WriteByte('_')
		case r < 32 || r == 0:
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())

	if cleaned == "" {
		return "", validationf("filename is empty after sanitization")
	}
	if cleaned == "." || cleaned == ".." {
		return "", validationf("filename %q is reserved", cleaned)
	}
	if len(cleaned) > maxFilenameLen {
		return "", validationf("filename exceeds %d characters", maxFilenameLen)
	}

	base := cleaned
	if i := strings.LastIndex(cleaned, "."); i > 0 {
		base = cleaned[:i]
	}
	if _, ok := reservedFilenames[strings.ToLower(base)]; ok {
		return "", validationf("filename %q is a reserved device name", cleaned)
	}
	if _, ok := reservedFilenames[strings.ToLower(cleaned)]; ok {
		return "", validationf("filename %q is a reserved device name", cleaned)
	}

	return cleaned, nil
}

// splitExt splits name into base and extension. The extension is the
// part after the last dot, only when that dot is neither the first nor
// the last character; otherwise ext is empty.
func splitExt(name string) (base, ext string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// ResolveFilename derives a collision-free filename in the (owner,
// folder) scope by appending -1, -2, … to the base. excludeID skips the
// record being renamed so it does not collide with itself.
//
// The resolver is race-tolerant, not race-free: the store's uniqueness
// constraint remains the final arbiter, and InsertFile conflicts send
// the caller back here for a fresh candidate.
func (s *Service) ResolveFilename(ctx context.Context, ownerID, folderPath, desired, excludeID string) (string, error) {
	existing, err := s.store.FindByName(ctx, ownerID, folderPath, desired, excludeID)
	if err != nil {
		return "", fmt.Errorf("lookup filename %q: %w", desired, err)
	}
	if existing == nil {
		return desired, nil
	}

	base, ext := splitExt(desired)
	for i := 1; i <= maxNameCandidates; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if ext != "" {
			candidate += "." + ext
		}
		existing, err := s.store.FindByName(ctx, ownerID, folderPath, candidate, excludeID)
		if err != nil {
			return "", fmt.Errorf("lookup filename %q: %w", candidate, err)
		}
		if existing == nil {
			return candidate, nil
		}
	}

	// Last resort: a short random suffix, accepted unconditionally.
	candidate := fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
	if ext != "" {
		candidate += "." + ext
	}
	return candidate, nil
}
