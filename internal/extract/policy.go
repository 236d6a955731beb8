package extract

import (
	"path/filepath"
	"strings"
)

// ExcludedSegments lists dependency and tooling folders that are never
// extracted and never analyzed. The agent runtime shares this list.
var ExcludedSegments = []string{
	"node_modules", "vendor", ".git", "bin", "obj", "__pycache__", ".vs", ".idea",
}

// deniedExtensions is the binary/media/archive denylist. Entries with these
// extensions are skipped, not failed; source review has no use for them.
var deniedExtensions = map[string]struct{}{
	// executables and libraries
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".a": {}, ".o": {},
	".class": {}, ".pyc": {}, ".wasm": {},
	// images
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".ico": {},
	".tiff": {}, ".webp": {},
	// media
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wav": {}, ".flac": {},
	".mkv": {}, ".ogg": {},
	// office documents
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".pdf": {},
	// nested archives
	".zip": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".bz2": {}, ".xz": {},
	".rar": {}, ".7z": {}, ".jar": {}, ".war": {},
}

// ExtensionDenied reports whether the file extension is on the denylist.
func ExtensionDenied(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, denied := deniedExtensions[ext]
	return denied
}

// HasExcludedSegment reports whether any path component of the
// slash-separated name is an excluded dependency folder.
func HasExcludedSegment(name string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		for _, excluded := range ExcludedSegments {
			if seg == excluded {
				return true
			}
		}
	}
	return false
}

// containsDotDot reports whether any path component is "..".
func containsDotDot(name string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// normalizeEntryName converts an archive entry name to a relative,
// OS-native path with leading separators and "." components stripped.
func normalizeEntryName(name string) string {
	slashed := filepath.ToSlash(name)
	slashed = strings.TrimLeft(slashed, "/")
	parts := strings.Split(slashed, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		kept = append(kept, p)
	}
	return filepath.FromSlash(strings.Join(kept, "/"))
}
