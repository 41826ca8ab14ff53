package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// ErrDirectoryTraversal indicates a file name label that tries to escape the target directory.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// ErrInvalidFileName indicates a file name label that cannot name a file.
var ErrInvalidFileName = errors.New("invalid file name")

// DefaultFileName is used when the peer's label is empty.
const DefaultFileName = "received.bin"

// maxNameBytes is the longest single path component common filesystems accept.
const maxNameBytes = 255

// SanitizeFileName turns the metadata file name label into a bare file name.
// Directory components are stripped; any ".." component is rejected. Names
// longer than the filesystem allows are cut short, keeping the extension.
func SanitizeFileName(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultFileName, nil
	}
	if strings.ContainsRune(label, 0) {
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidFileName)
	}

	parts := strings.FieldsFunc(label, func(r rune) bool { return r == '/' || r == '\\' })
	for _, part := range parts {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}
	if len(parts) == 0 {
		return DefaultFileName, nil
	}

	name := parts[len(parts)-1]
	if name == "." {
		return DefaultFileName, nil
	}
	if len(name) > maxNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > maxNameBytes/2 {
			ext = ""
		}
		name = truncateName(strings.TrimSuffix(name, ext), maxNameBytes-len(ext)) + ext
	}
	return name, nil
}

// truncateName cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// UniqueFilePath returns path if nothing exists there. Otherwise it derives
// "<base>_<n><ext>" candidates in the same directory, where base is the stem
// up to its first underscore, and returns the first unused one (n counts up
// from 1). base is shortened as needed to keep candidates within the
// filesystem's name length limit.
func UniqueFilePath(path string) (string, error) {
	dir, name := filepath.Split(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" || len(ext) > maxNameBytes/2 {
		// dotfile such as ".env": the whole name is the stem
		stem, ext = name, ""
	}

	base := stem
	if i := strings.Index(stem, "_"); i > 0 {
		base = stem[:i]
	}

	candidate := path
	for counter := 1; ; counter++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			if candidate != path {
				logrus.WithFields(logrus.Fields{
					"function":  "UniqueFilePath",
					"requested": path,
					"chosen":    candidate,
				}).Info("Destination existed, using new file name")
			}
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		suffix := fmt.Sprintf("_%d%s", counter, ext)
		candidate = filepath.Join(dir, truncateName(base, maxNameBytes-len(suffix))+suffix)
	}
}
