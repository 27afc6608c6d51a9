// Package utils holds small filesystem helpers used by the gluec driver.
package utils

import (
	"path/filepath"
)

// GetPathInfo resolves relPath to an absolute path and returns it alongside
// its containing directory.
func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}
	parentDir = filepath.Dir(fullPath)
	return fullPath, parentDir, nil
}

// AppendExt appends ext (which should include the leading dot) to path
// without touching any extension path already has, e.g.
// AppendExt("foo/bar.glue", ".ll") -> "foo/bar.glue.ll".
func AppendExt(path, ext string) string {
	return path + ext
}
