//go:build linux || darwin || freebsd

package file

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// AvailableSpace returns the bytes available to unprivileged users on the
// filesystem holding dir, using statfs.
func AvailableSpace(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AvailableSpace",
			"dir":      dir,
			"error":    err.Error(),
		}).Error("Failed to get filesystem stats via statfs")
		return 0, fmt.Errorf("failed to get filesystem stats: %w", err)
	}

	// Bavail is free blocks available to unprivileged users
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
