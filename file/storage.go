package file

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrInsufficientSpace indicates the target filesystem cannot hold the assembled file.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// ErrSpaceUnknown indicates free space cannot be determined on this platform.
var ErrSpaceUnknown = errors.New("free space detection not supported")

// CheckSpace verifies that dir's filesystem has at least need bytes available
// to an unprivileged user. Platforms without free-space detection pass.
func CheckSpace(dir string, need uint64) error {
	available, err := AvailableSpace(dir)
	if errors.Is(err, ErrSpaceUnknown) {
		logrus.WithFields(logrus.Fields{
			"function": "CheckSpace",
			"dir":      dir,
		}).Debug("Skipping free space check")
		return nil
	}
	if err != nil {
		return err
	}

	if available < need {
		logrus.WithFields(logrus.Fields{
			"function":        "CheckSpace",
			"dir":             dir,
			"available_bytes": available,
			"needed_bytes":    need,
		}).Error("Not enough free space for assembly")
		return fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientSpace, need, available)
	}
	return nil
}
