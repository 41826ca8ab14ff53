//go:build !(linux || darwin || freebsd)

package file

// AvailableSpace is not implemented on this platform.
func AvailableSpace(dir string) (uint64, error) {
	return 0, ErrSpaceUnknown
}
