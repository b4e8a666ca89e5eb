//go:build !linux

package scan

import "os"

// statTimes falls back to the modification time where the platform does
// not expose a change time through os.FileInfo.
func statTimes(info os.FileInfo) (ctime, mtime int64) {
	ns := info.ModTime().UnixNano()
	return ns, ns
}
