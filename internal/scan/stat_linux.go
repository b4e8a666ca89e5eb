//go:build linux

package scan

import (
	"os"
	"syscall"
)

// statTimes extracts change and modification times as nanosecond epochs.
func statTimes(info os.FileInfo) (ctime, mtime int64) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ctim.Nano(), st.Mtim.Nano()
	}
	return info.ModTime().UnixNano(), info.ModTime().UnixNano()
}
