//go:build darwin

package storage

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func birthTime(abs string, info os.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return info.ModTime()
	}
	return time.Unix(st.Birthtimespec.Sec, st.Birthtimespec.Nsec)
}
