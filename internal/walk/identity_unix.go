//go:build !windows && !plan9 && !js && !wasip1

package walk

import (
	"os"
	"syscall"
)

func identityOf(path string, info os.FileInfo) (Identity, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return pathIdentity(path), true
	}
	return Identity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, true
}
