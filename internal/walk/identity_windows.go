//go:build windows

package walk

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// identityOf asks NTFS for the volume serial and file index. The
// attribute data carried by os.FileInfo does not include them.
func identityOf(path string, info os.FileInfo) (Identity, bool) {
	if _, ok := info.Sys().(*syscall.Win32FileAttributeData); !ok {
		return pathIdentity(path), true
	}

	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Identity{}, false
	}
	h, err := windows.CreateFile(p, 0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return Identity{}, false
	}
	defer windows.CloseHandle(h)

	var fi windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &fi); err != nil {
		return Identity{}, false
	}
	return Identity{
		Dev: uint64(fi.VolumeSerialNumber),
		Ino: uint64(fi.FileIndexHigh)<<32 | uint64(fi.FileIndexLow),
	}, true
}
