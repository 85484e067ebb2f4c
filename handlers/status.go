package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"golang.org/x/sys/unix"
)

// GetFreeSpace returns the free space in bytes for the filesystem containing the given directory
func getFreeSpace(dir string) (uint64, error) {
	var stat unix.Statfs_t
	err := unix.Statfs(dir, &stat)
	if err != nil {
		return 0, fmt.Errorf("error getting filesystem stats: %v", err)
	}

	// Calculate free space
	freeSpace := stat.Bavail * uint64(stat.Bsize)
	return freeSpace, nil
}

// GetDirectorySize calculates the total size of a directory in bytes
func getDirectorySize(dir string) (int64, error) {
	var size int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error walking directory: %v", err)
	}
	return size, nil
}

type serverStatus struct {
	FFmpeg  string `json:"ffmpeg"`
	FreeMiB string `json:"freeMiB"`
	UsedMiB string `json:"usedMiB"`
	Build   Build  `json:"build"`
}

func (h *Handlers) StatusGet(c echo.Context) error {

	version, err := h.ffmpeg.Version(c.Request().Context())
	if err != nil {
		h.log.Errorln(err)
	}

	free, err := getFreeSpace(h.outputDir)
	if err != nil {
		h.log.Errorln(err)
	}
	used, err := getDirectorySize(h.outputDir)
	if err != nil {
		h.log.Errorln(err)
	}

	freeMiB := float64(free) / 1024 / 1024
	usedMiB := float64(used) / 1024 / 1024

	return c.JSON(http.StatusOK, serverStatus{
		FFmpeg:  version,
		FreeMiB: fmt.Sprintf("%.2f", freeMiB),
		UsedMiB: fmt.Sprintf("%.2f", usedMiB),
		Build:   MakeBuild(),
	})
}
