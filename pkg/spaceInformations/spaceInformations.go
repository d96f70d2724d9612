// Package spaceInformations reports disk usage for the directories that
// on-disk stores write to and gates store startup on free space.
package spaceInformations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// bytesPerGB is the unit MinimumFreeSpace is configured in.
const bytesPerGB = 1_000_000_000

// CalculateDirectorySize calculates the total size of files within a directory
func CalculateDirectorySize(path string) (size int64, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return
}

// existingAncestor returns the closest existing directory for path,
// resolving symlinks on the way.
func existingAncestor(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	current := absPath
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			current = resolved
		}

		_, infoErr := os.Stat(current)
		if infoErr == nil {
			if current == string(os.PathSeparator) && current != absPath {
				return "", fmt.Errorf("path does not exist beyond root: %s", path)
			}
			return current, nil
		}
		if !os.IsNotExist(infoErr) {
			return "", infoErr
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("path does not exist: %s", path)
		}
		current = parent
	}
}

// GetDeviceAndMountPoint returns the mount point and device holding path.
// Missing trailing components are resolved against their closest existing
// parent.
func GetDeviceAndMountPoint(path string) (string, string, error) {
	partitions, err := disk.Partitions(true)
	if err != nil {
		return "", "", err
	}

	matchPath, err := existingAncestor(path)
	if err != nil {
		return "", "", err
	}

	// The longest mount point containing the path wins, so nested mounts
	// are not shadowed by "/".
	var mountPoint, device string
	for _, partition := range partitions {
		if contains(matchPath, partition.Mountpoint) && len(partition.Mountpoint) > len(mountPoint) {
			mountPoint, device = partition.Mountpoint, partition.Device
		}
	}
	if mountPoint == "" {
		return "", "", fmt.Errorf("mount point not found for path: %s", path)
	}
	return mountPoint, device, nil
}

// contains checks if a path is within the mount point.
func contains(path, mountpoint string) bool {
	if mountpoint == "" {
		return false
	}

	p := filepath.Clean(path)
	m := filepath.Clean(mountpoint)

	if m == string(os.PathSeparator) {
		return true
	}

	if p == m {
		return true
	}

	m = strings.TrimSuffix(m, string(os.PathSeparator))

	return strings.HasPrefix(p, m+string(os.PathSeparator))
}

// FreeBytes returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	dir, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage for %s: %w", dir, err)
	}
	return usage.Free, nil
}

// EnsureDirectory creates path if it is missing and fails if it exists but
// is not a directory.
func EnsureDirectory(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("path %s is not a directory", path)
		}
		return nil
	case os.IsNotExist(err):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
}

// CheckFreeSpace fails when the filesystem holding path has less than
// minimumGB gigabytes available.
func CheckFreeSpace(path string, minimumGB int) error {
	if minimumGB <= 0 {
		return nil
	}
	free, err := FreeBytes(path)
	if err != nil {
		return err
	}
	if free < uint64(minimumGB)*bytesPerGB {
		return fmt.Errorf("not enough free space in %s: %s available, %d GB required",
			path, humanize.Bytes(free), minimumGB)
	}
	return nil
}

// DisplayDiskUsage logs the disk usage of every path.
func DisplayDiskUsage(log *logrus.Logger, paths []string) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if len(paths) == 0 {
		log.Error("No path provided in configuration")
		return fmt.Errorf("no path provided in configuration")
	}

	for _, path := range paths {
		usage, err := disk.Usage(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Error("Error retrieving disk usage stats")
			return err
		}

		mountPoint, device, err := GetDeviceAndMountPoint(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Error("Error finding device and mount point")
			return err
		}

		pathSize, err := CalculateDirectorySize(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Error("Error calculating directory size")
			return err
		}

		log.WithFields(logrus.Fields{
			"path":        path,
			"device":      device,
			"mount_point": mountPoint,
			"total":       humanize.Bytes(usage.Total),
			"used":        humanize.Bytes(usage.Used),
			"free":        humanize.Bytes(usage.Free),
			"store_usage": humanize.Bytes(uint64(pathSize)),
		}).Info("Disk usage information for path")
	}

	return nil
}
