package spaceInformations

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectedPartition mirrors GetDeviceAndMountPoint's longest-match rule.
func expectedPartition(t *testing.T, path string) disk.PartitionStat {
	t.Helper()
	partitions, err := disk.Partitions(true)
	if err != nil {
		t.Fatalf("disk.Partitions returned error: %v", err)
	}
	if len(partitions) == 0 {
		t.Skip("no partitions available on this system")
	}

	resolved, err := existingAncestor(path)
	require.NoError(t, err)

	var chosen disk.PartitionStat
	for _, p := range partitions {
		if contains(resolved, p.Mountpoint) && len(p.Mountpoint) > len(chosen.Mountpoint) {
			chosen = p
		}
	}
	if chosen.Mountpoint == "" {
		t.Skipf("no partition with a mountpoint covering %q", resolved)
	}
	return chosen
}

func TestGetDeviceAndMountPoint_TempDir(t *testing.T) {
	temp := t.TempDir()
	expected := expectedPartition(t, temp)

	mountPoint, device, err := GetDeviceAndMountPoint(temp)
	if err != nil {
		t.Fatalf("expected no error for temp dir %q, got: %v", temp, err)
	}
	if mountPoint != expected.Mountpoint {
		t.Fatalf("expected mount point %q, got %q", expected.Mountpoint, mountPoint)
	}
	if device != expected.Device {
		t.Fatalf("expected device %q, got %q", expected.Device, device)
	}
}

func TestGetDeviceAndMountPoint_TempDirNested(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "some", "nested", "path", "that", "does", "not", "exist")
	expected := expectedPartition(t, nested)

	mountPoint, device, err := GetDeviceAndMountPoint(nested)
	require.NoError(t, err)
	assert.Equal(t, expected.Mountpoint, mountPoint)
	assert.Equal(t, expected.Device, device)
}

func TestContains(t *testing.T) {
	assert.True(t, contains("/var/lib/data", "/"))
	assert.True(t, contains("/var/lib/data", "/var/lib"))
	assert.True(t, contains("/var/lib", "/var/lib/"))
	assert.False(t, contains("/var/library", "/var/lib"))
	assert.False(t, contains("/var/lib", ""))
}

func TestEnsureDirectory(t *testing.T) {
	base := t.TempDir()

	nested := filepath.Join(base, "nested", "dir")
	require.NoError(t, EnsureDirectory(nested))
	info, err := os.Stat(nested)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// Existing directories are accepted as is.
	require.NoError(t, EnsureDirectory(nested))

	file := filepath.Join(base, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o600))
	require.Error(t, EnsureDirectory(file))
}

func TestCheckFreeSpace(t *testing.T) {
	temp := t.TempDir()

	require.NoError(t, CheckFreeSpace(temp, 0))
	require.Error(t, CheckFreeSpace(temp, math.MaxInt32))

	free, err := FreeBytes(filepath.Join(temp, "missing", "child"))
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}

func TestCalculateDirectorySize(t *testing.T) {
	temp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(temp, "a"), make([]byte, 100), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(temp, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(temp, "sub", "b"), make([]byte, 23), 0o600))

	size, err := CalculateDirectorySize(temp)
	require.NoError(t, err)
	assert.Equal(t, int64(123), size)
}

func TestDisplayDiskUsage(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	require.Error(t, DisplayDiskUsage(logger, nil))

	temp := t.TempDir()
	expectedPartition(t, temp)
	require.NoError(t, DisplayDiskUsage(logger, []string{temp}))
}
