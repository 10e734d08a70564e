package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardenfel/vfat/testutil"
	"github.com/ardenfel/vfat/vfat"
)

// TestCompressFixture_RoundTrip builds a small volume, writes a file into
// it, checks it into fixture form with CompressFixture, reloads it with
// LoadCompressedFixture, and confirms the reloaded device still mounts and
// reads back the same file contents. This is the round trip a checked-in
// fixture blob goes through: built once, compressed, and replayed by later
// test runs without re-deriving a geometry.
func TestCompressFixture_RoundTrip(t *testing.T) {
	device, err := testutil.BuildVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 20,
	})
	require.NoError(t, err)

	fs, err := vfat.Mount(device)
	require.NoError(t, err)

	f, err := fs.CreateFile("hello.txt")
	require.NoError(t, err)
	want := []byte("a fixture worth keeping compact")
	require.NoError(t, f.Write(want))
	require.NoError(t, fs.Close())

	compressed, err := testutil.CompressFixture(device)
	require.NoError(t, err)
	assert.Less(t, len(compressed), int(device.SectorSize)*int(device.TotalSectors),
		"a mostly-empty volume should compress smaller than its raw size")

	reloaded, err := testutil.LoadCompressedFixture(compressed, device.SectorSize, uint(device.TotalSectors))
	require.NoError(t, err)

	reloadedFS, err := vfat.Mount(reloaded)
	require.NoError(t, err)
	defer reloadedFS.Close()

	got, err := reloadedFS.GetFile("hello.txt")
	require.NoError(t, err)
	contents, err := got.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, want, contents)
}

func TestLoadCompressedFixture_SizeMismatch(t *testing.T) {
	device, err := testutil.BuildVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 20,
	})
	require.NoError(t, err)

	compressed, err := testutil.CompressFixture(device)
	require.NoError(t, err)

	_, err = testutil.LoadCompressedFixture(compressed, device.SectorSize, uint(device.TotalSectors)+1)
	assert.Error(t, err)
}
