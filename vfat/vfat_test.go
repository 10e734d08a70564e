package vfat_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardenfel/vfat/errs"
	"github.com/ardenfel/vfat/testutil"
)

func TestFAT12_HelloWorld_RoundTrip(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 4, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 342,
	})
	require.NoError(t, err)
	defer fs.Close()

	f, err := fs.CreateFile("hello.txt")
	require.NoError(t, err)
	require.NoError(t, f.Write([]byte("hello, world")))

	// First allocated cluster on a freshly formatted volume is always 2.
	e, err := fs.Get("hello.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 2, e.FirstCluster)

	got, err := fs.GetFile("hello.txt")
	require.NoError(t, err)
	data, err := got.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(data))
}

func TestFAT32_MultiFile_DisjointChains(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 0, TotalDataClusters: 70000,
	})
	require.NoError(t, err)
	defer fs.Close()

	for i := 0; i < 10; i++ {
		name := "file" + string(rune('0'+i)) + ".txt"
		f, err := fs.CreateFile(name)
		require.NoError(t, err)
		require.NoError(t, f.Write(bytes.Repeat([]byte{byte(i)}, 513))) // spans 2+ clusters

		got, err := fs.GetFile(name)
		require.NoError(t, err)
		data, err := got.ReadAll()
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{byte(i)}, 513), data)
	}

	// No cluster may belong to more than one file's chain.
	owner := map[uint32]string{}
	for i := 0; i < 10; i++ {
		name := "file" + string(rune('0'+i)) + ".txt"
		e, err := fs.Get(name)
		require.NoError(t, err)
		chain, err := fs.FatTable().FollowChain(e.FirstCluster)
		require.NoError(t, err)
		assert.Len(t, chain, 2)
		for _, c := range chain {
			assert.NotContains(t, owner, c, "cluster %d is in the chains of %s and %s", c, owner[c], name)
			owner[c] = name
		}
	}
}

func TestLFN_ShortNameUniqueness_MYDOCU(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 512, TotalDataClusters: 5000,
	})
	require.NoError(t, err)
	defer fs.Close()

	names := []string{"My Document.txt", "My Documents.txt", "My Document Two.txt"}
	expectedShort := []string{"MYDOCU~1.TXT", "MYDOCU~2.TXT", "MYDOCU~3.TXT"}

	root := fs.Root()
	for i, name := range names {
		_, err := root.CreateFile(name)
		require.NoError(t, err)
		e, err := root.Get(name)
		require.NoError(t, err)
		assert.Equal(t, expectedShort[i], e.ShortName)
	}
}

func TestUnicodeLongName_RoundTrip(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 512, TotalDataClusters: 5000,
	})
	require.NoError(t, err)
	defer fs.Close()

	name := "Документ.txt"
	_, err = fs.CreateFile(name)
	require.NoError(t, err)

	e, err := fs.Get(name)
	require.NoError(t, err)
	assert.Equal(t, name, e.DisplayName)
}

func TestRootDirectoryFull_FAT16(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 5000,
	})
	require.NoError(t, err)
	defer fs.Close()

	root := fs.Root()
	for i := 0; i < 16; i++ {
		name := string(rune('A'+i)) + ".TXT"
		_, err := root.CreateFile(name)
		require.NoError(t, err, "entry %d should fit in the fixed 16-entry root", i)
	}

	_, err = root.CreateFile("OVERFLOW.TXT")
	assert.ErrorIs(t, err, errs.ErrDirectoryFull)
}

func TestSubdirectory_ExpandsPastInitialCluster(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 5000,
	})
	require.NoError(t, err)
	defer fs.Close()

	sub, err := fs.CreateDirectory("big")
	require.NoError(t, err)

	// 512-byte cluster / 32-byte entries = 16 entries per cluster, already
	// consumed 2 by "." and "..", so this forces at least one expansion.
	for i := 0; i < 40; i++ {
		name := "f" + paddedNum(i) + ".txt"
		_, err := sub.CreateFile(name)
		require.NoError(t, err, "file %d", i)
	}

	entries, err := sub.List()
	require.NoError(t, err)
	assert.Len(t, entries, 42) // 40 files + "." + ".."
}

func paddedNum(i int) string {
	digits := "0123456789"
	return string(digits[i/10]) + string(digits[i%10])
}

func TestDelete_ReclaimsSpace(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 5,
	})
	require.NoError(t, err)
	defer fs.Close()

	root := fs.Root()
	f, err := root.CreateFile("A.TXT")
	require.NoError(t, err)
	require.NoError(t, f.Write(bytes.Repeat([]byte{1}, 5*512))) // consume every cluster

	_, err = fs.FatTable().AllocateOne()
	assert.ErrorIs(t, err, errs.ErrNoSpace)

	require.NoError(t, root.Delete("A.TXT"))

	_, err = fs.FatTable().AllocateChain(5)
	assert.NoError(t, err)
}

func TestDelete_CannotDeleteDotOrDotDot(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 50,
	})
	require.NoError(t, err)
	defer fs.Close()

	sub, err := fs.CreateDirectory("d")
	require.NoError(t, err)

	err = sub.Delete(".")
	assert.ErrorIs(t, err, errs.ErrCannotDeleteRoot)
	err = sub.Delete("..")
	assert.ErrorIs(t, err, errs.ErrCannotDeleteRoot)
}

func TestDelete_NonEmptyDirectoryFails(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 50,
	})
	require.NoError(t, err)
	defer fs.Close()

	root := fs.Root()
	sub, err := root.CreateDirectory("d")
	require.NoError(t, err)
	_, err = sub.CreateFile("child.txt")
	require.NoError(t, err)

	err = root.Delete("d")
	assert.ErrorIs(t, err, errs.ErrDirectoryNotEmpty)
}

func TestGetFile_RejectsDirectory(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 50,
	})
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.CreateDirectory("d")
	require.NoError(t, err)

	_, err = fs.GetFile("d")
	assert.ErrorIs(t, err, errs.ErrNotAFile)
}

func TestGetDirectory_RejectsFile(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 50,
	})
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.CreateFile("f.txt")
	require.NoError(t, err)

	_, err = fs.GetDirectory("f.txt")
	assert.ErrorIs(t, err, errs.ErrNotADirectory)
}

func TestCreateFile_NestedIntermediateDirectoriesAutoCreated(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 50,
	})
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.CreateFile("a/b/c.txt")
	require.NoError(t, err)

	e, err := fs.Get("a/b/c.txt")
	require.NoError(t, err)
	assert.False(t, e.IsDir())
}

func TestGet_NotFound(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 50,
	})
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.Get("nope.txt")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestFile_Append(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 50,
	})
	require.NoError(t, err)
	defer fs.Close()

	f, err := fs.CreateFile("log.txt")
	require.NoError(t, err)
	require.NoError(t, f.Write([]byte("first")))
	require.NoError(t, f.Append([]byte("second")))

	data, err := f.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "firstsecond", string(data))
}

func TestFile_Truncate_ShrinkAndGrow(t *testing.T) {
	fs, err := testutil.MountVolume(testutil.VolumeOptions{
		BytesPerSector: 512, SectorsPerCluster: 1, NumFATs: 2,
		RootEntryCount: 16, TotalDataClusters: 50,
	})
	require.NoError(t, err)
	defer fs.Close()

	f, err := fs.CreateFile("t.txt")
	require.NoError(t, err)
	require.NoError(t, f.Write([]byte("0123456789")))

	require.NoError(t, f.Truncate(4))
	data, err := f.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))

	require.NoError(t, f.Truncate(6))
	data, err = f.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte{'0', '1', '2', '3', 0, 0}, data)
}
