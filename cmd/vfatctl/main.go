// Command vfatctl is a small collaborator CLI over the engine: mount a raw
// FAT12/16/32 image file and list, read, write, or fragmentation-analyze it
// from the shell.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ardenfel/vfat/blockdev"
	"github.com/ardenfel/vfat/fragment"
	"github.com/ardenfel/vfat/vfat"
)

func main() {
	app := cli.App{
		Name:  "vfatctl",
		Usage: "inspect and edit FAT12/16/32 volume image files",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "list a directory's entries",
				ArgsUsage: "IMAGE PATH",
				Action:    runList,
			},
			{
				Name:      "cat",
				Usage:     "print a file's contents to stdout",
				ArgsUsage: "IMAGE PATH",
				Action:    runCat,
			},
			{
				Name:      "write",
				Usage:     "write a local file's contents into the image, creating it if missing",
				ArgsUsage: "IMAGE PATH LOCAL_FILE",
				Action:    runWrite,
			},
			{
				Name:      "mkdir",
				Usage:     "create a directory, including missing intermediate directories",
				ArgsUsage: "IMAGE PATH",
				Action:    runMkdir,
			},
			{
				Name:      "rm",
				Usage:     "delete a file or empty directory",
				ArgsUsage: "IMAGE PATH",
				Action:    runRemove,
			},
			{
				Name:      "frag",
				Usage:     "analyze the volume's fragmentation",
				ArgsUsage: "IMAGE",
				Action:    runFrag,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("vfatctl: %s", err)
	}
}

// openImage opens path read-write and mounts it as a FAT volume. The sector
// size can't be known before the boot sector is read, so the first mount
// uses the conventional 512; if bpb.Parse finds a different bytes-per-sector
// value in the image, the device is rebuilt with that size and remounted.
func openImage(path string) (*vfat.Filesystem, func() error, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}

	const sectorSize = 512
	totalSectors, err := blockdev.DetectTotalSectors(f, sectorSize)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("detecting size of %s: %w", path, err)
	}

	device := blockdev.New(f, totalSectors, sectorSize, 0)
	fs, err := vfat.Mount(device)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("mounting %s: %w", path, err)
	}
	if bps := fs.BootSector().BytesPerSector; bps != sectorSize {
		totalSectors, err = blockdev.DetectTotalSectors(f, bps)
		if err == nil {
			fs, err = vfat.Mount(blockdev.New(f, totalSectors, bps, 0))
		}
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("remounting %s with %d-byte sectors: %w", path, bps, err)
		}
	}
	return fs, f.Close, nil
}

func runList(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: vfatctl ls IMAGE PATH")
	}
	fs, closeFn, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	dir, err := fs.GetDirectory(c.Args().Get(1))
	if err != nil {
		return err
	}

	entries, err := dir.List()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		kind := "FILE"
		if entry.IsDir() {
			kind = "DIR "
		}
		fmt.Printf("%s  %10d  %s\n", kind, entry.Size, entry.DisplayName)
	}
	return nil
}

func runCat(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: vfatctl cat IMAGE PATH")
	}
	fs, closeFn, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	file, err := fs.GetFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	data, err := file.ReadAll()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runWrite(c *cli.Context) error {
	if c.Args().Len() < 3 {
		return fmt.Errorf("usage: vfatctl write IMAGE PATH LOCAL_FILE")
	}
	fs, closeFn, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	data, err := os.ReadFile(c.Args().Get(2))
	if err != nil {
		return err
	}

	file, err := fs.CreateFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	return file.Write(data)
}

func runMkdir(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: vfatctl mkdir IMAGE PATH")
	}
	fs, closeFn, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	_, err = fs.CreateDirectory(c.Args().Get(1))
	return err
}

func runRemove(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: vfatctl rm IMAGE PATH")
	}
	fs, closeFn, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	parent, name := splitParent(c.Args().Get(1))
	dir, err := fs.GetDirectory(parent)
	if err != nil {
		return err
	}
	return dir.Delete(name)
}

func runFrag(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("usage: vfatctl frag IMAGE")
	}
	fs, closeFn, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := fragment.Analyze(fs)
	if err != nil {
		log.Printf("warning: %s", err)
	}

	fmt.Printf("files analyzed: %d\n", len(report.Files))
	for _, f := range report.Files {
		if f.FragmentCount > 1 {
			fmt.Printf("  %-40s %6d bytes  %2d fragments  avg gap %.1f  %s\n",
				f.Path, f.SizeBytes, f.FragmentCount, f.AverageGap, f.Severity)
		}
	}
	fmt.Printf("free space: %d blocks, largest %d clusters, fragmentation %.1f%%\n",
		report.FreeSpace.BlockCount, report.FreeSpace.LargestBlock, report.FreeSpace.FragmentationRatio)
	fmt.Printf("seek distance score: %.1f\n", report.SeekDistanceScore)
	fmt.Printf("fragmentation impact score: %.1f\n", report.FragmentationImpactScore)
	fmt.Printf("read efficiency score: %.1f\n", report.ReadEfficiencyScore)
	for _, rec := range report.Recommendations {
		fmt.Printf("[%s] %s: %s\n", rec.Level, rec.Action, rec.Detail)
	}
	return nil
}

// splitParent splits a path into its parent directory path and final
// component, for commands (rm) that need the containing Directory handle
// rather than just the resolved entry.
func splitParent(path string) (parent, name string) {
	last := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			last = i
			break
		}
	}
	if last < 0 {
		return "", path
	}
	return path[:last], path[last+1:]
}
