// Package fragment implements a read-only walk of the mounted volume,
// producing per-file and free-space fragmentation metrics, impact scores,
// and defragmentation recommendations. A corrupt chain under one file must
// not stop the rest of the volume from being analyzed, so per-file walk
// failures are aggregated rather than aborting the scan.
package fragment

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"

	"github.com/ardenfel/vfat/dirent"
	"github.com/ardenfel/vfat/vfat"
)

// Severity classifies how badly a single file's cluster chain is
// scattered across the volume.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLight    Severity = "LIGHT"
	SeverityModerate Severity = "MODERATE"
	SeverityHeavy    Severity = "HEAVY"
	SeveritySevere   Severity = "SEVERE"
)

// FileReport is one file's fragmentation metrics.
type FileReport struct {
	Path          string
	SizeBytes     uint32
	FragmentCount int
	AverageGap    float64
	Severity      Severity
}

// FreeSpaceReport summarizes the distribution of free clusters.
type FreeSpaceReport struct {
	BlockCount         int
	LargestBlock       int
	MeanBlockSize      float64
	FragmentationRatio float64 // percent, 0..100
}

// RecommendationLevel is the urgency of a recommendation.
type RecommendationLevel string

const (
	RecommendationHigh   RecommendationLevel = "HIGH"
	RecommendationMedium RecommendationLevel = "MEDIUM"
	RecommendationLow    RecommendationLevel = "LOW"
)

// Recommendation is one actionable finding from the analyzer.
type Recommendation struct {
	Level  RecommendationLevel
	Action string
	Detail string
}

// Report is the full result of one analyzer pass.
type Report struct {
	Files     []FileReport
	FreeSpace FreeSpaceReport

	SeekDistanceScore        float64
	FragmentationImpactScore float64
	ReadEfficiencyScore      float64

	Recommendations []Recommendation

	// FSInfoMismatch is set when the volume is FAT32, carries an FSInfo
	// sector, and its advisory free-cluster count disagrees with the
	// count this pass actually found.
	FSInfoMismatch     bool
	FSInfoFreeClusters uint32
	ActualFreeClusters int
}

// Analyze walks fs's entire directory tree and every free cluster,
// producing a Report. It never mutates the volume. Per-file walk failures (e.g. a
// corrupt chain) are aggregated into the returned error without aborting
// the rest of the scan.
func Analyze(fs *vfat.Filesystem) (*Report, error) {
	var merr *multierror.Error

	files := walkDirectory(fs, fs.Root(), "", &merr)

	freeSpace := scanFreeSpace(fs)

	report := &Report{
		Files:     files,
		FreeSpace: freeSpace,
	}

	var totalSizeKB float64
	var weightedGapSum float64
	fragmentedCount := 0
	for _, f := range files {
		totalSizeKB += float64(f.SizeBytes) / 1024
		sizeFactor := math.Log(math.Max(1, float64(f.SizeBytes)/1024))
		weightedGapSum += f.AverageGap * sizeFactor
		if f.FragmentCount > 1 {
			fragmentedCount++
		}
	}

	seekScore := 0.0
	if totalSizeKB > 0 {
		seekScore = math.Min(100, (weightedGapSum/totalSizeKB)*10)
	}

	fileFragPct := 0.0
	if len(files) > 0 {
		fileFragPct = float64(fragmentedCount) / float64(len(files)) * 100
	}

	impactScore := 0.4*seekScore + 0.4*fileFragPct + 0.2*freeSpace.FragmentationRatio
	readEfficiency := 100 - impactScore
	if readEfficiency < 0 {
		readEfficiency = 0
	}
	if readEfficiency > 100 {
		readEfficiency = 100
	}

	report.SeekDistanceScore = seekScore
	report.FragmentationImpactScore = impactScore
	report.ReadEfficiencyScore = readEfficiency
	report.Recommendations = buildRecommendations(files, freeSpace, impactScore)

	if fsInfo := fs.FSInfo(); fsInfo != nil && fsInfo.FreeClusterCount != 0xFFFFFFFF {
		actualFree := countFreeClusters(fs)
		report.ActualFreeClusters = actualFree
		report.FSInfoFreeClusters = fsInfo.FreeClusterCount
		report.FSInfoMismatch = uint32(actualFree) != fsInfo.FreeClusterCount
	}

	return report, merr.ErrorOrNil()
}

func walkDirectory(fs *vfat.Filesystem, dir *vfat.Directory, prefix string, merr **multierror.Error) []FileReport {
	entries, err := dir.List()
	if err != nil {
		*merr = multierror.Append(*merr, fmt.Errorf("listing %s: %w", prefix, err))
		return nil
	}

	var out []FileReport
	for _, e := range entries {
		if e.DisplayName == "." || e.DisplayName == ".." {
			continue
		}
		path := prefix + "/" + e.DisplayName

		if e.IsDir() {
			sub := dir.OpenSubdirectory(&e)
			out = append(out, walkDirectory(fs, sub, path, merr)...)
			continue
		}

		fr, err := analyzeFile(fs, &e, path)
		if err != nil {
			*merr = multierror.Append(*merr, err)
			continue
		}
		out = append(out, *fr)
	}
	return out
}

func analyzeFile(fs *vfat.Filesystem, e *dirent.Entry, path string) (*FileReport, error) {
	if e.FirstCluster == 0 {
		return &FileReport{Path: path, SizeBytes: e.Size, FragmentCount: 0, AverageGap: 0, Severity: SeverityNone}, nil
	}

	chain, err := fs.FatTable().FollowChain(e.FirstCluster)
	if err != nil {
		return nil, fmt.Errorf("following chain for %s: %w", path, err)
	}

	count, avgGap := fragmentsOf(chain)
	return &FileReport{
		Path:          path,
		SizeBytes:     e.Size,
		FragmentCount: count,
		AverageGap:    avgGap,
		Severity:      severityOf(count, avgGap),
	}, nil
}

// fragmentsOf counts maximal runs of consecutive cluster numbers in chain
// order and the mean gap size between non-consecutive neighbors.
func fragmentsOf(chain []uint32) (count int, avgGap float64) {
	if len(chain) == 0 {
		return 0, 0
	}
	count = 1
	var gapSum, gapCount int
	for i := 1; i < len(chain); i++ {
		if chain[i] != chain[i-1]+1 {
			count++
			gapSum += int(chain[i]) - int(chain[i-1]) - 1
			gapCount++
		}
	}
	if gapCount == 0 {
		return count, 0
	}
	return count, float64(gapSum) / float64(gapCount)
}

func severityOf(fragCount int, avgGap float64) Severity {
	switch {
	case fragCount <= 1:
		return SeverityNone
	case fragCount == 2 && avgGap < 10:
		return SeverityLight
	case fragCount <= 5 && avgGap < 50:
		return SeverityModerate
	case fragCount <= 10 || avgGap < 100:
		return SeverityHeavy
	default:
		return SeveritySevere
	}
}

func scanFreeSpace(fs *vfat.Filesystem) FreeSpaceReport {
	table := fs.FatTable()
	total := table.TotalClusters()

	var blocks []int
	runLen := 0
	for c := uint32(2); c < uint32(total)+2; c++ {
		v, err := table.Get(c)
		if err == nil && v == 0 {
			runLen++
		} else if runLen > 0 {
			blocks = append(blocks, runLen)
			runLen = 0
		}
	}
	if runLen > 0 {
		blocks = append(blocks, runLen)
	}

	report := FreeSpaceReport{BlockCount: len(blocks)}
	if len(blocks) == 0 {
		return report
	}

	sum := 0
	largest := 0
	for _, b := range blocks {
		sum += b
		if b > largest {
			largest = b
		}
	}
	report.LargestBlock = largest
	report.MeanBlockSize = float64(sum) / float64(len(blocks))
	if len(blocks) > 1 {
		report.FragmentationRatio = float64(len(blocks)-1) / float64(len(blocks)) * 100
	}
	return report
}

func countFreeClusters(fs *vfat.Filesystem) int {
	table := fs.FatTable()
	total := table.TotalClusters()
	count := 0
	for c := uint32(2); c < uint32(total)+2; c++ {
		if v, err := table.Get(c); err == nil && v == 0 {
			count++
		}
	}
	return count
}

func buildRecommendations(files []FileReport, freeSpace FreeSpaceReport, impactScore float64) []Recommendation {
	var recs []Recommendation

	var affected []string
	for _, f := range files {
		if f.Severity == SeveritySevere || f.FragmentCount > 10 {
			affected = append(affected, f.Path)
		}
	}
	if len(affected) > 0 {
		recs = append(recs, Recommendation{
			Level:  RecommendationHigh,
			Action: "DEFRAGMENT_FILES",
			Detail: fmt.Sprintf("%d severely fragmented file(s): %v", len(affected), affected),
		})
	}

	if freeSpace.FragmentationRatio > 50 {
		recs = append(recs, Recommendation{
			Level:  RecommendationMedium,
			Action: "CONSOLIDATE_FREE_SPACE",
			Detail: fmt.Sprintf("free space fragmentation ratio %.1f%%", freeSpace.FragmentationRatio),
		})
	}

	if impactScore > 30 {
		recs = append(recs, Recommendation{
			Level:  RecommendationLow,
			Action: "FULL_DEFRAGMENTATION",
			Detail: fmt.Sprintf("overall fragmentation impact score %.1f", impactScore),
		})
	}

	return recs
}
