package docking

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/proteosurf/proteosurf/internal/models"
)

// parsePoseTable reads the engine's stdout mode table:
//
//	mode |   affinity | dist from best mode
//	     | (kcal/mol) | rmsd l.b.| rmsd u.b.
//	-----+------------+----------+----------
//	   1       -7.501      0.000      0.000
//
// Rows are kept in engine order; ranks are assigned after reconciling.
func parsePoseTable(stdout string) []models.Pose {
	var poses []models.Pose
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		mode, err := strconv.Atoi(fields[0])
		if err != nil || mode < 1 {
			continue
		}
		affinity, err1 := strconv.ParseFloat(fields[1], 64)
		rmsdLB, err2 := strconv.ParseFloat(fields[2], 64)
		rmsdUB, err3 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		poses = append(poses, models.Pose{
			Rank:      mode,
			Affinity:  affinity,
			RMSDLower: rmsdLB,
			RMSDUpper: rmsdUB,
		})
	}
	return poses
}

// attachCoordinates reads the output PDBQT and attaches each MODEL's
// atom coordinates to the pose with the same position in engine order.
// A missing or truncated output file leaves poses without coordinates;
// affinities from the table still stand.
func attachCoordinates(poses []models.Pose, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	model := -1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MODEL"):
			model++
		case strings.HasPrefix(line, "ATOM") || strings.HasPrefix(line, "HETATM"):
			if model < 0 || model >= len(poses) || len(line) < 54 {
				continue
			}
			x, err1 := strconv.ParseFloat(strings.TrimSpace(line[30:38]), 64)
			y, err2 := strconv.ParseFloat(strings.TrimSpace(line[38:46]), 64)
			z, err3 := strconv.ParseFloat(strings.TrimSpace(line[46:54]), 64)
			if err1 != nil || err2 != nil || err3 != nil {
				continue
			}
			poses[model].Atoms = append(poses[model].Atoms, [3]float64{x, y, z})
		}
	}
}
