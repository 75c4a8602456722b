package curation

// Grade is the quality grade of one species, A best to E worst.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeE Grade = "E"
)

// Grades lists every grade in display order.
var Grades = []Grade{GradeA, GradeB, GradeC, GradeD, GradeE}

// Record count thresholds for single-cluster species.
const (
	gradeAMinRecords = 11
	gradeBMinRecords = 3
)

// ClusterExclusivity tells whether one cluster of a species holds no other species.
type ClusterExclusivity struct {
	Cluster   string
	Exclusive bool
}

// GradeInput is everything the grade of one species depends on.
type GradeInput struct {
	ClusterCount     int
	ValidRecordCount int
	IsSharing        bool
	Clusters         []ClusterExclusivity
}

// CalculateGrade maps a species' grouping facts to a grade. The first
// matching rule wins.
func CalculateGrade(in GradeInput) Grade {
	if in.IsSharing {
		return GradeE
	}

	switch {
	case in.ClusterCount == 1:
		switch {
		case in.ValidRecordCount >= gradeAMinRecords:
			return GradeA
		case in.ValidRecordCount >= gradeBMinRecords:
			return GradeB
		default:
			return GradeD
		}
	case in.ClusterCount > 1:
		for _, c := range in.Clusters {
			if !c.Exclusive {
				return GradeE
			}
		}
		return GradeC
	}

	// no clusters at all
	return GradeE
}

// emptyHistogram returns a histogram with every grade present.
func emptyHistogram() map[Grade]int {
	h := make(map[Grade]int, len(Grades))
	for _, g := range Grades {
		h[g] = 0
	}
	return h
}
