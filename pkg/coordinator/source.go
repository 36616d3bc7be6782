package coordinator

// Unit is one piece of work: a label, and a half-open range [Start, End) of image numbers
type Unit struct {
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Source hands out units. Next returns false once the source is exhausted.
// A Source is only used by one round, and the round serializes calls to Next.
type Source interface {
	Next() (Unit, bool)
}

// LabelRange is the range of image numbers [Start, End) of one label
type LabelRange struct {
	Label string
	Start int
	End   int
}

type fileRanges struct {
	ranges    []LabelRange
	batchSize int // in images
	label     int
	pos       int
}

// FileRanges splits each label's range into units of batchFiles files.
// Units of one label partition its range without gaps or overlaps, and labels
// are visited in order. The final unit of a label may be short.
func FileRanges(ranges []LabelRange, batchFiles, imagesPerFile int) Source {
	s := &fileRanges{
		ranges:    ranges,
		batchSize: max(batchFiles, 1) * max(imagesPerFile, 1),
	}
	if len(ranges) != 0 {
		s.pos = ranges[0].Start
	}
	return s
}

func (s *fileRanges) Next() (Unit, bool) {
	for s.label < len(s.ranges) {
		r := s.ranges[s.label]
		if s.pos < r.End {
			u := Unit{
				Label: r.Label,
				Start: s.pos,
				End:   min(s.pos+s.batchSize, r.End),
			}
			s.pos = u.End
			return u, true
		}
		s.label++
		if s.label < len(s.ranges) {
			s.pos = s.ranges[s.label].Start
		}
	}
	return Unit{}, false
}

type unitList struct {
	units []Unit
	next  int
}

// Units hands out a fixed list of units, in order
func Units(units []Unit) Source {
	return &unitList{units: units}
}

func (s *unitList) Next() (Unit, bool) {
	if s.next >= len(s.units) {
		return Unit{}, false
	}
	s.next++
	return s.units[s.next-1], true
}
