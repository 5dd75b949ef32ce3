package extract

// Candidate is one potential value for a field found by the rule pass.
type Candidate struct {
	Value  string
	Weight float64 // label proximity quality of the matching rule
	Pos    int     // byte offset in the aggregated text
}

// PickCandidate selects among competing candidates for one field. The
// default prefers the highest weight and breaks ties by first position in
// aggregation order; callers with different corpora can override it.
type PickCandidate func([]Candidate) Candidate

func defaultPick(cands []Candidate) Candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Weight > best.Weight || (c.Weight == best.Weight && c.Pos < best.Pos) {
			best = c
		}
	}
	return best
}

// fieldMatch is a resolved, normalized field value with its rule weight.
type fieldMatch struct {
	Value  string
	Weight float64
}

// runHeuristics applies every field's rules to the aggregated text. Each
// field yields zero or more candidates; the pick function decides, and the
// winner is normalized per field kind. Candidates that fail normalization
// are discarded so the next best one can win.
func runHeuristics(text string, fields []Field, pick PickCandidate) map[string]fieldMatch {
	if pick == nil {
		pick = defaultPick
	}
	out := make(map[string]fieldMatch, len(fields))

	for _, f := range fields {
		var cands []Candidate
		for _, rule := range f.Rules {
			for _, m := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
				// m[2], m[3] bound the first capture group.
				if len(m) < 4 || m[2] < 0 {
					continue
				}
				cands = append(cands, Candidate{
					Value:  text[m[2]:m[3]],
					Weight: rule.Weight,
					Pos:    m[2],
				})
			}
		}
		for len(cands) > 0 {
			win := pick(cands)
			if v, ok := normalizeValue(f.Kind, win.Value); ok {
				out[f.Name] = fieldMatch{Value: v, Weight: win.Weight}
				break
			}
			cands = dropCandidate(cands, win)
		}
	}
	return out
}

func dropCandidate(cands []Candidate, c Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	removed := false
	for _, x := range cands {
		if !removed && x == c {
			removed = true
			continue
		}
		out = append(out, x)
	}
	return out
}
