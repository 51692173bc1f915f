package knowledge

// RelationStat summarizes how one relation is used by a triple set
type RelationStat struct {
	Triples       int // number of triples using the relation
	DistinctHeads int
	DistinctTails int
}

// TailsPerHead is the average number of tails per distinct head (0 when unused)
func (s RelationStat) TailsPerHead() float64 {
	if s.DistinctHeads == 0 {
		return 0
	}
	return float64(s.Triples) / float64(s.DistinctHeads)
}

// HeadsPerTail is the average number of heads per distinct tail (0 when unused)
func (s RelationStat) HeadsPerTail() float64 {
	if s.DistinctTails == 0 {
		return 0
	}
	return float64(s.Triples) / float64(s.DistinctTails)
}

// ComputeRelationStats counts triples and distinct heads/tails per relation id
func ComputeRelationStats(triples []Triple, numRelations int) []RelationStat {
	stats := make([]RelationStat, numRelations)
	heads := make([]map[int]struct{}, numRelations)
	tails := make([]map[int]struct{}, numRelations)
	for _, t := range triples {
		r := t.Relation
		if heads[r] == nil {
			heads[r] = make(map[int]struct{})
			tails[r] = make(map[int]struct{})
		}
		stats[r].Triples++
		heads[r][t.Head] = struct{}{}
		tails[r][t.Tail] = struct{}{}
	}
	for r := range stats {
		stats[r].DistinctHeads = len(heads[r])
		stats[r].DistinctTails = len(tails[r])
	}
	return stats
}

// GroupByRelation returns, for each relation id, the indices of the triples using it
func GroupByRelation(triples []Triple, numRelations int) [][]int {
	groups := make([][]int, numRelations)
	for i, t := range triples {
		groups[t.Relation] = append(groups[t.Relation], i)
	}
	return groups
}
