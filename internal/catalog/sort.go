package catalog

// SortByDependencies orders models so that relationship targets come before the tables
// referencing them. Cycles are broken with a scoring heuristic; the input is not modified.
func SortByDependencies(models []ModelInfo) []ModelInfo {
	byTable := make(map[string]ModelInfo, len(models))
	for _, m := range models {
		byTable[m.TableName] = m
	}

	// Only dependencies on tables inside the catalog count.
	deps := func(m ModelInfo) []string {
		var known []string
		for _, d := range m.Dependencies() {
			if _, ok := byTable[d]; ok {
				known = append(known, d)
			}
		}
		return known
	}

	sorted := make([]ModelInfo, 0, len(models))
	processed := make(map[string]bool)

	for len(sorted) < len(models) {
		added := false

		// Pass 1: models whose dependencies are satisfied.
		for _, m := range models {
			if processed[m.TableName] {
				continue
			}
			ready := true
			for _, d := range deps(m) {
				if !processed[d] {
					ready = false
					break
				}
			}
			if ready {
				sorted = append(sorted, m)
				processed[m.TableName] = true
				added = true
			}
		}

		if added {
			continue
		}

		// Pass 2: cycle. Pick the model with the fewest unmet dependencies,
		// preferring one that sits directly on a cycle.
		var best *ModelInfo
		bestScore := -1 << 31
		for i := range models {
			m := models[i]
			if processed[m.TableName] {
				continue
			}

			score := 0
			circular := false
			for _, d := range deps(m) {
				if processed[d] {
					continue
				}
				score -= 100
				for _, back := range deps(byTable[d]) {
					if back == m.TableName {
						circular = true
					}
				}
			}
			if circular {
				score += 500
			}

			if score > bestScore || (score == bestScore && best != nil && m.TableName < best.TableName) {
				bestScore = score
				best = &models[i]
			}
		}

		if best == nil {
			break
		}
		sorted = append(sorted, *best)
		processed[best.TableName] = true
	}

	return sorted
}
