package inventory

import "sort"

// locks are always taken in this order so two orders sharing products
// cannot deadlock each other
func sortedIDs(need map[string]int) []string {
	ids := make([]string, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
