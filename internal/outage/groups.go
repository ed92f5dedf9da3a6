package outage

import (
	"regexp"
	"sort"
)

// AvailableGroups is the set of outage rotation groups a subscriber can pick.
var AvailableGroups = []string{
	"1-1", "1-2",
	"2-1", "2-2",
	"3-1", "3-2",
	"4-1", "4-2",
	"5-1", "5-2",
	"6-1", "6-2",
}

var reGroup = regexp.MustCompile(`\b(\d+)-(\d+)\b`)

// ExtractGroups returns every "<main>-<sub>" token found in text, literally
// and without repeats, in first-occurrence order. Tokens outside
// AvailableGroups are returned as well.
func ExtractGroups(text string) []string {
	matches := reGroup.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	return uniqueInOrder(matches)
}

// HasAnyInterestedGroup reports whether text mentions at least one of the
// interest groups. Empty interest never matches.
func HasAnyInterestedGroup(text string, interest []string) bool {
	if len(interest) == 0 {
		return false
	}
	found := ExtractGroups(text)
	if len(found) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(interest))
	for _, g := range interest {
		want[g] = struct{}{}
	}
	for _, g := range found {
		if _, ok := want[g]; ok {
			return true
		}
	}
	return false
}

// IsAvailableGroup reports whether id is one of AvailableGroups.
func IsAvailableGroup(id string) bool {
	for _, g := range AvailableGroups {
		if g == id {
			return true
		}
	}
	return false
}

// ToggleGroup adds id to groups or removes it when already present.
// The input is not modified; the result is sorted.
func ToggleGroup(groups []string, id string) []string {
	out := make([]string, 0, len(groups)+1)
	removed := false
	for _, g := range groups {
		if g == id {
			removed = true
			continue
		}
		out = append(out, g)
	}
	if !removed {
		out = append(out, id)
	}
	sort.Strings(out)
	return uniqueInOrder(out)
}

// ContainsGroup reports whether id is in groups.
func ContainsGroup(groups []string, id string) bool {
	for _, g := range groups {
		if g == id {
			return true
		}
	}
	return false
}
