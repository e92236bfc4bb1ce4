package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RosterEntry is a student eligible for an assignment.
type RosterEntry struct {
	StudentID     int64
	Name          string
	StudentNumber string
}

// Label is the roster line shown to the matcher model.
func (e RosterEntry) Label() string {
	if e.StudentNumber == "" {
		return e.Name
	}
	return fmt.Sprintf("%s (学号: %s)", e.Name, e.StudentNumber)
}

type Roster struct {
	Entries  []RosterEntry
	byName   map[string][]RosterEntry
	byNumber map[string][]RosterEntry
}

// NewRoster deduplicates entries by student id, keeping the first that
// carries a student number.
func NewRoster(entries []RosterEntry) *Roster {
	r := &Roster{
		byName:   make(map[string][]RosterEntry),
		byNumber: make(map[string][]RosterEntry),
	}
	index := make(map[int64]int)
	for _, e := range entries {
		e.Name = strings.TrimSpace(e.Name)
		e.StudentNumber = strings.TrimSpace(e.StudentNumber)
		if e.Name == "" {
			continue
		}
		if i, ok := index[e.StudentID]; ok {
			if r.Entries[i].StudentNumber == "" && e.StudentNumber != "" {
				r.Entries[i].StudentNumber = e.StudentNumber
			}
			continue
		}
		index[e.StudentID] = len(r.Entries)
		r.Entries = append(r.Entries, e)
	}
	for _, e := range r.Entries {
		r.byName[e.Name] = append(r.byName[e.Name], e)
		if e.StudentNumber != "" {
			r.byNumber[e.StudentNumber] = append(r.byNumber[e.StudentNumber], e)
		}
	}
	return r
}

func (r *Roster) Len() int {
	return len(r.Entries)
}

// HasDuplicateNames reports whether some display name belongs to several
// students, so only the student number can tell them apart.
func (r *Roster) HasDuplicateNames() bool {
	for _, candidates := range r.byName {
		if len(candidates) > 1 {
			return true
		}
	}
	return false
}

var studentNumberSuffix = regexp.MustCompile(`^(.*?)\s*[(（]\s*学号\s*[:：]\s*([^)）]+?)\s*[)）]\s*$`)

type ResolveOutcome int

const (
	ResolveMatched ResolveOutcome = iota
	ResolveUnknown
	ResolveAmbiguous
)

// Resolve maps a name returned by the matcher to a roster student. A trailing
// student number wins over the name. A name or number shared by several
// students is ambiguous and never guessed; a shared number is narrowed by the
// name before giving up.
func (r *Roster) Resolve(returned string) (RosterEntry, ResolveOutcome) {
	name := strings.TrimSpace(returned)
	if m := studentNumberSuffix.FindStringSubmatch(name); m != nil {
		name = strings.TrimSpace(m[1])
		switch byNumber := r.byNumber[strings.TrimSpace(m[2])]; len(byNumber) {
		case 0:
		case 1:
			return byNumber[0], ResolveMatched
		default:
			return pickOne(filterByName(byNumber, name))
		}
	}
	return pickOne(r.byName[name])
}

func filterByName(entries []RosterEntry, name string) []RosterEntry {
	var out []RosterEntry
	for _, e := range entries {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func pickOne(candidates []RosterEntry) (RosterEntry, ResolveOutcome) {
	switch len(candidates) {
	case 0:
		return RosterEntry{}, ResolveUnknown
	case 1:
		return candidates[0], ResolveMatched
	default:
		return RosterEntry{}, ResolveAmbiguous
	}
}

// ParseID parses a positive integer identifier.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, WrapError(ErrInvalidInput, "parse id", fmt.Errorf("invalid id %q", raw))
	}
	return id, nil
}

// MatchCandidate is one submission offered to the matcher.
type MatchCandidate struct {
	Filename string
	OCRText  string
}
