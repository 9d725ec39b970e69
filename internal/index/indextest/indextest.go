// Package indextest builds throwaway index stores from in-memory fixtures by
// writing real snapshot files to a temp directory and loading them, so tests
// exercise the same path production does.
package indextest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clincohort/cohort-explorer/internal/index"
)

// Fixture describes a snapshot. Patients appearing in Age get ethnicity
// "Unknown" unless overridden; sex defaults to "Unknown" by omission.
type Fixture struct {
	Concepts   []index.Concept
	Hierarchy  map[string][]string
	Mentions   map[string]map[string]int
	Timestamps map[string]map[string]int64
	Sex        map[string]string
	Age        map[string]float64
	Ethnicity  map[string]string
	Death      map[string]int64
}

// Build writes the fixture as snapshot files and loads a Store from them.
func Build(t testing.TB, f Fixture) *index.Store {
	t.Helper()
	dir := t.TempDir()

	type conceptRecord struct {
		Code    string `json:"code"`
		Display string `json:"display"`
	}
	records := make([]conceptRecord, len(f.Concepts))
	for i, c := range f.Concepts {
		records[i] = conceptRecord{Code: c.Code, Display: c.Display}
	}
	writeJSON(t, dir, "concepts.json", records)

	if f.Hierarchy == nil {
		f.Hierarchy = map[string][]string{}
	}
	writeJSON(t, dir, "hierarchy.json", f.Hierarchy)

	eth := make(map[string]string, len(f.Age))
	for code := range f.Age {
		eth[code] = "Unknown"
	}
	for code, v := range f.Ethnicity {
		eth[code] = v
	}
	if f.Sex == nil {
		f.Sex = map[string]string{}
	}
	if f.Death == nil {
		f.Death = map[string]int64{}
	}
	writeJSON(t, dir, "sex.json", f.Sex)
	writeJSON(t, dir, "age.json", f.Age)
	writeJSON(t, dir, "ethnicity.json", eth)
	writeJSON(t, dir, "death.json", f.Death)

	if len(f.Mentions) == 0 && len(f.Concepts) > 0 {
		// The loader treats a snapshot with zero decodable mention lines as
		// corrupt, so an empty fixture still writes one empty record.
		f.Mentions = map[string]map[string]int{f.Concepts[0].Code: {}}
	}
	writeLines(t, dir, "mentions.jsonl", marshalLines(t, f.Mentions))
	writeLines(t, dir, "timestamps.jsonl", marshalLines(t, f.Timestamps))

	store, err := index.LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("loading fixture snapshot: %v", err)
	}
	return store
}

// Mention is shorthand for a mention map entry with a count above the
// indexing threshold.
func Mention(patients ...string) map[string]int {
	m := make(map[string]int, len(patients))
	for _, p := range patients {
		m[p] = 2
	}
	return m
}

func marshalLines[V any](t testing.TB, byConcept map[string]map[string]V) []string {
	t.Helper()
	lines := make([]string, 0, len(byConcept))
	for code, entries := range byConcept {
		line, err := json.Marshal(map[string]map[string]V{code: entries})
		if err != nil {
			t.Fatalf("marshalling fixture line: %v", err)
		}
		lines = append(lines, string(line))
	}
	return lines
}

func writeJSON(t testing.TB, dir, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshalling %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func writeLines(t testing.TB, dir, name string, lines []string) {
	t.Helper()
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

// Codes generates n patient codes P000..P(n-1) whose lexicographic order
// matches their numeric order, so dense ids line up with the index.
func Codes(n int) []string {
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("P%03d", i)
	}
	return codes
}
