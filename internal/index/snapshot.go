package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clincohort/cohort-explorer/internal/patientset"
	apperrors "github.com/clincohort/cohort-explorer/pkg/errors"
)

// Snapshot file names inside the snapshot directory.
const (
	conceptsFile   = "concepts.json"
	hierarchyFile  = "hierarchy.json"
	mentionsFile   = "mentions.jsonl"
	timestampsFile = "timestamps.jsonl"
	sexFile        = "sex.json"
	ageFile        = "age.json"
	ethnicityFile  = "ethnicity.json"
	deathFile      = "death.json"
)

// Mentions with a count at or below this threshold were judged too weak
// upstream and are not indexed.
const minMentionCount = 1

type conceptRecord struct {
	Code    string `json:"code"`
	Display string `json:"display"`
}

// LoadSnapshot builds a Store by streaming the snapshot files under dir.
// Malformed catalog or demographic data is fatal; mention entries referencing
// codes outside the declared universe are dropped with a warning, unless no
// mention line decodes at all.
func LoadSnapshot(dir string) (*Store, error) {
	start := time.Now()
	log := slog.Default().With("component", "index-loader")

	concepts, codeToID, err := loadCatalog(filepath.Join(dir, conceptsFile))
	if err != nil {
		return nil, err
	}

	var (
		children [][]ConceptID
		sexRaw   map[string]string
		ageRaw   map[string]float64
		ethRaw   map[string]string
		deathRaw map[string]int64
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		children, err = loadHierarchy(filepath.Join(dir, hierarchyFile), codeToID, len(concepts), log)
		return err
	})
	g.Go(func() error { return readJSONFile(filepath.Join(dir, sexFile), &sexRaw) })
	g.Go(func() error { return readJSONFile(filepath.Join(dir, ageFile), &ageRaw) })
	g.Go(func() error { return readJSONFile(filepath.Join(dir, ethnicityFile), &ethRaw) })
	g.Go(func() error { return readJSONFile(filepath.Join(dir, deathFile), &deathRaw) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	patientCodeToID, demo, err := buildUniverse(sexRaw, ageRaw, ethRaw, deathRaw)
	if err != nil {
		return nil, err
	}

	s := &Store{
		concepts:  concepts,
		codeToID:  codeToID,
		children:  children,
		postings:  make([]*patientset.Set, len(concepts)),
		mentionAt: make([]map[patientset.PatientID]int64, len(concepts)),
		byPatient: make([][]ConceptID, len(demo)),
		demo:      demo,
		universe:  patientset.Universe(uint32(len(demo))),
	}
	for i := range s.postings {
		s.postings[i] = patientset.New()
	}

	if err := s.loadMentions(filepath.Join(dir, mentionsFile), patientCodeToID, log); err != nil {
		return nil, err
	}
	if err := s.loadTimestamps(filepath.Join(dir, timestampsFile), patientCodeToID, log); err != nil {
		return nil, err
	}

	log.Info("snapshot loaded",
		"dir", dir,
		"concepts", len(concepts),
		"patients", len(demo),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return s, nil
}

func loadCatalog(path string) ([]Concept, map[string]ConceptID, error) {
	var records []conceptRecord
	if err := readJSONFile(path, &records); err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, apperrors.Newf(apperrors.ErrSnapshotIntegrity, 0, "concept catalog %s is empty", path)
	}
	concepts := make([]Concept, len(records))
	codeToID := make(map[string]ConceptID, len(records))
	for i, r := range records {
		if r.Code == "" {
			return nil, nil, apperrors.Newf(apperrors.ErrSnapshotIntegrity, 0, "concept record %d has no code", i)
		}
		if _, dup := codeToID[r.Code]; dup {
			return nil, nil, apperrors.Newf(apperrors.ErrSnapshotIntegrity, 0, "duplicate concept code %q", r.Code)
		}
		concepts[i] = Concept{Code: r.Code, Display: r.Display}
		codeToID[r.Code] = i
	}
	return concepts, codeToID, nil
}

func loadHierarchy(path string, codeToID map[string]ConceptID, conceptCount int, log *slog.Logger) ([][]ConceptID, error) {
	var raw map[string][]string
	if err := readJSONFile(path, &raw); err != nil {
		return nil, err
	}
	children := make([][]ConceptID, conceptCount)
	dropped := 0
	for parentCode, childCodes := range raw {
		parentID, ok := codeToID[parentCode]
		if !ok {
			dropped++
			continue
		}
		ids := make([]ConceptID, 0, len(childCodes))
		for _, childCode := range childCodes {
			childID, ok := codeToID[childCode]
			if !ok {
				dropped++
				continue
			}
			ids = append(ids, childID)
		}
		children[parentID] = ids
	}
	if dropped > 0 {
		log.Warn("hierarchy entries referenced unknown concept codes", "dropped", dropped)
	}
	return children, nil
}

// buildUniverse assigns dense patient ids to every code present in both the
// age and ethnicity maps. Codes are sorted first so ids are stable across
// restarts of the same snapshot.
func buildUniverse(sexRaw map[string]string, ageRaw map[string]float64, ethRaw map[string]string, deathRaw map[string]int64) (map[string]patientset.PatientID, []Demographics, error) {
	codes := make([]string, 0, len(ageRaw))
	for code := range ageRaw {
		if _, ok := ethRaw[code]; ok {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return nil, nil, apperrors.New(apperrors.ErrSnapshotIntegrity, 0, "patient universe is empty")
	}
	sort.Strings(codes)

	codeToID := make(map[string]patientset.PatientID, len(codes))
	demo := make([]Demographics, len(codes))
	for i, code := range codes {
		sex := SexUnknown
		if raw, ok := sexRaw[code]; ok {
			parsed, err := parseSex(raw)
			if err != nil {
				return nil, nil, err
			}
			sex = parsed
		}
		eth, err := parseEthnicity(ethRaw[code])
		if err != nil {
			return nil, nil, err
		}
		codeToID[code] = patientset.PatientID(i)
		demo[i] = Demographics{
			Sex:       sex,
			Age:       int(math.Floor(ageRaw[code])),
			Ethnicity: eth,
			DeathTime: deathRaw[code],
		}
	}
	return codeToID, demo, nil
}

func parseSex(raw string) (Sex, error) {
	switch raw {
	case "Male":
		return SexMale, nil
	case "Female":
		return SexFemale, nil
	case "Unknown":
		return SexUnknown, nil
	}
	return 0, apperrors.Newf(apperrors.ErrSnapshotIntegrity, 0, "unknown sex value %q", raw)
}

func parseEthnicity(raw string) (Ethnicity, error) {
	switch raw {
	case "Asian":
		return EthnicityAsian, nil
	case "Black":
		return EthnicityBlack, nil
	case "White":
		return EthnicityWhite, nil
	case "Mixed":
		return EthnicityMixed, nil
	case "Other":
		return EthnicityOther, nil
	case "Unknown":
		return EthnicityUnknown, nil
	}
	return 0, apperrors.Newf(apperrors.ErrSnapshotIntegrity, 0, "unknown ethnicity value %q", raw)
}

// loadMentions streams the line-delimited concept→patient mention counts and
// fills both postings directions.
func (s *Store) loadMentions(path string, patientCodeToID map[string]patientset.PatientID, log *slog.Logger) error {
	decoded := 0
	droppedCodes := 0
	err := scanLines(path, func(lineNo int, line []byte) error {
		var record map[string]map[string]int
		if err := json.Unmarshal(line, &record); err != nil {
			log.Warn("skipping undecodable mention line", "line", lineNo, "error", err)
			return nil
		}
		for conceptCode, byPatient := range record {
			conceptID, ok := s.codeToID[conceptCode]
			if !ok {
				droppedCodes++
				continue
			}
			for patientCode, count := range byPatient {
				if count <= minMentionCount {
					continue
				}
				patientID, ok := patientCodeToID[patientCode]
				if !ok {
					droppedCodes++
					continue
				}
				if s.postings[conceptID].Contains(patientID) {
					continue
				}
				s.postings[conceptID].Add(patientID)
				s.byPatient[patientID] = append(s.byPatient[patientID], conceptID)
			}
		}
		decoded++
		return nil
	})
	if err != nil {
		return err
	}
	if decoded == 0 {
		return apperrors.Newf(apperrors.ErrSnapshotIntegrity, 0, "no mention lines decoded from %s", path)
	}
	if droppedCodes > 0 {
		log.Warn("mention entries referenced unknown codes", "dropped", droppedCodes)
	}
	for _, ids := range s.byPatient {
		sort.Ints(ids)
	}
	return nil
}

// loadTimestamps streams the parallel concept→patient mention timestamps,
// keeping only pairs that survived the mention-count threshold.
func (s *Store) loadTimestamps(path string, patientCodeToID map[string]patientset.PatientID, log *slog.Logger) error {
	dropped := 0
	err := scanLines(path, func(lineNo int, line []byte) error {
		var record map[string]map[string]int64
		if err := json.Unmarshal(line, &record); err != nil {
			log.Warn("skipping undecodable timestamp line", "line", lineNo, "error", err)
			return nil
		}
		for conceptCode, byPatient := range record {
			conceptID, ok := s.codeToID[conceptCode]
			if !ok {
				dropped++
				continue
			}
			for patientCode, tsp := range byPatient {
				patientID, ok := patientCodeToID[patientCode]
				if !ok || !s.postings[conceptID].Contains(patientID) {
					dropped++
					continue
				}
				if s.mentionAt[conceptID] == nil {
					s.mentionAt[conceptID] = make(map[patientset.PatientID]int64)
				}
				s.mentionAt[conceptID][patientID] = tsp
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if dropped > 0 {
		log.Warn("timestamp entries without matching mentions", "dropped", dropped)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading snapshot file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Newf(apperrors.ErrSnapshotIntegrity, 0, "parsing %s: %v", path, err)
	}
	return nil
}

func scanLines(path string, fn func(lineNo int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Postings lines can hold a whole concept's patient map.
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", path, err)
	}
	return nil
}
