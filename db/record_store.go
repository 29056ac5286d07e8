package db

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gradebook-server-go/models"
	"pkt.systems/pslog"
)

var (
	// ErrNotFound is returned when no record matches an update, delete or find
	ErrNotFound = errors.New("record not found")
	// ErrStoreIO wraps every failure to read or write the store file
	ErrStoreIO = errors.New("record store I/O failure")
)

// Header is the first line of every store file
var Header = []string{"ID", "Nombre", "Materia", "Calificacion"}

// RecordStore keeps grade records in a flat CSV file. A single mutex
// spans every read-modify-write cycle, so operations never interleave.
type RecordStore struct {
	path   string
	mu     sync.Mutex
	logger pslog.Logger
}

// NewRecordStore opens the store at path, creating it with only the
// header line when it does not exist yet.
func NewRecordStore(path string, logger pslog.Logger) (*RecordStore, error) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	s := &RecordStore{path: path, logger: logger.With("subsystem", "db.records")}

	s.mu.Lock()
	defer s.mu.Unlock()
	created, err := s.ensureHeaderLocked()
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("db.records.created", "path", path)
	}
	return s, nil
}

// Path returns the file backing the store
func (s *RecordStore) Path() string { return s.path }

// Append writes one record at the end of the file
func (s *RecordStore) Append(record models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ensureHeaderLocked(); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return storeErr("open for append", err)
	}
	w := csv.NewWriter(file)
	if err := w.Write(recordRow(record)); err != nil {
		_ = file.Close()
		return storeErr("append", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = file.Close()
		return storeErr("flush", err)
	}
	if err := file.Close(); err != nil {
		return storeErr("close", err)
	}
	s.logger.Debug("db.records.appended", "id", record.StudentID, "course", record.CourseCode)
	return nil
}

// ReadAll returns every record in insertion order
func (s *RecordStore) ReadAll() ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// FindByID returns all records for a student, regardless of course.
// ErrNotFound is returned when there are none.
func (s *RecordStore) FindByID(studentID string) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	matches := make([]models.Record, 0)
	for _, r := range records {
		if r.StudentID == studentID {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches, nil
}

// UpdateFirstMatch sets the grade of the first record matching
// (studentID, courseCode) in file order. When newCourseCode is not empty
// the record also moves to that course. Later matches are left alone.
func (s *RecordStore) UpdateFirstMatch(studentID, courseCode, grade, newCourseCode string) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return models.Record{}, err
	}
	idx := -1
	for i, r := range records {
		if r.StudentID == studentID && r.CourseCode == courseCode {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.Record{}, ErrNotFound
	}
	records[idx].Grade = grade
	if newCourseCode != "" {
		records[idx].CourseCode = newCourseCode
	}
	if err := s.rewriteLocked(records); err != nil {
		return models.Record{}, err
	}
	s.logger.Debug("db.records.updated", "id", studentID, "course", courseCode, "new_course", newCourseCode)
	return records[idx], nil
}

// DeleteAllMatches removes every record matching (studentID, courseCode)
// and returns how many were removed.
func (s *RecordStore) DeleteAllMatches(studentID, courseCode string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	kept := make([]models.Record, 0, len(records))
	for _, r := range records {
		if r.StudentID == studentID && r.CourseCode == courseCode {
			continue
		}
		kept = append(kept, r)
	}
	removed := len(records) - len(kept)
	if removed == 0 {
		return 0, ErrNotFound
	}
	if err := s.rewriteLocked(kept); err != nil {
		return 0, err
	}
	s.logger.Debug("db.records.deleted", "id", studentID, "course", courseCode, "count", removed)
	return removed, nil
}

// ensureHeaderLocked creates the file with its header if it is missing or
// empty. It reports whether it wrote the header.
func (s *RecordStore) ensureHeaderLocked() (bool, error) {
	info, err := os.Stat(s.path)
	switch {
	case err == nil && info.Size() > 0:
		return false, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return false, storeErr("stat", err)
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return false, storeErr("create", err)
	}
	w := csv.NewWriter(file)
	_ = w.Write(Header)
	w.Flush()
	if err := w.Error(); err != nil {
		_ = file.Close()
		return false, storeErr("write header", err)
	}
	if err := file.Close(); err != nil {
		return false, storeErr("close", err)
	}
	return true, nil
}

func (s *RecordStore) readLocked() ([]models.Record, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.Record{}, nil
		}
		return nil, storeErr("open", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records := make([]models.Record, 0)
	header := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, storeErr("read", err)
		}
		if header {
			header = false
			continue
		}
		records = append(records, rowRecord(row))
	}
	return records, nil
}

// rewriteLocked replaces the whole file with the header and records. The
// new content goes to a temporary file in the same directory first.
func (s *RecordStore) rewriteLocked(records []models.Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return storeErr("create temp", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	w := csv.NewWriter(tmp)
	_ = w.Write(Header)
	for _, r := range records {
		_ = w.Write(recordRow(r))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		cleanup()
		return storeErr("rewrite", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return storeErr("close temp", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return storeErr("chmod temp", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return storeErr("replace", err)
	}
	return nil
}

func recordRow(r models.Record) []string {
	return []string{r.StudentID, r.Name, r.CourseCode, r.Grade}
}

// rowRecord maps columns by position; short rows leave fields empty
func rowRecord(row []string) models.Record {
	field := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	return models.Record{
		StudentID:  field(0),
		Name:       field(1),
		CourseCode: field(2),
		Grade:      field(3),
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreIO, op, err)
}
