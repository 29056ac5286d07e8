package lookup

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gradebook-server-go/models"
)

// CatalogHeader is the first line of the catalog file
var CatalogHeader = []string{"NRC", "Materia"}

// DefaultCourses seeds a missing catalog file
var DefaultCourses = []models.CatalogEntry{
	{Code: "MAT101", Subject: "Matemáticas I"},
	{Code: "MAT102", Subject: "Matemáticas II"},
	{Code: "FIS101", Subject: "Física I"},
	{Code: "FIS102", Subject: "Física II"},
	{Code: "QUI101", Subject: "Química I"},
	{Code: "PRG101", Subject: "Programación I"},
	{Code: "PRG102", Subject: "Programación II"},
	{Code: "BDD101", Subject: "Base de Datos I"},
	{Code: "RED101", Subject: "Redes I"},
	{Code: "SOP101", Subject: "Sistemas Operativos"},
}

// Catalog is the static set of valid courses for one run. It is never
// mutated after construction, so it is safe for concurrent readers.
type Catalog struct {
	entries []models.CatalogEntry
	byCode  map[string]int
}

// NewCatalog builds a catalog. The first entry wins when two codes only
// differ in case.
func NewCatalog(entries []models.CatalogEntry) *Catalog {
	c := &Catalog{byCode: make(map[string]int, len(entries))}
	for _, e := range entries {
		key := normalizeCode(e.Code)
		if key == "" {
			continue
		}
		if _, dup := c.byCode[key]; dup {
			continue
		}
		c.byCode[key] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c
}

// Find looks a code up ignoring case
func (c *Catalog) Find(code string) (models.CatalogEntry, bool) {
	i, ok := c.byCode[normalizeCode(code)]
	if !ok {
		return models.CatalogEntry{}, false
	}
	return c.entries[i], true
}

// Entries returns a copy of all entries in file order
func (c *Catalog) Entries() []models.CatalogEntry {
	out := make([]models.CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of courses
func (c *Catalog) Len() int { return len(c.entries) }

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// EnsureCatalogFile writes the default courses to path when it does not
// exist. It reports whether the file was created.
func EnsureCatalogFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat catalog %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("create catalog %s: %w", path, err)
	}
	w := csv.NewWriter(file)
	_ = w.Write(CatalogHeader)
	for _, e := range DefaultCourses {
		_ = w.Write([]string{e.Code, e.Subject})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = file.Close()
		return false, fmt.Errorf("write catalog %s: %w", path, err)
	}
	return true, file.Close()
}

// LoadCatalog reads a catalog file, skipping its header
func LoadCatalog(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer file.Close()
	return ReadCatalog(file)
}

// ReadCatalog parses catalog CSV from r
func ReadCatalog(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	var entries []models.CatalogEntry
	header := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(row) < 2 {
			continue
		}
		entries = append(entries, models.CatalogEntry{Code: strings.TrimSpace(row[0]), Subject: row[1]})
	}
	return NewCatalog(entries), nil
}
