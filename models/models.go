package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record represents one grade row in the record store
type Record struct {
	StudentID  string `json:"ID"`           // Student ID, not unique on its own
	Name       string `json:"Nombre"`       // Student name
	CourseCode string `json:"Materia"`      // Course code (NRC) validated against the catalog
	Grade      string `json:"Calificacion"` // Grade, kept as an opaque string
}

// CatalogEntry represents a course known to the lookup service
type CatalogEntry struct {
	Code    string `json:"NRC"`     // Course code, unique case-insensitively
	Subject string `json:"Materia"` // Subject name
}

// Request is one client request on the record protocol
type Request struct {
	Action string     `json:"accion"`
	Data   *GradeData `json:"datos,omitempty"`
}

// UnmarshalJSON decodes a request. A non-string "accion" is kept as an
// empty action so it is answered as unknown rather than as bad JSON.
func (r *Request) UnmarshalJSON(b []byte) error {
	var raw struct {
		Action json.RawMessage `json:"accion"`
		Data   *GradeData      `json:"datos"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Action = ""
	if len(raw.Action) > 0 && raw.Action[0] == '"' {
		if err := json.Unmarshal(raw.Action, &r.Action); err != nil {
			return err
		}
	}
	r.Data = raw.Data
	return nil
}

// GradeData carries the fields of a request. Which ones are required
// depends on the action.
type GradeData struct {
	ID            Text `json:"id,omitempty"`
	Name          Text `json:"nombre,omitempty"`
	CourseCode    Text `json:"materia,omitempty"`
	Grade         Text `json:"calificacion,omitempty"`
	NewCourseCode Text `json:"nueva_materia,omitempty"`
}

// Response is what the record server writes back for every request
type Response struct {
	Status  string `json:"status"`
	Message string `json:"mensaje,omitempty"`
	Data    any    `json:"data,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Success builds a success response
func Success(message string, data any) Response {
	return Response{Status: StatusSuccess, Message: message, Data: data}
}

// Failure builds an error response
func Failure(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// Reply is the client-side view of a Response with the payload left raw
type Reply struct {
	Status  string          `json:"status"`
	Message string          `json:"mensaje,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the server accepted the request
func (r Reply) OK() bool { return r.Status == StatusSuccess }

// Records decodes the payload as a list of records
func (r Reply) Records() ([]Record, error) {
	if len(r.Data) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(r.Data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// LookupReply is the message the lookup service answers with
type LookupReply struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"mensaje,omitempty"`
}

const (
	LookupOK    = "ok"
	LookupError = "error"
)

// Text is a string field that also accepts a bare JSON number, so a grade
// sent as 18.5 is kept as the text "18.5".
type Text string

// UnmarshalJSON implements json.Unmarshaler
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*t = Text(n.String())
	return nil
}

func (t Text) String() string { return string(t) }
