// Package processor turns record protocol requests into record store
// operations. Course codes are validated before the store lock is taken.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gradebook-server-go/db"
	"gradebook-server-go/lookup"
	"gradebook-server-go/metrics"
	"gradebook-server-go/models"
	"pkt.systems/pslog"
)

// Actions understood by the processor
const (
	ActionAdd    = "agregar"
	ActionList   = "listar"
	ActionFind   = "buscar"
	ActionUpdate = "actualizar"
	ActionDelete = "eliminar"
)

// ErrProtocol is returned for requests that cannot be parsed or lack a
// required field
var ErrProtocol = errors.New("malformed request")

// Validator resolves a course code against the catalog
type Validator interface {
	Lookup(ctx context.Context, code string) (models.CatalogEntry, error)
}

// Processor executes requests against a record store
type Processor struct {
	store     *db.RecordStore
	validator Validator
	metrics   *metrics.Metrics
	logger    pslog.Logger
}

// New creates a Processor. m may be nil.
func New(store *db.RecordStore, validator Validator, m *metrics.Metrics, logger pslog.Logger) *Processor {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Processor{
		store:     store,
		validator: validator,
		metrics:   m,
		logger:    logger.With("subsystem", "processor"),
	}
}

// Handle parses raw as a request and executes it. It always returns a
// response; malformed input becomes an error response.
func (p *Processor) Handle(ctx context.Context, raw []byte) models.Response {
	var req models.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		p.metrics.Request("unknown", models.StatusError)
		p.logger.Debug("processor.decode_failed", "error", err)
		return protocolFailure(fmt.Errorf("%w: %w", ErrProtocol, err))
	}
	return p.Execute(ctx, req)
}

// Execute runs one decoded request
func (p *Processor) Execute(ctx context.Context, req models.Request) (resp models.Response) {
	action := req.Action
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor.panic", "action", action, "panic", fmt.Sprint(r))
			resp = models.Failure(fmt.Sprintf("Error interno: %v", r))
		}
		label := action
		switch label {
		case ActionAdd, ActionList, ActionFind, ActionUpdate, ActionDelete:
		default:
			label = "unknown"
		}
		p.metrics.Request(label, resp.Status)
	}()

	data := models.GradeData{}
	if req.Data != nil {
		data = *req.Data
	}
	switch action {
	case ActionAdd:
		return p.Add(ctx, data)
	case ActionList:
		return p.List()
	case ActionFind:
		return p.Find(data)
	case ActionUpdate:
		return p.Update(ctx, data)
	case ActionDelete:
		return p.Delete(data)
	default:
		return models.Failure("Acción no válida")
	}
}

// Add validates the course code and appends a new record
func (p *Processor) Add(ctx context.Context, data models.GradeData) models.Response {
	if err := requireFields(data, "id", "nombre", "materia", "calificacion"); err != nil {
		return protocolFailure(err)
	}
	code := data.CourseCode.String()
	entry, err := p.validate(ctx, code)
	if err != nil {
		return models.Failure("Materia/NRC no válida: " + reason(err))
	}

	record := models.Record{
		StudentID:  data.ID.String(),
		Name:       data.Name.String(),
		CourseCode: code,
		Grade:      data.Grade.String(),
	}
	if err := p.store.Append(record); err != nil {
		p.logger.Error("processor.add.store_failed", "id", record.StudentID, "error", err)
		return models.Failure(err.Error())
	}
	return models.Success(fmt.Sprintf("Calificación agregada correctamente (NRC: %s - %s)", code, entry.Subject), nil)
}

// List returns every record
func (p *Processor) List() models.Response {
	records, err := p.store.ReadAll()
	if err != nil {
		p.logger.Error("processor.list.store_failed", "error", err)
		return models.Failure(err.Error())
	}
	return models.Success("", records)
}

// Find returns all records of one student
func (p *Processor) Find(data models.GradeData) models.Response {
	if err := requireFields(data, "id"); err != nil {
		return protocolFailure(err)
	}
	records, err := p.store.FindByID(data.ID.String())
	if errors.Is(err, db.ErrNotFound) {
		return models.Failure("No se encontraron calificaciones para ese ID")
	}
	if err != nil {
		p.logger.Error("processor.find.store_failed", "id", data.ID.String(), "error", err)
		return models.Failure(err.Error())
	}
	return models.Success("", records)
}

// Update changes the grade of the first record matching (id, materia).
// A new course code, when given, is validated before the store is
// touched and replaces the old one.
func (p *Processor) Update(ctx context.Context, data models.GradeData) models.Response {
	if err := requireFields(data, "id", "materia", "calificacion"); err != nil {
		return protocolFailure(err)
	}
	newCode := data.NewCourseCode.String()
	var entry models.CatalogEntry
	if newCode != "" {
		var err error
		entry, err = p.validate(ctx, newCode)
		if err != nil {
			return models.Failure("Nuevo NRC no válido: " + reason(err))
		}
	}

	_, err := p.store.UpdateFirstMatch(data.ID.String(), data.CourseCode.String(), data.Grade.String(), newCode)
	if errors.Is(err, db.ErrNotFound) {
		return models.Failure("No se encontró la calificación a actualizar")
	}
	if err != nil {
		p.logger.Error("processor.update.store_failed", "id", data.ID.String(), "error", err)
		return models.Failure(err.Error())
	}
	msg := "Calificación actualizada correctamente"
	if newCode != "" {
		msg += fmt.Sprintf(" (Nuevo NRC: %s - %s)", newCode, entry.Subject)
	}
	return models.Success(msg, nil)
}

// Delete removes every record matching (id, materia)
func (p *Processor) Delete(data models.GradeData) models.Response {
	if err := requireFields(data, "id", "materia"); err != nil {
		return protocolFailure(err)
	}
	removed, err := p.store.DeleteAllMatches(data.ID.String(), data.CourseCode.String())
	if errors.Is(err, db.ErrNotFound) {
		return models.Failure("No se encontró la calificación a eliminar")
	}
	if err != nil {
		p.logger.Error("processor.delete.store_failed", "id", data.ID.String(), "error", err)
		return models.Failure(err.Error())
	}
	p.logger.Debug("processor.delete.done", "id", data.ID.String(), "removed", removed)
	return models.Success("Calificación eliminada correctamente", nil)
}

func (p *Processor) validate(ctx context.Context, code string) (models.CatalogEntry, error) {
	p.logger.Info("processor.validate.start", "code", code)
	entry, err := p.validator.Lookup(ctx, code)
	if err != nil {
		outcome := "error"
		if errors.Is(err, lookup.ErrRejected) {
			outcome = "rejected"
		}
		p.metrics.Validation(outcome)
		p.logger.Warn("processor.validate.failed", "code", code, "error", err)
		return models.CatalogEntry{}, err
	}
	p.metrics.Validation("valid")
	p.logger.Info("processor.validate.ok", "code", code, "subject", entry.Subject)
	return entry, nil
}

// reason extracts the user-facing part of a validation failure
func reason(err error) string {
	var ve *lookup.ValidationError
	if errors.As(err, &ve) && ve.Reason != "" {
		return ve.Reason
	}
	return err.Error()
}

// missingFieldError names the first required field absent from a request
type missingFieldError struct{ field string }

func (e *missingFieldError) Error() string { return fmt.Sprintf("missing field %q", e.field) }

func (e *missingFieldError) Unwrap() error { return ErrProtocol }

func requireFields(data models.GradeData, fields ...string) error {
	for _, f := range fields {
		var v models.Text
		switch f {
		case "id":
			v = data.ID
		case "nombre":
			v = data.Name
		case "materia":
			v = data.CourseCode
		case "calificacion":
			v = data.Grade
		}
		if v == "" {
			return &missingFieldError{field: f}
		}
	}
	return nil
}

func protocolFailure(err error) models.Response {
	var mf *missingFieldError
	switch {
	case errors.As(err, &mf):
		return models.Failure("Faltan datos requeridos: " + mf.field)
	case errors.Is(err, ErrProtocol):
		return models.Failure("Formato JSON inválido")
	default:
		return models.Failure("Solicitud inválida: " + err.Error())
	}
}
