package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"gradebook-server-go/models"
	"gradebook-server-go/wire"
)

const (
	// DefaultTimeout bounds a whole validation round trip
	DefaultTimeout = 5 * time.Second
	// DefaultMaxReply bounds a BUSCAR reply
	DefaultMaxReply = 1024
	// maxListReply bounds a LISTAR reply
	maxListReply = 1 << 20
)

var (
	// ErrValidation is matched by every failure to validate a course code
	ErrValidation = errors.New("course code validation failed")

	ErrRejected       = errors.New("course code rejected by catalog")
	ErrTimeout        = errors.New("lookup service timed out")
	ErrUnavailable    = errors.New("lookup service unavailable")
	ErrMalformedReply = errors.New("malformed lookup reply")
)

// ValidationError describes why a code could not be validated. Reason is
// suitable for showing to the user.
type ValidationError struct {
	Code   string
	Reason string
	cause  error
}

func (e *ValidationError) Error() string { return e.Reason }

// Unwrap exposes both ErrValidation and the specific cause to errors.Is
func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.cause} }

// Client queries the lookup service. Every call dials a new connection;
// the service never sees a persistent client.
type Client struct {
	Addr     string
	Timeout  time.Duration
	MaxReply int
}

// NewClient creates a client for the lookup service at addr
func NewClient(addr string, timeout time.Duration, maxReply int) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxReply <= 0 {
		maxReply = DefaultMaxReply
	}
	return &Client{Addr: addr, Timeout: timeout, MaxReply: maxReply}
}

// Lookup validates code with BUSCAR and returns the matching entry.
// Any failure is a *ValidationError.
func (c *Client) Lookup(ctx context.Context, code string) (models.CatalogEntry, error) {
	reply, err := c.roundTrip(ctx, CommandSearch+"|"+code, c.MaxReply)
	if err != nil {
		return models.CatalogEntry{}, validationFailure(code, err)
	}
	if reply.Status != models.LookupOK {
		reason := reply.Message
		if reason == "" {
			reason = "NRC no existe"
		}
		return models.CatalogEntry{}, &ValidationError{Code: code, Reason: reason, cause: ErrRejected}
	}
	var entry models.CatalogEntry
	if err := json.Unmarshal(reply.Data, &entry); err != nil || entry.Code == "" {
		return models.CatalogEntry{}, &ValidationError{
			Code:   code,
			Reason: "Error consultando NRC: respuesta inválida del servidor de NRCs",
			cause:  ErrMalformedReply,
		}
	}
	return entry, nil
}

// List returns the whole catalog using LISTAR
func (c *Client) List(ctx context.Context) ([]models.CatalogEntry, error) {
	reply, err := c.roundTrip(ctx, CommandList, maxListReply)
	if err != nil {
		return nil, validationFailure("", err)
	}
	if reply.Status != models.LookupOK {
		return nil, fmt.Errorf("%w: %s", ErrRejected, reply.Message)
	}
	entries := []models.CatalogEntry{}
	if err := json.Unmarshal(reply.Data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	return entries, nil
}

func (c *Client) roundTrip(ctx context.Context, command string, maxReply int) (models.LookupReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return models.LookupReply{}, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := wire.WriteFrame(conn, []byte(command)); err != nil {
		return models.LookupReply{}, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}

	// The service closes after its single reply, so EOF ends the frame.
	raw, err := io.ReadAll(io.LimitReader(conn, int64(maxReply)+1))
	if err != nil {
		return models.LookupReply{}, err
	}
	if len(raw) > maxReply {
		return models.LookupReply{}, fmt.Errorf("%w: reply exceeds %d bytes", ErrMalformedReply, maxReply)
	}
	var reply models.LookupReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &reply); err != nil {
		return models.LookupReply{}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	return reply, nil
}

func validationFailure(code string, err error) *ValidationError {
	switch {
	case errors.Is(err, ErrMalformedReply):
		return &ValidationError{Code: code, Reason: "Error consultando NRC: " + err.Error(), cause: ErrMalformedReply}
	case isTimeout(err):
		return &ValidationError{Code: code, Reason: "Timeout consultando servidor de NRCs", cause: ErrTimeout}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ValidationError{Code: code, Reason: "Error: Servidor de NRCs no disponible", cause: ErrUnavailable}
	default:
		return &ValidationError{Code: code, Reason: "Error consultando NRC: " + err.Error(), cause: ErrUnavailable}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
