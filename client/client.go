// Package client talks to the record server over one persistent
// connection, one request at a time.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"gradebook-server-go/models"
	"gradebook-server-go/wire"
)

// Client is safe for concurrent use; requests are serialized
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// Dial connects to the record server at addr. timeout bounds each round
// trip; zero means no bound.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), timeout: timeout}, nil
}

// Do sends req and waits for its reply
func (c *Client) Do(ctx context.Context, req models.Request) (models.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Time{}
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	if err := wire.WriteJSON(c.conn, req); err != nil {
		return models.Reply{}, fmt.Errorf("send request: %w", err)
	}
	frame, err := wire.ReadFrame(c.r, 0)
	if err != nil {
		return models.Reply{}, fmt.Errorf("read reply: %w", err)
	}
	var reply models.Reply
	if err := json.Unmarshal(frame, &reply); err != nil {
		return models.Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

// Add submits a new grade
func (c *Client) Add(ctx context.Context, id, name, course, grade string) (models.Reply, error) {
	return c.Do(ctx, models.Request{Action: "agregar", Data: &models.GradeData{
		ID: models.Text(id), Name: models.Text(name), CourseCode: models.Text(course), Grade: models.Text(grade),
	}})
}

// List fetches every grade
func (c *Client) List(ctx context.Context) (models.Reply, error) {
	return c.Do(ctx, models.Request{Action: "listar"})
}

// Find fetches the grades of one student
func (c *Client) Find(ctx context.Context, id string) (models.Reply, error) {
	return c.Do(ctx, models.Request{Action: "buscar", Data: &models.GradeData{ID: models.Text(id)}})
}

// Update changes a grade and optionally its course
func (c *Client) Update(ctx context.Context, id, course, grade, newCourse string) (models.Reply, error) {
	return c.Do(ctx, models.Request{Action: "actualizar", Data: &models.GradeData{
		ID: models.Text(id), CourseCode: models.Text(course), Grade: models.Text(grade), NewCourseCode: models.Text(newCourse),
	}})
}

// Delete removes every grade of a student in a course
func (c *Client) Delete(ctx context.Context, id, course string) (models.Reply, error) {
	return c.Do(ctx, models.Request{Action: "eliminar", Data: &models.GradeData{
		ID: models.Text(id), CourseCode: models.Text(course),
	}})
}

// Close closes the connection
func (c *Client) Close() error { return c.conn.Close() }
