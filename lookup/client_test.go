package lookup

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService accepts connections and answers each with reply. An empty
// reply keeps the connection open without answering.
func fakeService(t *testing.T, reply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				_, _ = bufio.NewReader(conn).ReadString('\n')
				if reply == "" {
					time.Sleep(time.Second)
				} else {
					_, _ = conn.Write([]byte(reply))
				}
				_ = conn.Close()
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestClientLookup(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient(addr, time.Second, 0)

	t.Run("valid code in any case", func(t *testing.T) {
		entry, err := client.Lookup(context.Background(), "mat101")
		require.NoError(t, err)
		assert.Equal(t, "MAT101", entry.Code)
		assert.Equal(t, "Matemáticas I", entry.Subject)
	})

	t.Run("unknown code is rejected", func(t *testing.T) {
		_, err := client.Lookup(context.Background(), "ABC999")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.ErrorIs(t, err, ErrRejected)

		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "NRC 'ABC999' no existe", ve.Reason)
	})

	t.Run("list", func(t *testing.T) {
		entries, err := client.List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DefaultCourses, entries)
	})
}

func TestClientLookupFailures(t *testing.T) {
	t.Run("service unavailable", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		require.NoError(t, ln.Close())

		_, err = NewClient(addr, time.Second, 0).Lookup(context.Background(), "MAT101")
		assert.ErrorIs(t, err, ErrValidation)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, "Error: Servidor de NRCs no disponible", err.Error())
	})

	t.Run("timeout", func(t *testing.T) {
		addr := fakeService(t, "")

		start := time.Now()
		_, err := NewClient(addr, 100*time.Millisecond, 0).Lookup(context.Background(), "MAT101")
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, "Timeout consultando servidor de NRCs", err.Error())
		assert.Less(t, time.Since(start), 900*time.Millisecond)
	})

	t.Run("reply is not json", func(t *testing.T) {
		addr := fakeService(t, "hola")
		_, err := NewClient(addr, time.Second, 0).Lookup(context.Background(), "MAT101")
		assert.ErrorIs(t, err, ErrValidation)
		assert.ErrorIs(t, err, ErrMalformedReply)
	})

	t.Run("ok reply without entry", func(t *testing.T) {
		addr := fakeService(t, `{"status":"ok"}`)
		_, err := NewClient(addr, time.Second, 0).Lookup(context.Background(), "MAT101")
		assert.ErrorIs(t, err, ErrMalformedReply)
	})

	t.Run("reply larger than the limit", func(t *testing.T) {
		addr := fakeService(t, `{"status":"ok","data":{"NRC":"MAT101","Materia":"`+strings.Repeat("x", 100)+`"}}`)
		_, err := NewClient(addr, time.Second, 64).Lookup(context.Background(), "MAT101")
		assert.ErrorIs(t, err, ErrMalformedReply)
	})

	t.Run("error reply without message", func(t *testing.T) {
		addr := fakeService(t, `{"status":"error"}`)
		_, err := NewClient(addr, time.Second, 0).Lookup(context.Background(), "MAT101")
		assert.ErrorIs(t, err, ErrRejected)
		assert.Equal(t, "NRC no existe", err.Error())
	})
}
