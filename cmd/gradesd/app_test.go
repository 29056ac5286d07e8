package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gradebook-server-go/config"
	"gradebook-server-go/lookup"
	"gradebook-server-go/models"
	"pkt.systems/pslog"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func startLookup(t *testing.T) string {
	t.Helper()
	srv := lookup.NewServer(lookup.NewCatalog(lookup.DefaultCourses), time.Second, nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv.Addr().String()
}

func TestBuildRequest(t *testing.T) {
	req := buildRequest(requestOptions{action: "listar"})
	assert.Equal(t, "listar", req.Action)
	assert.Nil(t, req.Data)

	req = buildRequest(requestOptions{action: "actualizar", id: "S1", course: "MAT101", grade: "20", newCourse: "FIS101"})
	require.NotNil(t, req.Data)
	assert.Equal(t, models.Text("FIS101"), req.Data.NewCourseCode)
	assert.Empty(t, req.Data.Name)
}

func TestBindServerConfig(t *testing.T) {
	v := viper.New()
	v.Set("listen", "0.0.0.0:6000")
	v.Set("store", "/tmp/grades.csv")
	v.Set("lookup-timeout", "250ms")
	v.Set("max-connections", 8)
	v.Set("redis-addr", "127.0.0.1:6379")

	cfg := bindServerConfig(v)
	assert.Equal(t, "0.0.0.0:6000", cfg.Listen)
	assert.Equal(t, "/tmp/grades.csv", cfg.StorePath)
	assert.Equal(t, 250*time.Millisecond, cfg.LookupTimeout)
	assert.Equal(t, 8, cfg.MaxConnections)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
}

// TestRootCommandBusyPort fails before serving when the record port is
// taken, whether it comes from a flag or the environment.
func TestRootCommandBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	store := filepath.Join(t.TempDir(), "grades.csv")

	cmd := newRootCommand(pslog.NoopLogger())
	cmd.SetArgs([]string{"--listen", ln.Addr().String(), "--store", store})
	cmd.SetOut(io.Discard)
	err = cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ln.Addr().String())

	t.Setenv("GRADEBOOK_LISTEN", ln.Addr().String())
	t.Setenv("GRADEBOOK_STORE", store)
	cmd = newRootCommand(pslog.NoopLogger())
	cmd.SetArgs([]string{})
	cmd.SetOut(io.Discard)
	err = cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ln.Addr().String())
}

func TestRootCommandInvalidConfig(t *testing.T) {
	cmd := newRootCommand(pslog.NoopLogger())
	cmd.SetArgs([]string{"--max-connections=-3"})
	cmd.SetOut(io.Discard)
	assert.ErrorContains(t, cmd.ExecuteContext(context.Background()), "max-connections")
}

func TestRootCommandConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gradesd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max-request-bytes: 0\n"), 0o644))

	cmd := newRootCommand(pslog.NoopLogger())
	cmd.SetArgs([]string{"-c", path, "--store", filepath.Join(dir, "grades.csv")})
	cmd.SetOut(io.Discard)
	assert.ErrorContains(t, cmd.ExecuteContext(context.Background()), "max-request-bytes")
}

// TestRunEndToEnd starts the whole server, talks to it through the request
// subcommand and the admin API, then shuts it down.
func TestRunEndToEnd(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.Listen = freeAddr(t)
	cfg.AdminListen = freeAddr(t)
	cfg.LookupAddr = startLookup(t)
	cfg.StorePath = filepath.Join(t.TempDir(), "grades.csv")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, pslog.NoopLogger()) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", cfg.Listen)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 3*time.Second, 20*time.Millisecond)

	var out bytes.Buffer
	cmd := newRootCommand(pslog.NoopLogger())
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"request", "--addr", cfg.Listen, "--action", "agregar",
		"--id", "S1", "--nombre", "Ana", "--materia", "mat101", "--calificacion", "18.5"})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "Calificación agregada correctamente")

	out.Reset()
	cmd = newRootCommand(pslog.NoopLogger())
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"request", "--addr", cfg.Listen, "--action", "agregar",
		"--id", "S2", "--nombre", "Luis", "--materia", "ABC999", "--calificacion", "10"})
	assert.ErrorContains(t, cmd.ExecuteContext(ctx), "NRC 'ABC999' no existe")

	resp, err := http.Get("http://" + cfg.AdminListen + "/api/grades/S1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"Materia":"mat101"`)

	resp, err = http.Get("http://" + cfg.AdminListen + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), `gradebook_requests_total{action="agregar",status="success"} 1`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
