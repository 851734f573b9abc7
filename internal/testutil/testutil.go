// Package testutil runs a real ghost server binary for end-to-end tests.
package testutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// Secret is the JWT secret the test server is started with.
	Secret = "e2e-secret"

	healthEndpoint = "/health"
	healthTimeout  = 30 * time.Second
	healthInterval = 200 * time.Millisecond
	binaryPrefix   = "ghost-test-server-"
)

// Server is a running ghost process.
type Server struct {
	// URL is the base address, e.g. http://127.0.0.1:41234.
	URL string

	cmd *exec.Cmd
}

// Start builds the module's main package and runs it on a free port.
// Extra environment entries are appended to the server's environment;
// DATABASE_URL is passed through when set so the same tests can run
// against Postgres.
func Start(ctx context.Context, env ...string) (*Server, error) {
	root, err := findModuleRoot()
	if err != nil {
		return nil, err
	}
	url, port, err := pickAddr()
	if err != nil {
		return nil, fmt.Errorf("pick port: %w", err)
	}
	binPath, err := buildServerBinary(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("build server: %w", err)
	}

	uploads, err := os.MkdirTemp("", "ghost-uploads-")
	if err != nil {
		cleanupServerBinary(binPath)
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binPath, "-addr", ":"+port)
	cmd.Dir = root
	cmd.Env = append(os.Environ(),
		"ENV=test",
		"JWT_SECRET="+Secret,
		"JWT_ISSUER=",
		"UPLOAD_DIR="+uploads,
	)
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		cleanupServerBinary(binPath)
		return nil, err
	}

	s := &Server{URL: url, cmd: cmd}
	if err := waitForHealth(url); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return s, nil
}

// Stop kills the server and removes its binary.
func (s *Server) Stop() error {
	if s == nil || s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	_ = s.cmd.Process.Kill()
	_, err := s.cmd.Process.Wait()
	cleanupServerBinary(s.cmd.Path)
	return err
}

func buildServerBinary(ctx context.Context, root string) (string, error) {
	tmpDir, err := os.MkdirTemp("", binaryPrefix)
	if err != nil {
		return "", err
	}

	binPath := filepath.Join(tmpDir, "ghost")
	buildCmd := exec.CommandContext(ctx, "go", "build", "-o", binPath, ".")
	buildCmd.Dir = root
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", err
	}
	return binPath, nil
}

func findModuleRoot() (string, error) {
	start, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := start
	for {
		if _, statErr := os.Stat(filepath.Join(dir, "go.mod")); statErr == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found from %s", start)
		}
		dir = parent
	}
}

func cleanupServerBinary(path string) {
	if path == "" {
		return
	}
	dir := filepath.Dir(path)
	if strings.HasPrefix(filepath.Base(dir), binaryPrefix) {
		_ = os.RemoveAll(dir)
	}
}

func waitForHealth(base string) error {
	deadline := time.Now().Add(healthTimeout)
	url := base + healthEndpoint
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(healthInterval)
	}
	return fmt.Errorf("health endpoint not ready at %s", url)
}

func pickAddr() (url, port string, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", "", err
	}
	defer func() {
		_ = ln.Close()
	}()

	_, port, err = net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return "", "", err
	}
	return "http://127.0.0.1:" + port, port, nil
}
