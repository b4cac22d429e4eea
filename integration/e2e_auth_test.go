package integration

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const fastConfig = `simulators:
  - name: racks
    strategy:
      name: rack-failure
    tick: 50ms
  - name: random
    tick: 50ms
`

const authConfig = `tokens:
  - token: reader123
    simulators: ["rack*"]
  - token: admin456
    simulators: ["*"]
    role: admin
`

// findFreePort asks the kernel for a free open port that is ready to use.
func findFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func buildBinary(t *testing.T, pkg, out string) {
	cmd := exec.Command("go", "build", "-o", out, pkg)
	cmd.Env = append(os.Environ(), "GOOS="+runtime.GOOS, "GOARCH="+runtime.GOARCH)
	if outBytes, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build %s: %v\n%s", pkg, err, string(outBytes))
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// startServer builds and launches the server with args and waits until it
// answers. It returns the server URL and the client binary.
func startServer(t *testing.T, ctx context.Context, args ...string) (string, string) {
	tempDir := t.TempDir()
	serverBin := filepath.Join(tempDir, "logcast-server")
	clientBin := filepath.Join(tempDir, "logcast")

	buildBinary(t, "../cmd/server", serverBin)
	buildBinary(t, "../cmd/client", clientBin)

	port, err := findFreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	cfg := writeFile(t, tempDir, "logcast.yaml", fastConfig)
	args = append([]string{"--addr", fmt.Sprintf("127.0.0.1:%d", port), "--config", cfg}, args...)
	srvCmd := exec.CommandContext(ctx, serverBin, args...)
	srvCmd.Stdout, srvCmd.Stderr = os.Stdout, os.Stderr
	if err := srvCmd.Start(); err != nil {
		t.Fatalf("srv: %v", err)
	}
	t.Cleanup(func() {
		_ = srvCmd.Process.Signal(os.Interrupt)
		_ = srvCmd.Wait()
	})

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(serverURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return serverURL, clientBin
}

func runClient(ctx context.Context, clientBin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, clientBin, args...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	return string(out), err
}

func TestBlackboxAuth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	authPath := writeFile(t, t.TempDir(), "auth.yaml", authConfig)
	serverURL, clientBin := startServer(t, ctx, "--auth-file", authPath)

	// a reader may follow racks but not random
	out, err := runClient(ctx, clientBin, "--server", serverURL, "--simulator", "racks", "--auth-token", "reader123", "--updates", "2")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if !strings.Contains(out, "machine") {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, err := runClient(ctx, clientBin, "--server", serverURL, "--simulator", "random", "--auth-token", "reader123", "--updates", "1"); err == nil {
		t.Fatalf("expected reader to be rejected for random")
	}
	if _, err := runClient(ctx, clientBin, "--server", serverURL, "--simulator", "racks", "--updates", "1", "--ws"); err == nil {
		t.Fatalf("expected stream without token to be rejected")
	}

	resp, err := http.Get(serverURL + "/api/clients?token=reader123")
	if err != nil {
		t.Fatalf("clients api: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}
}
