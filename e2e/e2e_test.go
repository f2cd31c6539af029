// Package e2e provides end-to-end tests of the OCCI server over a real
// listener.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/occigate/bootstrap"
	"github.com/artpar/occigate/config"
	"github.com/artpar/occigate/core/rendering"
	"github.com/artpar/occigate/domain/infrastructure"
)

var (
	computeKind   = `compute; scheme="` + infrastructure.InfraScheme + `"; class="kind"`
	storageKind   = `storage; scheme="` + infrastructure.InfraScheme + `"; class="kind"`
	networkKind   = `network; scheme="` + infrastructure.InfraScheme + `"; class="kind"`
	startAction   = `start; scheme="` + infrastructure.ComputeActionScheme + `"; class="action"`
	stopAction    = `stop; scheme="` + infrastructure.ComputeActionScheme + `"; class="action"`
	onlineAction  = `online; scheme="` + infrastructure.StorageActionScheme + `"; class="action"`
	taggedMixin   = `gold; scheme="http://example.com/tags#"; class="mixin"; location="/tags/gold/"`
	computeStateA = infrastructure.ComputeStateAttr
)

// client talks to a running server.
type client struct {
	t    *testing.T
	base string
	user string
	pass string
	http *http.Client
}

func (c *client) do(method, path string, header ...string) (*http.Response, string) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for _, h := range header {
		name, value, _ := strings.Cut(h, ": ")
		req.Header.Add(name, value)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (c *client) create(path, category string, header ...string) string {
	c.t.Helper()
	resp, body := c.do(http.MethodPost, path, append([]string{"Category: " + category}, header...)...)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create %s: status = %d, body: %s", path, resp.StatusCode, body)
	}
	return strings.TrimPrefix(resp.Header.Get("Location"), c.base)
}

func (c *client) entity(path string) rendering.EntityJSON {
	c.t.Helper()
	resp, body := c.do(http.MethodGet, path, "Accept: application/json")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("GET %s: status = %d, body: %s", path, resp.StatusCode, body)
	}
	var doc rendering.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		c.t.Fatalf("decode %s: %v", path, err)
	}
	if len(doc.Resources)+len(doc.Links) != 1 {
		c.t.Fatalf("GET %s rendered %d resources and %d links", path, len(doc.Resources), len(doc.Links))
	}
	if len(doc.Resources) == 1 {
		return doc.Resources[0]
	}
	return doc.Links[0]
}

func TestE2E_ComputeLifecycle(t *testing.T) {
	app := setupTestApp(t, "")
	c := startServer(t, app)

	vm := c.create("/compute/", computeKind, `X-OCCI-Attribute: occi.compute.cores=2, occi.compute.hostname="web01"`)
	if !strings.HasPrefix(vm, "/compute/") {
		t.Fatalf("Location = %s", vm)
	}

	e := c.entity(vm)
	if e.Attributes[computeStateA] != infrastructure.ComputeInactive {
		t.Errorf("initial state = %v, want inactive", e.Attributes[computeStateA])
	}
	if e.Attributes["occi.compute.hostname"] != "web01" {
		t.Errorf("hostname = %v", e.Attributes["occi.compute.hostname"])
	}

	resp, body := c.do(http.MethodPost, vm+"?action=start", "Category: "+startAction)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status = %d, body: %s", resp.StatusCode, body)
	}
	if got := c.entity(vm).Attributes[computeStateA]; got != infrastructure.ComputeActive {
		t.Errorf("state after start = %v, want active", got)
	}

	// Invalid transition
	resp, _ = c.do(http.MethodPost, vm+"?action=start", "Category: "+startAction)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("second start: status = %d, want 400", resp.StatusCode)
	}

	resp, body = c.do(http.MethodPost, vm+"?action=stop", "Category: "+stopAction, `X-OCCI-Attribute: method="graceful"`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status = %d, body: %s", resp.StatusCode, body)
	}
	if got := c.entity(vm).Attributes[computeStateA]; got != infrastructure.ComputeInactive {
		t.Errorf("state after stop = %v, want inactive", got)
	}

	resp, body = c.do(http.MethodGet, "/compute/", "Accept: text/uri-list")
	if resp.StatusCode != http.StatusOK || body != c.base+vm+"\r\n" {
		t.Errorf("collection = %d %q", resp.StatusCode, body)
	}

	resp, _ = c.do(http.MethodDelete, vm)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status = %d", resp.StatusCode)
	}
	resp, _ = c.do(http.MethodGet, vm)
	if resp.StatusCode == http.StatusOK {
		t.Error("deleted compute is still served")
	}
}

func TestE2E_QueryInterface(t *testing.T) {
	app := setupTestApp(t, "")
	c := startServer(t, app)

	resp, body := c.do(http.MethodGet, "/-/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Server"); got != bootstrap.ServerName {
		t.Errorf("Server = %q", got)
	}
	for _, want := range []string{computeKind, storageKind, networkKind, startAction} {
		if !strings.Contains(body, "Category: "+want) {
			t.Errorf("query interface lacks %s", want)
		}
	}

	resp, body = c.do(http.MethodGet, "/.well-known/org/ogf/occi/-/", "Accept: application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("well-known: status = %d", resp.StatusCode)
	}
	var doc rendering.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Kinds) == 0 || len(doc.Actions) == 0 {
		t.Errorf("document = %d kinds, %d actions", len(doc.Kinds), len(doc.Actions))
	}
}

func TestE2E_LinksAndMixins(t *testing.T) {
	app := setupTestApp(t, "")
	c := startServer(t, app)

	network := c.create("/network/", networkKind)
	vm := c.create("/compute/", computeKind,
		`Link: <`+network+`>; rel="`+infrastructure.InfraScheme+`network"; category="`+infrastructure.InfraScheme+`networkinterface"`,
	)

	e := c.entity(vm)
	if len(e.Links) != 1 || !strings.HasSuffix(e.Links[0].Target, network) {
		t.Fatalf("links = %+v", e.Links)
	}

	resp, body := c.do(http.MethodPut, "/-/", "Category: "+taggedMixin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("declare mixin: status = %d, body: %s", resp.StatusCode, body)
	}
	resp, body = c.do(http.MethodPut, "/tags/gold/", "X-OCCI-Location: "+vm)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("associate: status = %d, body: %s", resp.StatusCode, body)
	}
	if e := c.entity(vm); len(e.Mixins) != 1 || e.Mixins[0] != "http://example.com/tags#gold" {
		t.Errorf("mixins = %v", e.Mixins)
	}

	// Deleting the resource removes its links.
	if resp, _ := c.do(http.MethodDelete, vm); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status = %d", resp.StatusCode)
	}
	if _, body := c.do(http.MethodGet, "/link/networkinterface/"); strings.Contains(body, "X-OCCI-Location") {
		t.Errorf("link survived its source: %s", body)
	}
	if _, body := c.do(http.MethodGet, "/tags/gold/"); body != "" {
		t.Errorf("mixin collection = %q, want empty", body)
	}
}

func TestE2E_HealthEndpoints(t *testing.T) {
	app := setupTestApp(t, "")
	c := startServer(t, app)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		resp, body := c.do(http.MethodGet, path)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, body: %s", path, resp.StatusCode, body)
		}
	}

	resp, body := c.do(http.MethodGet, "/version")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"service":"occigate"`) {
		t.Errorf("version = %d %s", resp.StatusCode, body)
	}
}

func TestE2E_BasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	app := setupTestApp(t, fmt.Sprintf("auth:\n  username: admin\n  password_hash: %q\n", string(hash)))
	c := startServer(t, app)

	resp, _ := c.do(http.MethodGet, "/-/")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("WWW-Authenticate"), "Basic") {
		t.Errorf("WWW-Authenticate = %q", resp.Header.Get("WWW-Authenticate"))
	}

	c.user, c.pass = "admin", "wrong"
	if resp, _ := c.do(http.MethodGet, "/-/"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", resp.StatusCode)
	}

	c.user, c.pass = "admin", "s3cret"
	if resp, _ := c.do(http.MethodGet, "/-/"); resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated: status = %d, want 200", resp.StatusCode)
	}

	c.user = ""
	if resp, _ := c.do(http.MethodGet, "/health"); resp.StatusCode != http.StatusOK {
		t.Errorf("health behind auth: status = %d", resp.StatusCode)
	}
}

// TestE2E_Persistence restarts a sqlite-backed server and checks that
// entities, their state and user mixins come back.
func TestE2E_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "inventory.db")
	extra := fmt.Sprintf("backend:\n  type: sqlite\n  sqlite:\n    dsn: %q\n", dbPath)

	first := setupTestApp(t, extra)
	c := startServer(t, first)

	disk := c.create("/storage/", storageKind, "X-OCCI-Attribute: occi.storage.size=10")
	if resp, body := c.do(http.MethodPost, disk+"?action=online", "Category: "+onlineAction); resp.StatusCode != http.StatusOK {
		t.Fatalf("online: status = %d, body: %s", resp.StatusCode, body)
	}
	if resp, body := c.do(http.MethodPut, "/-/", "Category: "+taggedMixin); resp.StatusCode != http.StatusOK {
		t.Fatalf("declare mixin: status = %d, body: %s", resp.StatusCode, body)
	}
	if resp, body := c.do(http.MethodPut, "/tags/gold/", "X-OCCI-Location: "+disk); resp.StatusCode != http.StatusOK {
		t.Fatalf("associate: status = %d, body: %s", resp.StatusCode, body)
	}
	first.Shutdown()

	second := setupTestApp(t, extra)
	c = startServer(t, second)

	e := c.entity(disk)
	if e.Attributes[infrastructure.StorageStateAttr] != infrastructure.StorageOnline {
		t.Errorf("restored state = %v, want online", e.Attributes[infrastructure.StorageStateAttr])
	}
	if len(e.Mixins) != 1 || e.Mixins[0] != "http://example.com/tags#gold" {
		t.Errorf("restored mixins = %v", e.Mixins)
	}
	if _, body := c.do(http.MethodGet, "/tags/gold/"); !strings.Contains(body, disk) {
		t.Errorf("mixin collection = %q", body)
	}
}

func setupTestApp(t *testing.T, extra string) *bootstrap.App {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 8080

metrics:
  enabled: false

logging:
  level: error
  format: json
` + extra

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	t.Cleanup(func() { app.Shutdown() })
	return app
}

func startServer(t *testing.T, app *bootstrap.App) *client {
	t.Helper()

	// Find free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()

	go func() {
		if err := app.HTTPServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.Logf("server: %v", err)
		}
	}()

	waitForServer(t, addr)
	return &client{
		t:    t,
		base: "http://" + addr,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("server at %s did not start", addr)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
