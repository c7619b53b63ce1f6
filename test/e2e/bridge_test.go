package e2e

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// addNoteBody is the envelope Yomitan sends for 勉強 aimed at the fake's
// vocab list.
const addNoteBody = `{"action": "addNote", "version": 2, "params": {"note": {"deckName": "12094:Textbook:Chapter 1", "modelName": "with jmdictId", "fields": {"Japanese": "勉強/べんきょう", "jmdictId": "1632350"}}}}`

// fakeRenshuu is a minimal stand-in for api.renshuu.org: one vocab study
// list and a one-word dictionary. It records upstream writes so tests can
// prove the bridge deduplicates against its cache instead of re-adding.
type fakeRenshuu struct {
	srv *httptest.Server

	mu       sync.Mutex
	addCalls int
	lastAuth string
}

func newFakeRenshuu(t *testing.T) *fakeRenshuu {
	t.Helper()
	f := &fakeRenshuu{}

	mux := http.NewServeMux()
	mux.HandleFunc("/lists", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		io.WriteString(w, `{"termtype_groups": [
			{"termtype": "vocab", "groups": [{"group_title": "Textbook", "lists": [{"list_id": 12094, "title": "Chapter 1"}]}]},
			{"termtype": "kanji", "groups": [{"group_title": "Textbook", "lists": [{"list_id": 900, "title": "Kanji"}]}]}
		]}`)
	})
	mux.HandleFunc("/word/search", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.URL.Query().Get("value") != "勉強" {
			io.WriteString(w, `{"words": []}`)
			return
		}
		io.WriteString(w, `{"words": [{"id": 2373655, "kanji_full": "勉強", "hiragana_full": "べんきょう", "edict_ent": 1632350, "aforms": []}]}`)
	})
	mux.HandleFunc("/word/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.Method != http.MethodPut {
			http.NotFound(w, r)
			return
		}
		f.mu.Lock()
		f.addCalls++
		f.mu.Unlock()
		io.WriteString(w, `{}`)
	})
	mux.HandleFunc("/lists/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		io.WriteString(w, `{"contents": {"terms": [], "total_pg": 1}, "num_terms": 0}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRenshuu) record(r *http.Request) {
	f.mu.Lock()
	f.lastAuth = r.Header.Get("Authorization")
	f.mu.Unlock()
}

func (f *fakeRenshuu) addCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addCalls
}

func (f *fakeRenshuu) auth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

// bridgeProc is one spawned renshuu-connect process under test.
type bridgeProc struct {
	cmd  *exec.Cmd
	base string
	out  *bytes.Buffer
}

// childEnv builds the spawned process environment: the parent's, minus
// any variable being overridden. Appending duplicates is not a reliable
// override across platforms.
func childEnv(overrides map[string]string) []string {
	env := []string{}
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[name]; ok {
			continue
		}
		env = append(env, kv)
	}
	for name, value := range overrides {
		env = append(env, name+"="+value)
	}
	return env
}

// startBridge launches the server binary against dataDir and upstream,
// waits for /about to answer, and returns the running process.
func startBridge(t *testing.T, dataDir, upstream string) *bridgeProc {
	t.Helper()

	// 1. Reserve a port. Closing the listener races with the server
	// re-binding it, but a collision in that window is vanishingly rare.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	// 2. Spawn the binary with a hermetic environment
	out := &bytes.Buffer{}
	cmd := exec.Command(serverBinary)
	cmd.Env = childEnv(map[string]string{
		"CONNECT_PORT":         strconv.Itoa(port),
		"DATA_DIR":             dataDir,
		"LOGS_DIR":             t.TempDir(),
		"RENSHUU_BASE_URL":     upstream,
		"RENSHUU_API_KEY":      "e2e-test-key",
		"LOG_LEVEL":            "warn",
		"OTEL_TRACES_EXPORTER": "none",
	})
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start bridge: %v", err)
	}

	p := &bridgeProc{cmd: cmd, base: fmt.Sprintf("http://127.0.0.1:%d", port), out: out}
	t.Cleanup(func() {
		if p.cmd.ProcessState == nil {
			p.cmd.Process.Kill()
			p.cmd.Wait()
		}
	})

	// 3. Wait for readiness with the same probe and grace period the
	// container HEALTHCHECK uses
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(p.base + "/about")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return p
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("bridge never answered /about\nOutput: %s", out.String())
	return nil
}

// stop sends SIGTERM — what `docker stop` delivers — and requires a
// clean exit.
func (p *bridgeProc) stop(t *testing.T) {
	t.Helper()
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal bridge: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("bridge exited dirty after SIGTERM: %v\nOutput: %s", err, p.out.String())
		}
	case <-time.After(15 * time.Second):
		p.cmd.Process.Kill()
		t.Fatalf("bridge ignored SIGTERM\nOutput: %s", p.out.String())
	}
}

// postAction sends one protocol envelope and returns the trimmed reply.
func postAction(t *testing.T, base, body string) string {
	t.Helper()
	resp, err := http.Post(base+"/", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("protocol reply status %d, want 200\nBody: %s", resp.StatusCode, raw)
	}
	return strings.TrimSpace(string(raw))
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp.StatusCode, string(raw)
}

// TestBridge_StartupSurfaces drives the operational endpoints of a real
// process: the probe the container runtime polls, the protocol handshake,
// and the metrics page. Ends with SIGTERM and expects a clean exit.
func TestBridge_StartupSurfaces(t *testing.T) {
	fake := newFakeRenshuu(t)
	p := startBridge(t, t.TempDir(), fake.srv.URL)

	// 1. The health probe target
	status, body := getBody(t, p.base+"/about")
	if status != http.StatusOK || !strings.Contains(body, "renshuu-connect is running!") {
		t.Errorf("GET /about = %d %q", status, body)
	}

	// 2. Protocol handshake
	if got := postAction(t, p.base, `{"action": "version", "version": 2}`); got != "2" {
		t.Errorf("version = %s, want 2", got)
	}

	// 3. Deck names come from the vocab branch only
	if got := postAction(t, p.base, `{"action": "deckNames", "version": 2}`); got != `["12094:Textbook:Chapter 1"]` {
		t.Errorf("deckNames = %s", got)
	}

	// 4. Upstream saw the configured fallback key
	if got := fake.auth(); got != "Bearer e2e-test-key" {
		t.Errorf("upstream Authorization = %q", got)
	}

	// 5. Health and metrics answer
	if status, _ := getBody(t, p.base+"/health"); status != http.StatusOK {
		t.Errorf("GET /health = %d", status)
	}
	status, body = getBody(t, p.base+"/metrics")
	if status != http.StatusOK || !strings.Contains(body, "actions_total") {
		t.Errorf("GET /metrics = %d, body has actions_total: %v", status, strings.Contains(body, "actions_total"))
	}

	// 6. Clean shutdown on SIGTERM
	p.stop(t)
	t.Log("✅ Startup surfaces pass")
}

// TestBridge_AddNoteLifecycle walks the full Yomitan flow: add a word,
// re-add it, search for it, and run the detailed duplicate probe.
func TestBridge_AddNoteLifecycle(t *testing.T) {
	fake := newFakeRenshuu(t)
	p := startBridge(t, t.TempDir(), fake.srv.URL)

	// 1. First add resolves the term, warms the list, schedules upstream
	if got := postAction(t, p.base, addNoteBody); got != "1" {
		t.Fatalf("addNote = %s, want 1\nOutput: %s", got, p.out.String())
	}
	if n := fake.addCount(); n != 1 {
		t.Errorf("upstream add calls = %d, want 1", n)
	}

	// 2. The same note again succeeds from the cache, no second write
	if got := postAction(t, p.base, addNoteBody); got != "1" {
		t.Fatalf("repeat addNote = %s, want 1", got)
	}
	if n := fake.addCount(); n != 1 {
		t.Errorf("upstream add calls after re-add = %d, want 1", n)
	}

	// 3. The cached note is findable the way clients probe duplicates
	if got := postAction(t, p.base, `{"action": "findNotes", "version": 2, "params": {"query": "勉強"}}`); got != "[2373655]" {
		t.Errorf("findNotes = %s, want [2373655]", got)
	}

	// 4. The detailed probe flags it with the exact message clients match
	got := postAction(t, p.base, `{"action": "canAddNotesWithErrorDetail", "version": 2, "params": {"notes": [{"deckName": "12094:Textbook:Chapter 1", "fields": {"Japanese": "勉強/べんきょう"}}]}}`)
	if !strings.Contains(got, `"canAdd":false`) || !strings.Contains(got, "cannot create note because it is a duplicate") {
		t.Errorf("canAddNotesWithErrorDetail = %s", got)
	}

	p.stop(t)
	t.Log("✅ Add-note lifecycle pass")
}

// TestBridge_CacheSurvivesRestart proves the /data contract: a second
// process on the same data dir answers from the persisted cache with the
// upstream unreachable.
func TestBridge_CacheSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()
	fake := newFakeRenshuu(t)

	// 1. Fill the cache and stop cleanly
	p := startBridge(t, dataDir, fake.srv.URL)
	if got := postAction(t, p.base, addNoteBody); got != "1" {
		t.Fatalf("addNote = %s, want 1\nOutput: %s", got, p.out.String())
	}
	p.stop(t)

	// 2. Restart on the same data dir with a dead upstream
	p = startBridge(t, dataDir, "http://127.0.0.1:1")
	if got := postAction(t, p.base, `{"action": "findNotes", "version": 2, "params": {"query": "勉強"}}`); got != "[2373655]" {
		t.Errorf("findNotes after restart = %s, want [2373655]", got)
	}

	// 3. The duplicate probe is cache-only too
	got := postAction(t, p.base, `{"action": "canAddNotesWithErrorDetail", "version": 2, "params": {"notes": [{"deckName": "12094:Textbook:Chapter 1", "fields": {"Japanese": "勉強/べんきょう"}}]}}`)
	if !strings.Contains(got, `"canAdd":false`) {
		t.Errorf("duplicate probe after restart = %s", got)
	}

	p.stop(t)
	t.Log("✅ Cache survives restart")
}

// TestAdmin_DrivesRunningBridge exercises the renshuu-admin binary against
// a live bridge: status, cache stats, and a cache drop.
func TestAdmin_DrivesRunningBridge(t *testing.T) {
	fake := newFakeRenshuu(t)
	p := startBridge(t, t.TempDir(), fake.srv.URL)

	if got := postAction(t, p.base, addNoteBody); got != "1" {
		t.Fatalf("addNote = %s, want 1\nOutput: %s", got, p.out.String())
	}

	// 1. status
	out := runAdmin(t, "--server", p.base, "--personality", "machine", "status")
	if !strings.Contains(out, "OK: bridge is up") {
		t.Errorf("status output = %q", out)
	}

	// 2. cache stats reflect the add
	out = runAdmin(t, "--server", p.base, "--personality", "machine", "cache", "stats")
	for _, want := range []string{"words=1", "lists=1", "memberships=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("cache stats output %q missing %q", out, want)
		}
	}

	// 3. Dropping the list forgets memberships but keeps words
	out = runAdmin(t, "--server", p.base, "--personality", "machine", "cache", "drop", "12094")
	if !strings.Contains(out, "OK: dropped 1 cached memberships for list 12094") {
		t.Errorf("cache drop output = %q", out)
	}
	out = runAdmin(t, "--server", p.base, "--personality", "machine", "cache", "stats")
	if !strings.Contains(out, "memberships=0") || !strings.Contains(out, "words=1") {
		t.Errorf("cache stats after drop = %q", out)
	}

	p.stop(t)
	t.Log("✅ Admin CLI drives the bridge")
}

// runAdmin execs the admin binary and returns its combined output.
func runAdmin(t *testing.T, args ...string) string {
	t.Helper()
	out, err := exec.Command(adminBinary, args...).CombinedOutput()
	if err != nil {
		t.Fatalf("renshuu-admin %s: %v\nOutput: %s", strings.Join(args, " "), err, out)
	}
	return string(out)
}
