package integration

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ftlgym/gatecheck/internal/api"
	"github.com/ftlgym/gatecheck/internal/camera"
	"github.com/ftlgym/gatecheck/internal/database"
	"github.com/ftlgym/gatecheck/internal/facematch"
	"github.com/ftlgym/gatecheck/internal/landmark"
	"github.com/ftlgym/gatecheck/internal/storage"
	"github.com/ftlgym/gatecheck/internal/verification"
)

type TestServer struct {
	Server    *httptest.Server
	App       *api.App
	DB        *database.DB
	Oracle    *scriptedOracle
	Mesh      *scriptedMesh
	Snapshots storage.SnapshotStore
}

// scriptedOracle is an HTTP double for the face matching service; its
// next response can be swapped per test step.
type scriptedOracle struct {
	mu     sync.Mutex
	result facematch.Result
	status int
	calls  int
}

func (o *scriptedOracle) set(result facematch.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.result = result
	o.status = 0
}

func (o *scriptedOracle) setStatus(status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
}

func (o *scriptedOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *scriptedOracle) handler(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	result, status := o.result, o.status
	o.calls++
	o.mu.Unlock()

	if status != 0 {
		http.Error(w, "oracle down", status)
		return
	}
	json.NewEncoder(w).Encode(result)
}

// scriptedMesh fakes the landmark backend with a programmable EAR
// sequence, holding the last value.
type scriptedMesh struct {
	mu    sync.Mutex
	ears  []float64
	calls int
}

func (m *scriptedMesh) set(ears ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ears = ears
	m.calls = 0
}

func (m *scriptedMesh) Warmup(ctx context.Context) error { return nil }

func (m *scriptedMesh) EstimateFace(ctx context.Context, frame image.Image) (*landmark.LandmarkFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	if i >= len(m.ears) {
		i = len(m.ears) - 1
	}
	m.calls++
	ear := m.ears[i]

	kp := make([]landmark.Point, 478)
	for _, indices := range [][6]int{landmark.LeftEyeIndices, landmark.RightEyeIndices} {
		kp[indices[0]] = landmark.Point{X: 0.10, Y: 0.5}
		kp[indices[3]] = landmark.Point{X: 0.35, Y: 0.5}
		kp[indices[1]] = landmark.Point{X: 0.15, Y: 0.5 - ear/6}
		kp[indices[5]] = landmark.Point{X: 0.15, Y: 0.5 + ear/6}
		kp[indices[2]] = landmark.Point{X: 0.30, Y: 0.5 - ear/6}
		kp[indices[4]] = landmark.Point{X: 0.30, Y: 0.5 + ear/6}
	}
	return &landmark.LandmarkFrame{Keypoints: kp}, nil
}

type stubCamera struct {
	frame image.Image
	ready chan struct{}
}

func newStubCamera() *stubCamera {
	ready := make(chan struct{})
	close(ready)
	return &stubCamera{frame: image.NewRGBA(image.Rect(0, 0, 640, 480)), ready: ready}
}

func (c *stubCamera) Start(ctx context.Context) error                { return nil }
func (c *stubCamera) Ready() <-chan struct{}                         { return c.ready }
func (c *stubCamera) Err() error                                     { return nil }
func (c *stubCamera) Frame(ctx context.Context) (image.Image, error) { return c.frame, nil }
func (c *stubCamera) Stop()                                          {}

func setupTestServer(t *testing.T) *TestServer {
	t.Helper()

	tempDir := t.TempDir()

	db, err := database.NewDB(database.Config{Path: filepath.Join(tempDir, "test.db")})
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.NewMigrator(db.Conn()).Run("../../migrations"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	oracle := &scriptedOracle{result: facematch.Result{OK: true}}
	oracleSrv := httptest.NewServer(http.HandlerFunc(oracle.handler))
	t.Cleanup(oracleSrv.Close)

	mesh := &scriptedMesh{}
	mesh.set(0.30)

	snapshots, err := storage.NewLocalStorage(filepath.Join(tempDir, "snapshots"))
	if err != nil {
		t.Fatalf("Failed to create snapshot storage: %v", err)
	}

	eventRepo := database.NewEventRepo(db)
	verifier := verification.NewService(
		landmark.NewLoader(mesh),
		facematch.NewClient(oracleSrv.URL),
		func() (camera.FrameSource, error) { return newStubCamera(), nil },
		eventRepo,
		snapshots,
		verification.Config{
			BlinkWait:    2 * time.Second,
			LoopInterval: time.Millisecond,
		},
	)

	app := &api.App{
		BookingRepo: database.NewBookingRepo(db),
		CheckinRepo: database.NewCheckinRepo(db),
		EventRepo:   eventRepo,
		StaffRepo:   database.NewStaffRepo(db),
		Verifier:    verifier,
	}

	server := httptest.NewServer(api.NewRouter(app))
	t.Cleanup(server.Close)

	return &TestServer{
		Server:    server,
		App:       app,
		DB:        db,
		Oracle:    oracle,
		Mesh:      mesh,
		Snapshots: snapshots,
	}
}

func (ts *TestServer) seedBooking(t *testing.T, first, last string) int64 {
	t.Helper()
	conn := ts.DB.Conn()

	var clubID int64
	if err := conn.QueryRow("SELECT id FROM club LIMIT 1").Scan(&clubID); err != nil {
		res, err := conn.Exec("INSERT INTO club (name) VALUES ('Downtown')")
		if err != nil {
			t.Fatalf("Failed to seed club: %v", err)
		}
		clubID, _ = res.LastInsertId()
	}

	res, err := conn.Exec("INSERT INTO member (first_name, last_name) VALUES (?, ?)", first, last)
	if err != nil {
		t.Fatalf("Failed to seed member: %v", err)
	}
	memberID, _ := res.LastInsertId()

	res, err = conn.Exec(
		"INSERT INTO list_booking (member_id, club_id, starts_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		memberID, clubID,
	)
	if err != nil {
		t.Fatalf("Failed to seed booking: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func decodeData(t *testing.T, resp *http.Response, out interface{}) int {
	t.Helper()
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if env.Success && out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("Failed to decode data: %v", err)
		}
	}
	return resp.StatusCode
}

type sessionView struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	BlinkFired bool   `json:"blink_fired"`
	Outcome    *struct {
		Verified bool   `json:"verified"`
		Reason   string `json:"reason"`
		Message  string `json:"message"`
	} `json:"outcome"`
}

func (ts *TestServer) getSession(t *testing.T, sessionID string) sessionView {
	t.Helper()
	resp, err := http.Get(ts.Server.URL + "/api/verification/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	var view sessionView
	decodeData(t, resp, &view)
	return view
}

func (ts *TestServer) waitResolved(t *testing.T, sessionID string) sessionView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view := ts.getSession(t, sessionID)
		if view.State == "resolved" {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Session %s never resolved", sessionID)
	return sessionView{}
}
