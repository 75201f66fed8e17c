package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ftlgym/gatecheck/internal/camera"
	"github.com/ftlgym/gatecheck/internal/database"
	"github.com/ftlgym/gatecheck/internal/facematch"
	"github.com/ftlgym/gatecheck/internal/landmark"
	"github.com/ftlgym/gatecheck/internal/models"
	"github.com/ftlgym/gatecheck/internal/verification"
)

// blinkBackend always reports a blink-shaped EAR sequence: two open
// samples, then a closed one.
type blinkBackend struct {
	mu    sync.Mutex
	calls int
}

func (b *blinkBackend) Warmup(ctx context.Context) error { return nil }

func (b *blinkBackend) EstimateFace(ctx context.Context, frame image.Image) (*landmark.LandmarkFrame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ear := 0.30
	if b.calls%3 == 2 {
		ear = 0.12
	}
	b.calls++

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

func (c *stubCamera) Start(ctx context.Context) error               { return nil }
func (c *stubCamera) Ready() <-chan struct{}                        { return c.ready }
func (c *stubCamera) Err() error                                    { return nil }
func (c *stubCamera) Frame(ctx context.Context) (image.Image, error) { return c.frame, nil }
func (c *stubCamera) Stop()                                         {}

type testEnv struct {
	server *httptest.Server
	db     *database.DB
	app    *App
}

// newTestEnv wires the full API against an in-memory database, a fake
// camera/mesh pipeline, and an oracle that matches everyone as the
// given name.
func newTestEnv(t *testing.T, oracleName string) *testEnv {
	t.Helper()

	db, err := database.NewDB(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.NewMigrator(db.Conn()).Run("../../migrations"); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	oracleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(facematch.Result{
			OK:      true,
			Matched: true,
			Candidate: &facematch.Candidate{
				MemberPK: 1,
				Name:     oracleName,
			},
			BestScore: 0.9,
		})
	}))
	t.Cleanup(oracleSrv.Close)

	eventRepo := database.NewEventRepo(db)
	verifier := verification.NewService(
		landmark.NewLoader(&blinkBackend{}),
		facematch.NewClient(oracleSrv.URL),
		func() (camera.FrameSource, error) { return newStubCamera(), nil },
		eventRepo,
		nil,
		verification.Config{LoopInterval: time.Millisecond},
	)

	app := &App{
		BookingRepo: database.NewBookingRepo(db),
		CheckinRepo: database.NewCheckinRepo(db),
		EventRepo:   eventRepo,
		StaffRepo:   database.NewStaffRepo(db),
		Verifier:    verifier,
	}

	server := httptest.NewServer(NewRouter(app))
	t.Cleanup(server.Close)

	return &testEnv{server: server, db: db, app: app}
}

func (e *testEnv) seedBooking(t *testing.T, memberFirst, memberLast string) int64 {
	t.Helper()
	conn := e.db.Conn()
	res, err := conn.Exec("INSERT INTO club (name) VALUES ('Downtown')")
	if err != nil {
		t.Fatalf("Failed to seed club: %v", err)
	}
	clubID, _ := res.LastInsertId()

	res, err = conn.Exec("INSERT INTO member (first_name, last_name) VALUES (?, ?)", memberFirst, memberLast)
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
	bookingID, _ := res.LastInsertId()
	return bookingID
}

func decodeData(t *testing.T, resp *http.Response, out interface{}) {
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
	if !env.Success {
		t.Fatalf("Request failed: %s", env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("Failed to decode data: %v", err)
		}
	}
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, "Ana Silva")

	resp, err := http.Get(env.server.URL + "/ping")
	if err != nil {
		t.Fatalf("GET /ping error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status = %d", resp.StatusCode)
	}
}

func TestServerTime(t *testing.T) {
	env := newTestEnv(t, "Ana Silva")

	resp, err := http.Get(env.server.URL + "/api/server-time")
	if err != nil {
		t.Fatalf("GET /api/server-time error = %v", err)
	}

	var data map[string]string
	decodeData(t, resp, &data)
	if _, err := time.Parse(time.RFC3339, data["time"]); err != nil {
		t.Errorf("Unparseable time %q: %v", data["time"], err)
	}
	if _, err := time.Parse("2006-01-02", data["date"]); err != nil {
		t.Errorf("Unparseable date %q: %v", data["date"], err)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, "Ana Silva")

	if _, err := env.app.StaffRepo.Create(context.Background(), "desk@ftlgym.com", "s3cret", "Front Desk", 0, ""); err != nil {
		t.Fatalf("Failed to seed staff: %v", err)
	}
	if _, err := env.app.StaffRepo.Create(context.Background(), "carla@ftlgym.com", "s3cret", "Carla Dias", models.StaffPTRoleID, "Riverside"); err != nil {
		t.Fatalf("Failed to seed PT staff: %v", err)
	}

	post := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST /api/auth/login error = %v", err)
		}
		return resp
	}

	resp := post(`{"email":"desk@ftlgym.com","password":"s3cret"}`)
	var staff struct {
		Email    string `json:"email"`
		RoleID   int    `json:"role_id"`
		ClubName string `json:"club_name"`
	}
	decodeData(t, resp, &staff)
	if staff.Email != "desk@ftlgym.com" || staff.RoleID != 0 {
		t.Errorf("Logged-in staff = %+v", staff)
	}

	// A PT login carries role and club for dashboard pre-selection.
	resp = post(`{"email":"carla@ftlgym.com","password":"s3cret"}`)
	decodeData(t, resp, &staff)
	if staff.RoleID != models.StaffPTRoleID || staff.ClubName != "Riverside" {
		t.Errorf("PT login = %+v, want role %d and club Riverside", staff, models.StaffPTRoleID)
	}

	resp = post(`{"email":"desk@ftlgym.com","password":"nope"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Wrong password status = %d", resp.StatusCode)
	}
}

func TestBookings_FlagsFilled(t *testing.T) {
	env := newTestEnv(t, "Ana Silva")
	bookingID := env.seedBooking(t, "Ana", "Silva")

	// Gate log for today and a prior verified member event.
	today := time.Now().Format("2006-01-02")
	if _, err := env.db.Conn().Exec(
		"INSERT INTO fr_checkin_logs (name, date, status) VALUES ('ana silva', ?, 'success')", today,
	); err != nil {
		t.Fatalf("Failed to seed gate log: %v", err)
	}
	if _, err := env.db.Conn().Exec(
		`INSERT INTO verification_events (id, booking_id, role, person, verified, created_at)
		 VALUES ('evt-1', ?, 'member', 'Ana Silva', 1, CURRENT_TIMESTAMP)`, bookingID,
	); err != nil {
		t.Fatalf("Failed to seed event: %v", err)
	}

	resp, err := http.Get(env.server.URL + "/api/bookings")
	if err != nil {
		t.Fatalf("GET /api/bookings error = %v", err)
	}

	var bookings []struct {
		ID            int64    `json:"id"`
		MemberName    string   `json:"member_name"`
		GateVerified  bool     `json:"gate_verified"`
		VerifiedRoles []string `json:"verified_roles"`
	}
	decodeData(t, resp, &bookings)
	if len(bookings) != 1 {
		t.Fatalf("Expected 1 booking, got %d", len(bookings))
	}
	b := bookings[0]
	if b.MemberName != "Ana Silva" {
		t.Errorf("MemberName = %q", b.MemberName)
	}
	if !b.GateVerified {
		t.Error("Expected gate_verified true")
	}
	if len(b.VerifiedRoles) != 1 || b.VerifiedRoles[0] != "member" {
		t.Errorf("VerifiedRoles = %v", b.VerifiedRoles)
	}
}

func TestBookings_PTNameFilter(t *testing.T) {
	env := newTestEnv(t, "Ana Silva")
	env.seedBooking(t, "Ana", "Silva")

	conn := env.db.Conn()
	res, err := conn.Exec(
		"INSERT INTO member (first_name, last_name, role_id) VALUES ('Carla', 'Dias', 11)")
	if err != nil {
		t.Fatalf("Failed to seed trainer: %v", err)
	}
	trainerID, _ := res.LastInsertId()
	res, err = conn.Exec(`
		INSERT INTO list_booking (member_id, trainer_id, club_id, starts_at)
		SELECT member_id, ?, club_id, CURRENT_TIMESTAMP FROM list_booking LIMIT 1`, trainerID)
	if err != nil {
		t.Fatalf("Failed to seed PT booking: %v", err)
	}
	ptBookingID, _ := res.LastInsertId()

	resp, err := http.Get(env.server.URL + "/api/bookings?pt_name=carla%20dias")
	if err != nil {
		t.Fatalf("GET /api/bookings error = %v", err)
	}

	var bookings []struct {
		ID          int64  `json:"id"`
		TrainerName string `json:"trainer_name"`
	}
	decodeData(t, resp, &bookings)
	if len(bookings) != 1 || bookings[0].ID != ptBookingID {
		t.Fatalf("Expected only the trainer's own booking, got %+v", bookings)
	}
	if bookings[0].TrainerName != "Carla Dias" {
		t.Errorf("TrainerName = %q", bookings[0].TrainerName)
	}
}

func TestVerificationSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, "Ana Silva")
	bookingID := env.seedBooking(t, "Ana", "Silva")

	// Person omitted: the handler derives it from the booking.
	body := fmt.Sprintf(`{"booking_id":%d,"role":"member"}`, bookingID)
	resp, err := http.Post(env.server.URL+"/api/verification/sessions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST sessions error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Status = %d", resp.StatusCode)
	}

	var created struct {
		SessionID string `json:"session_id"`
		Booking   struct {
			Person string `json:"person"`
		} `json:"booking"`
	}
	decodeData(t, resp, &created)
	if created.Booking.Person != "Ana Silva" {
		t.Errorf("Derived person = %q", created.Booking.Person)
	}

	// Poll until resolved.
	var final struct {
		State   string `json:"state"`
		Outcome *struct {
			Verified bool   `json:"verified"`
			Message  string `json:"message"`
		} `json:"outcome"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(env.server.URL + "/api/verification/sessions/" + created.SessionID)
		if err != nil {
			t.Fatalf("GET session error = %v", err)
		}
		decodeData(t, resp, &final)
		if final.State == "resolved" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if final.State != "resolved" {
		t.Fatalf("Session never resolved, state %q", final.State)
	}
	if final.Outcome == nil || !final.Outcome.Verified {
		t.Fatalf("Expected verified outcome, got %+v", final.Outcome)
	}

	// Retry a resolved session is allowed; wait for it to resolve again
	// before teardown.
	resp, err = http.Post(env.server.URL+"/api/verification/sessions/"+created.SessionID+"/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("POST retry error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Retry status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/api/verification/sessions/"+created.SessionID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE session error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Teardown status = %d", resp.StatusCode)
	}

	// The session is gone afterwards.
	resp, err = http.Get(env.server.URL + "/api/verification/sessions/" + created.SessionID)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Post-teardown status = %d", resp.StatusCode)
	}
}

func TestRetryUnknownSession(t *testing.T) {
	env := newTestEnv(t, "Ana Silva")

	resp, err := http.Post(env.server.URL+"/api/verification/sessions/nope/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("POST retry error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d", resp.StatusCode)
	}
}
