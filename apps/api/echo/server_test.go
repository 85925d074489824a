package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/signal"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
	"github.com/trezcool/mkopo/core/incident"
	"github.com/trezcool/mkopo/core/loan"
	"github.com/trezcool/mkopo/core/sanction"
	"github.com/trezcool/mkopo/core/user"
	"github.com/trezcool/mkopo/tests"
)

type httpErr struct {
	Error string `json:"error"`
}

func setup(t *testing.T) (*Server, *testutil.App) {
	app := testutil.NewApp(t)
	s, err := NewServer(ServerDeps{
		Conf:           app.Conf,
		Logger:         app.Logger,
		Validate:       app.Validate,
		Translator:     app.Translator,
		DisableReqLogs: true,
		UserSvc:        app.Users,
		DeviceSvc:      app.Devices,
		LoanSvc:        app.Loans,
		SanctionSvc:    app.Sanctions,
		IncidentSvc:    app.Incidents,
	})
	require.NoError(t, err)
	t.Cleanup(func() { signal.Stop(s.shutdown) })
	return s, app
}

func getToken(t *testing.T, s *Server, usr user.User) string {
	token, err := s.auth.generateToken(s.auth.userClaims(usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

// do serves an authenticated request; an empty token sends none.
func do(s *Server, method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode() failed: %v; body %s", err, rec.Body.String())
	}
}

func TestHome(t *testing.T) {
	s, _ := setup(t)

	rec := do(s, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Mkopo API!", rec.Body.String())
}

func TestMissingToken(t *testing.T) {
	s, _ := setup(t)

	for _, path := range []string{"/api/loans", "/api/devices", "/api/sanctions", "/api/users"} {
		t.Run(path, func(t *testing.T) {
			rec := do(s, http.MethodGet, path, "")

			var got httpErr
			decode(t, rec, &got)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "missing or malformed jwt", got.Error)
		})
	}
}

func TestUserAPI_login(t *testing.T) {
	s, app := setup(t)
	testutil.CreateUser(t, app.UserRepo, "Jane Doe", "jane_doe", "jane@mkopo.test", testutil.Password, []string{user.RoleStudent}, true)
	testutil.CreateUser(t, app.UserRepo, "John Doe", "john_doe", "john@mkopo.test", testutil.Password, []string{user.RoleStudent}, false)

	tests := []struct {
		name     string
		body     LoginRequest
		wantCode int
		wantErr  string
	}{
		{"by username", LoginRequest{Username: "jane_doe", Password: testutil.Password}, http.StatusOK, ""},
		{"by email", LoginRequest{Username: " JANE@mkopo.test ", Password: testutil.Password}, http.StatusOK, ""},
		{"wrong password", LoginRequest{Username: "jane_doe", Password: "nope"}, http.StatusBadRequest, "authentication failed"},
		{"unknown user", LoginRequest{Username: "nobody", Password: testutil.Password}, http.StatusBadRequest, "authentication failed"},
		{"inactive user", LoginRequest{Username: "john_doe", Password: testutil.Password}, http.StatusForbidden, "account deactivated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/api/users/login", "", marshallObj(t, tt.body))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				var got httpErr
				decode(t, rec, &got)
				assert.Equal(t, tt.wantErr, got.Error)
				return
			}
			var got LoginResponse
			decode(t, rec, &got)
			assert.NotEmpty(t, got.Token)
		})
	}
}

func TestUserAPI_login_missingFields(t *testing.T) {
	s, _ := setup(t)

	rec := do(s, http.MethodPost, "/api/users/login", "", []byte(`{"username": "jane_doe"}`))

	var got map[string]string
	decode(t, rec, &got)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]string{"password": "this field is required"}, got)
}

func TestUserAPI_permissions(t *testing.T) {
	s, app := setup(t)
	admin := app.CreateAdmin(t, "admin_one")
	student := app.CreateStudent(t, "student_one")
	other := app.CreateStudent(t, "student_two")

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		wantCode int
	}{
		{"admin lists users", http.MethodGet, "/api/users", getToken(t, s, admin), http.StatusOK},
		{"student cannot list users", http.MethodGet, "/api/users", getToken(t, s, student), http.StatusForbidden},
		{"student reads self", http.MethodGet, "/api/users/" + student.ID, getToken(t, s, student), http.StatusOK},
		{"student cannot read others", http.MethodGet, "/api/users/" + other.ID, getToken(t, s, student), http.StatusNotFound},
		{"admin reads anyone", http.MethodGet, "/api/users/" + other.ID, getToken(t, s, admin), http.StatusOK},
		{"admin cannot delete self", http.MethodDelete, "/api/users/" + admin.ID, getToken(t, s, admin), http.StatusForbidden},
		{"admin deletes user", http.MethodDelete, "/api/users/" + other.ID, getToken(t, s, admin), http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, tt.method, tt.path, tt.token)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestUserAPI_tokenRefresh(t *testing.T) {
	s, app := setup(t)
	student := app.CreateStudent(t, "student_one")

	rec := do(s, http.MethodPost, "/api/users/token-refresh", getToken(t, s, student))

	var got LoginResponse
	decode(t, rec, &got)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, got.Token)
}

func TestDeviceAPI(t *testing.T) {
	s, app := setup(t)
	adminToken := getToken(t, s, app.CreateAdmin(t, "admin_one"))
	studentToken := getToken(t, s, app.CreateStudent(t, "student_one"))

	body := marshallObj(t, device.NewDevice{SerialNumber: "SN-001", ComponentDescription: "Laptop", StockCount: 2})

	rec := do(s, http.MethodPost, "/api/devices", studentToken, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(s, http.MethodPost, "/api/devices", adminToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dev device.Device
	decode(t, rec, &dev)
	assert.Equal(t, device.StateNew, dev.State)
	assert.Equal(t, 2, dev.StockCount)

	rec = do(s, http.MethodPost, "/api/devices", adminToken, body)
	var fldErrs map[string]string
	decode(t, rec, &fldErrs)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]string{"serial_number": device.ErrSerialNumberExists.Error()}, fldErrs)

	rec = do(s, http.MethodPost, "/api/devices/"+dev.GUID+"/available", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &dev)
	assert.Equal(t, device.StateAvailable, dev.State)

	rec = do(s, http.MethodGet, "/api/devices?loanable=true", studentToken)
	var devices []device.Device
	decode(t, rec, &devices)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, devices, 1)

	rec = do(s, http.MethodGet, "/api/devices/unknown0000", studentToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoanAPI(t *testing.T) {
	s, app := setup(t)
	admin := app.CreateAdmin(t, "admin_one")
	student := app.CreateStudent(t, "student_one")
	other := app.CreateStudent(t, "student_two")
	dev := app.CreateDevice(t, "SN-001", 1)

	adminToken := getToken(t, s, admin)
	studentToken := getToken(t, s, student)
	otherToken := getToken(t, s, other)

	// students cannot borrow for someone else
	rec := do(s, http.MethodPost, "/api/loans", studentToken, marshallObj(t, loan.NewLoan{UserGUID: other.ID, DeviceGUID: dev.GUID}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(s, http.MethodPost, "/api/loans", studentToken, marshallObj(t, loan.NewLoan{DeviceGUID: dev.GUID}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ln loan.Loan
	decode(t, rec, &ln)
	assert.Equal(t, student.ID, ln.UserGUID)
	assert.Equal(t, loan.StateInProgress, ln.State)

	// out of stock
	rec = do(s, http.MethodPost, "/api/loans", otherToken, marshallObj(t, loan.NewLoan{DeviceGUID: dev.GUID}))
	var herr httpErr
	decode(t, rec, &herr)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, device.ErrUnavailable.Error(), herr.Error)

	// students only see their own loans
	rec = do(s, http.MethodGet, "/api/loans", otherToken)
	var loans []loan.Loan
	decode(t, rec, &loans)
	assert.Empty(t, loans)
	rec = do(s, http.MethodGet, "/api/loans/"+ln.GUID, otherToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(s, http.MethodGet, "/api/loans/"+ln.GUID, studentToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	// only staff closes loans
	rec = do(s, http.MethodPost, "/api/loans/"+ln.GUID+"/return", studentToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(s, http.MethodDelete, "/api/loans/"+ln.GUID, adminToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(s, http.MethodPost, "/api/loans/"+ln.GUID+"/return", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &ln)
	assert.Equal(t, loan.StateReturned, ln.State)
	assert.NotNil(t, ln.ClosedAt)

	rec = do(s, http.MethodPost, "/api/loans/"+ln.GUID+"/cancel", adminToken)
	assert.Equal(t, http.StatusConflict, rec.Code)

	got, err := app.Devices.Get(context.Background(), dev.GUID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.StockCount)

	rec = do(s, http.MethodDelete, "/api/loans/"+ln.GUID, adminToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(s, http.MethodGet, "/api/loans/"+ln.GUID, adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoanAPI_sweep(t *testing.T) {
	s, app := setup(t)
	admin := app.CreateAdmin(t, "admin_one")
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 3)

	adminToken := getToken(t, s, admin)
	studentToken := getToken(t, s, student)

	testutil.SetNow(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	rec := do(s, http.MethodPost, "/api/loans", studentToken, marshallObj(t, loan.NewLoan{DeviceGUID: dev.GUID}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	testutil.SetNow(t, time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC))

	rec = do(s, http.MethodPost, "/api/loans/sweep", studentToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(s, http.MethodPost, "/api/loans/sweep", adminToken)
	var res SweepResponse
	decode(t, rec, &res)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, res.Flagged)

	rec = do(s, http.MethodGet, "/api/sanctions", studentToken)
	var sanctions []sanction.Sanction
	decode(t, rec, &sanctions)
	require.Len(t, sanctions, 1)
	assert.Equal(t, sanction.TypeWarning, sanctions[0].Type)

	rec = do(s, http.MethodDelete, "/api/sanctions/"+sanctions[0].GUID, studentToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(s, http.MethodDelete, "/api/sanctions/"+sanctions[0].GUID, adminToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(s, http.MethodGet, "/api/sanctions/"+sanctions[0].GUID, adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIncidentAPI(t *testing.T) {
	s, app := setup(t)
	adminToken := getToken(t, s, app.CreateAdmin(t, "admin_one"))
	studentToken := getToken(t, s, app.CreateStudent(t, "student_one"))
	dev := app.CreateDevice(t, "SN-001", 1)

	rec := do(s, http.MethodPost, "/api/incidents", studentToken, []byte(`{"device_guid": "`+dev.GUID+`"}`))
	var fldErrs map[string]string
	decode(t, rec, &fldErrs)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]string{"description": "this field is required"}, fldErrs)

	rec = do(s, http.MethodPost, "/api/incidents", studentToken, marshallObj(t, incident.NewIncident{DeviceGUID: dev.GUID, Description: "cracked screen"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var inc incident.Incident
	decode(t, rec, &inc)

	got, err := app.Devices.Get(context.Background(), dev.GUID)
	require.NoError(t, err)
	assert.Equal(t, device.StateUnavailable, got.State)
	assert.Equal(t, inc.GUID, got.IncidentGUID)

	rec = do(s, http.MethodGet, "/api/incidents", studentToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(s, http.MethodPost, "/api/incidents/"+inc.GUID+"/resolve", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(s, http.MethodPost, "/api/incidents/"+inc.GUID+"/resolve", adminToken)
	assert.Equal(t, http.StatusConflict, rec.Code)

	got, err = app.Devices.Get(context.Background(), dev.GUID)
	require.NoError(t, err)
	assert.Equal(t, device.StateAvailable, got.State)
	assert.Empty(t, got.IncidentGUID)
}

func TestOrdering_Bind(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []core.DBOrdering
	}{
		{"none", "", nil},
		{"empty", "?ordering=", nil},
		{"mixed", "?ordering=due_date,-guid", []core.DBOrdering{{Field: "due_date", Ascending: true}, {Field: "guid"}}},
		{"spaces and blanks", "?ordering=%20-state%20,,-", []core.DBOrdering{{Field: "state"}}},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/loans"+tt.query, nil)
			ctx := e.NewContext(req, httptest.NewRecorder())

			ord := new(Ordering)
			ord.Bind(ctx)
			assert.Equal(t, tt.want, ord.Orderings)
		})
	}
}
