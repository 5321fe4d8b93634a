package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"flightplan-gateway/internal/apikeys"
	"flightplan-gateway/internal/auth"
	"flightplan-gateway/internal/cache"
	"flightplan-gateway/internal/events"
	"flightplan-gateway/internal/events/eventstest"
	"flightplan-gateway/internal/invitations"
	"flightplan-gateway/internal/models"
	"flightplan-gateway/internal/orgs"
	"flightplan-gateway/internal/session"
	"flightplan-gateway/internal/storage"
)

type testServer struct {
	*httptest.Server
	store  *storage.Storage
	events *eventstest.Recorder
}

func newTestServer(t *testing.T, loginLimit int) *testServer {
	t.Helper()
	return newTestServerWithLimiter(t, loginLimit, cache.NewMemory())
}

func newTestServerWithLimiter(t *testing.T, loginLimit int, limiter cache.Counter) *testServer {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Options{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "gateway.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	issuer, err := auth.NewIssuer("handlers-test-secret")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	authService, err := auth.NewService(store, issuer, time.Hour, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	recorder := &eventstest.Recorder{}
	keys := apikeys.NewService(store, bcrypt.MinCost)
	selector := session.NewSelector(store)

	h := New(Deps{
		Store:       store,
		Auth:        authService,
		Resolver:    session.NewResolver(store, issuer, keys, selector),
		Selector:    selector,
		Orgs:        orgs.NewService(store, recorder),
		Invitations: invitations.NewService(store, recorder, invitations.DefaultTTL),
		APIKeys:     keys,
		Limiter:     limiter,
		LoginLimit:  loginLimit,
		LoginWindow: time.Minute,
		BaseURL:     "http://localhost",
	})
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, events: recorder}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(t *testing.T, dst any) {
	t.Helper()
	if err := json.Unmarshal(r.body, dst); err != nil {
		t.Fatalf("decode %s: %v", r.body, err)
	}
}

func (r response) code(t *testing.T) string {
	t.Helper()
	var body errorBody
	r.decode(t, &body)
	return body.Code
}

type credential func(*http.Request)

func bearer(token string) credential {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func apiKey(key string) credential {
	return func(r *http.Request) { r.Header.Set(session.APIKeyHeader, key) }
}

func (s *testServer) do(t *testing.T, method, path string, cred credential, body any) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != nil {
		cred(req)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return response{status: resp.StatusCode, header: resp.Header, body: data}
}

func (s *testServer) signUp(t *testing.T, email string) (string, *models.User) {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/v1/auth/sign-up", nil, map[string]string{
		"email": email, "password": "correct horse", "name": strings.Split(email, "@")[0],
	})
	if resp.status != http.StatusCreated {
		t.Fatalf("sign up %s: %d %s", email, resp.status, resp.body)
	}
	var out authResponse
	resp.decode(t, &out)
	return out.Token, out.User
}

func (s *testServer) createOrg(t *testing.T, token, name string) models.OrganizationDetail {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/v1/organizations", bearer(token), map[string]string{"name": name})
	if resp.status != http.StatusCreated {
		t.Fatalf("create org: %d %s", resp.status, resp.body)
	}
	var org models.OrganizationDetail
	resp.decode(t, &org)
	return org
}

func (s *testServer) invite(t *testing.T, token, orgID, email, role string) response {
	t.Helper()
	return s.do(t, http.MethodPost, "/v1/organizations/"+orgID+"/invitations", bearer(token),
		map[string]string{"email": email, "role": role})
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)
	resp := s.do(t, http.MethodGet, "/healthz", nil, nil)
	if resp.status != http.StatusOK || !strings.Contains(string(resp.body), `"ok"`) {
		t.Fatalf("unexpected health %d %s", resp.status, resp.body)
	}
}

type pingCounter struct {
	*cache.Memory
	err error
}

func (p pingCounter) Ping(context.Context) error { return p.err }

func TestHealthReportsRedis(t *testing.T) {
	s := newTestServerWithLimiter(t, 0, pingCounter{Memory: cache.NewMemory()})
	resp := s.do(t, http.MethodGet, "/healthz", nil, nil)
	var body map[string]string
	resp.decode(t, &body)
	if resp.status != http.StatusOK || body["status"] != "ok" || body["redis"] != "ok" {
		t.Fatalf("unexpected health %d %s", resp.status, resp.body)
	}

	s = newTestServerWithLimiter(t, 0, pingCounter{Memory: cache.NewMemory(), err: errors.New("connection refused")})
	resp = s.do(t, http.MethodGet, "/healthz", nil, nil)
	body = nil
	resp.decode(t, &body)
	if resp.status != http.StatusOK || body["status"] != "degraded" || body["redis"] != "unavailable" {
		t.Fatalf("unexpected degraded health %d %s", resp.status, resp.body)
	}
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, 0)

	resp := s.do(t, http.MethodPost, "/v1/auth/sign-up", nil, map[string]string{"email": "a@x.com", "password": "correct horse"})
	if resp.status != http.StatusCreated {
		t.Fatalf("sign up: %d %s", resp.status, resp.body)
	}
	if !strings.Contains(resp.header.Get("Set-Cookie"), session.CookieName+"=") {
		t.Fatalf("expected session cookie, got %q", resp.header.Get("Set-Cookie"))
	}

	if resp := s.do(t, http.MethodPost, "/v1/auth/sign-up", nil, map[string]string{"email": "A@x.com", "password": "correct horse"}); resp.status != http.StatusConflict || resp.code(t) != "EMAIL_TAKEN" {
		t.Fatalf("expected EMAIL_TAKEN, got %d %s", resp.status, resp.body)
	}

	for _, body := range []map[string]string{
		{"email": "a@x.com", "password": "wrong password"},
		{"email": "nobody@x.com", "password": "correct horse"},
	} {
		if resp := s.do(t, http.MethodPost, "/v1/auth/sign-in", nil, body); resp.status != http.StatusUnauthorized || resp.code(t) != "INVALID_CREDENTIAL" {
			t.Fatalf("expected INVALID_CREDENTIAL, got %d %s", resp.status, resp.body)
		}
	}

	resp = s.do(t, http.MethodPost, "/v1/auth/sign-in", nil, map[string]string{"email": "a@x.com", "password": "correct horse"})
	if resp.status != http.StatusOK {
		t.Fatalf("sign in: %d %s", resp.status, resp.body)
	}
	var signedIn authResponse
	resp.decode(t, &signedIn)

	resp = s.do(t, http.MethodGet, "/v1/auth/session", bearer(signedIn.Token), nil)
	var sc session.Context
	resp.decode(t, &sc)
	if sc.User == nil || sc.User.Email != "a@x.com" || sc.User.Name != "a" {
		t.Fatalf("unexpected session %s", resp.body)
	}

	resp = s.do(t, http.MethodPatch, "/v1/auth/me", bearer(signedIn.Token), map[string]string{"name": "Alice"})
	if resp.status != http.StatusOK || !strings.Contains(string(resp.body), `"Alice"`) {
		t.Fatalf("update profile: %d %s", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodPatch, "/v1/auth/me", bearer(signedIn.Token), map[string]string{"email": "z@x.com"}); resp.status != http.StatusBadRequest {
		t.Fatalf("email must not be changeable, got %d", resp.status)
	}

	if resp := s.do(t, http.MethodPost, "/v1/auth/sign-out", bearer(signedIn.Token), nil); resp.status != http.StatusNoContent {
		t.Fatalf("sign out: %d %s", resp.status, resp.body)
	}
	resp = s.do(t, http.MethodGet, "/v1/auth/session", bearer(signedIn.Token), nil)
	if resp.status != http.StatusOK || strings.TrimSpace(string(resp.body)) != "null" {
		t.Fatalf("expected null session after sign out, got %d %s", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodPost, "/v1/auth/sign-out", bearer(signedIn.Token), nil); resp.status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a dead token, got %d", resp.status)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t, 0)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/v1/organizations"},
		{http.MethodPost, "/v1/organizations"},
		{http.MethodPost, "/v1/invitations/x/accept"},
		{http.MethodGet, "/v1/api-keys"},
	} {
		resp := s.do(t, route.method, route.path, nil, nil)
		if resp.status != http.StatusUnauthorized || resp.code(t) != "UNAUTHENTICATED" {
			t.Fatalf("%s %s: expected 401, got %d %s", route.method, route.path, resp.status, resp.body)
		}
	}
}

func TestInvitationScenario(t *testing.T) {
	s := newTestServer(t, 0)
	aToken, _ := s.signUp(t, "a@x.com")
	org := s.createOrg(t, aToken, "Acme")
	if org.Slug != "acme" {
		t.Fatalf("unexpected slug %q", org.Slug)
	}

	resp := s.do(t, http.MethodGet, "/v1/auth/session", bearer(aToken), nil)
	var sc session.Context
	resp.decode(t, &sc)
	if sc.ActiveOrganization == nil || sc.ActiveOrganization.ID != org.ID || sc.Role != models.RoleOwner {
		t.Fatalf("new organization should be active, got %s", resp.body)
	}

	first := s.invite(t, aToken, org.ID, "b@x.com", "member")
	if first.status != http.StatusCreated {
		t.Fatalf("invite: %d %s", first.status, first.body)
	}
	second := s.invite(t, aToken, org.ID, "B@x.com", "member")
	if second.status != http.StatusOK {
		t.Fatalf("re-invite: %d %s", second.status, second.body)
	}
	var created, resent createInvitationResponse
	first.decode(t, &created)
	second.decode(t, &resent)
	if !resent.Resent || resent.Invitation.ID != created.Invitation.ID {
		t.Fatalf("re-invite should refresh the same invitation: %s / %s", first.body, second.body)
	}

	resp = s.do(t, http.MethodGet, "/v1/organizations/"+org.ID+"/invitations", bearer(aToken), nil)
	var pending []models.Invitation
	resp.decode(t, &pending)
	if len(pending) != 1 {
		t.Fatalf("expected one pending invitation, got %s", resp.body)
	}

	resp = s.do(t, http.MethodGet, "/v1/invitations/"+created.Invitation.ID, nil, nil)
	var details models.InvitationDetails
	resp.decode(t, &details)
	if resp.status != http.StatusOK || details.OrganizationName != "Acme" || details.InviterEmail != "a@x.com" {
		t.Fatalf("unexpected details %d %s", resp.status, resp.body)
	}

	cToken, _ := s.signUp(t, "c@x.com")
	if resp := s.do(t, http.MethodPost, "/v1/invitations/"+created.Invitation.ID+"/accept", bearer(cToken), nil); resp.status != http.StatusForbidden || resp.code(t) != "EMAIL_MISMATCH" {
		t.Fatalf("expected EMAIL_MISMATCH, got %d %s", resp.status, resp.body)
	}

	bToken, _ := s.signUp(t, "b@x.com")
	for i := 0; i < 2; i++ {
		resp := s.do(t, http.MethodPost, "/v1/invitations/"+created.Invitation.ID+"/accept", bearer(bToken), nil)
		if resp.status != http.StatusOK {
			t.Fatalf("accept %d: %d %s", i, resp.status, resp.body)
		}
		var m models.Membership
		resp.decode(t, &m)
		if m.OrganizationID != org.ID || m.Role != models.RoleMember {
			t.Fatalf("unexpected membership %s", resp.body)
		}
	}

	resp = s.do(t, http.MethodGet, "/v1/auth/session", bearer(bToken), nil)
	sc = session.Context{}
	resp.decode(t, &sc)
	if sc.ActiveOrganization == nil || sc.ActiveOrganization.ID != org.ID || sc.NeedsOrganizationSelection {
		t.Fatalf("only organization should be auto-selected, got %s", resp.body)
	}

	resp = s.do(t, http.MethodGet, "/v1/organizations/"+org.ID, bearer(bToken), nil)
	var full models.OrganizationDetail
	resp.decode(t, &full)
	if len(full.Members) != 2 {
		t.Fatalf("expected two members, got %s", resp.body)
	}

	if resp := s.do(t, http.MethodDelete, "/v1/organizations/"+org.ID+"/members/a@x.com", bearer(aToken), nil); resp.status != http.StatusConflict || resp.code(t) != "CANNOT_REMOVE_OWNER" {
		t.Fatalf("expected CANNOT_REMOVE_OWNER, got %d %s", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodDelete, "/v1/organizations/"+org.ID+"/members/a@x.com", bearer(bToken), nil); resp.status != http.StatusConflict || resp.code(t) != "CANNOT_REMOVE_OWNER" {
		t.Fatalf("sole owner cannot be removed by a member, got %d %s", resp.status, resp.body)
	}

	if resp := s.do(t, http.MethodPatch, "/v1/organizations/"+org.ID+"/members/b%40x.com", bearer(aToken), map[string]string{"role": "admin"}); resp.status != http.StatusOK {
		t.Fatalf("promote: %d %s", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodDelete, "/v1/organizations/"+org.ID+"/members/a@x.com", bearer(bToken), nil); resp.status != http.StatusConflict || resp.code(t) != "CANNOT_REMOVE_OWNER" {
		t.Fatalf("sole owner check comes before the admin-versus-owner check, got %d %s", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodDelete, "/v1/organizations/"+org.ID+"/members/B%40x.com", bearer(aToken), nil); resp.status != http.StatusOK {
		t.Fatalf("remove member: %d %s", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodGet, "/v1/organizations/"+org.ID, bearer(bToken), nil); resp.status != http.StatusForbidden || resp.code(t) != "NOT_A_MEMBER" {
		t.Fatalf("removed member should lose access, got %d %s", resp.status, resp.body)
	}

	types := s.events.Types()
	want := []string{events.OrganizationCreated, events.InvitationCreated, events.InvitationResent, events.InvitationAccepted, events.MemberRoleChanged, events.MemberRemoved}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestCancelThenAccept(t *testing.T) {
	s := newTestServer(t, 0)
	aToken, _ := s.signUp(t, "a@x.com")
	org := s.createOrg(t, aToken, "Acme")

	resp := s.invite(t, aToken, org.ID, "b@x.com", "admin")
	var created createInvitationResponse
	resp.decode(t, &created)
	id := created.Invitation.ID

	for i := 0; i < 2; i++ {
		if resp := s.do(t, http.MethodDelete, "/v1/invitations/"+id, bearer(aToken), nil); resp.status != http.StatusNoContent {
			t.Fatalf("cancel %d: %d %s", i, resp.status, resp.body)
		}
	}

	bToken, _ := s.signUp(t, "b@x.com")
	if resp := s.do(t, http.MethodPost, "/v1/invitations/"+id+"/accept", bearer(bToken), nil); resp.status != http.StatusConflict || resp.code(t) != "INVITATION_NOT_PENDING" {
		t.Fatalf("expected INVITATION_NOT_PENDING, got %d %s", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodGet, "/v1/invitations/"+id, nil, nil); resp.status != http.StatusNotFound || resp.code(t) != "INVITATION_NOT_FOUND" {
		t.Fatalf("canceled invitation should have no public details, got %d %s", resp.status, resp.body)
	}
}

func TestBulkInvite(t *testing.T) {
	s := newTestServer(t, 0)
	aToken, _ := s.signUp(t, "a@x.com")
	org := s.createOrg(t, aToken, "Acme")

	resp := s.do(t, http.MethodPost, "/v1/organizations/"+org.ID+"/invitations", bearer(aToken), map[string]interface{}{
		"emails": []string{"b@x.com", "not-an-email", "a@x.com", "B@X.com"},
		"role":   "member",
	})
	if resp.status != http.StatusOK {
		t.Fatalf("bulk invite: %d %s", resp.status, resp.body)
	}
	var out struct {
		Results []invitationResult `json:"results"`
	}
	resp.decode(t, &out)
	if len(out.Results) != 3 {
		t.Fatalf("expected de-duplicated results, got %s", resp.body)
	}
	codes := map[string]string{}
	for _, res := range out.Results {
		codes[res.Email] = res.Code
	}
	if codes["b@x.com"] != "" || codes["a@x.com"] != "ALREADY_MEMBER" || codes["not-an-email"] != "INVALID_EMAIL" {
		t.Fatalf("unexpected per-address outcomes %v", codes)
	}

	if resp := s.invite(t, aToken, org.ID, "c@x.com", "superuser"); resp.status != http.StatusBadRequest || resp.code(t) != "INVALID_ROLE" {
		t.Fatalf("expected INVALID_ROLE, got %d %s", resp.status, resp.body)
	}
}

func TestSwitchOrganization(t *testing.T) {
	s := newTestServer(t, 0)
	aToken, _ := s.signUp(t, "a@x.com")
	acme := s.createOrg(t, aToken, "Acme")
	globex := s.createOrg(t, aToken, "Globex")

	resp := s.do(t, http.MethodGet, "/v1/organizations", bearer(aToken), nil)
	var list []models.Organization
	resp.decode(t, &list)
	if len(list) != 2 || list[0].ID != acme.ID || list[1].ID != globex.ID {
		t.Fatalf("unexpected organizations %s", resp.body)
	}

	if resp := s.do(t, http.MethodPost, "/v1/organizations/active", bearer(aToken), map[string]string{"organization_id": acme.ID}); resp.status != http.StatusOK {
		t.Fatalf("set active: %d %s", resp.status, resp.body)
	}
	resp = s.do(t, http.MethodGet, "/v1/auth/session", bearer(aToken), nil)
	var sc session.Context
	resp.decode(t, &sc)
	if sc.ActiveOrganization == nil || sc.ActiveOrganization.ID != acme.ID {
		t.Fatalf("expected acme active, got %s", resp.body)
	}

	bToken, _ := s.signUp(t, "b@x.com")
	if resp := s.do(t, http.MethodPost, "/v1/organizations/active", bearer(bToken), map[string]string{"organization_id": acme.ID}); resp.status != http.StatusForbidden || resp.code(t) != "NOT_A_MEMBER" {
		t.Fatalf("expected NOT_A_MEMBER, got %d %s", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodPost, "/v1/organizations", bearer(bToken), map[string]string{"name": "Another Acme", "slug": "acme"}); resp.status != http.StatusConflict || resp.code(t) != "SLUG_TAKEN" {
		t.Fatalf("expected SLUG_TAKEN, got %d %s", resp.status, resp.body)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestServer(t, 0)
	aToken, _ := s.signUp(t, "a@x.com")
	org := s.createOrg(t, aToken, "Acme")

	resp := s.do(t, http.MethodPost, "/v1/api-keys", bearer(aToken), map[string]string{"name": "ci"})
	if resp.status != http.StatusCreated {
		t.Fatalf("create key: %d %s", resp.status, resp.body)
	}
	var created models.CreateAPIKeyResponse
	resp.decode(t, &created)
	if !strings.HasPrefix(created.Key, apikeys.SecretPrefix) || created.OrganizationID != org.ID {
		t.Fatalf("unexpected key %s", resp.body)
	}

	resp = s.do(t, http.MethodGet, "/v1/api-keys", bearer(aToken), nil)
	if strings.Contains(string(resp.body), created.Key) || strings.Contains(string(resp.body), "key_hash") {
		t.Fatalf("listing leaks the secret: %s", resp.body)
	}

	resp = s.do(t, http.MethodGet, "/v1/auth/session", apiKey(created.Key), nil)
	var sc session.Context
	resp.decode(t, &sc)
	if sc.APIKeyID != created.ID || sc.ActiveOrganization == nil || sc.ActiveOrganization.ID != org.ID {
		t.Fatalf("unexpected api key principal %s", resp.body)
	}
	if resp := s.do(t, http.MethodGet, "/v1/organizations/"+org.ID, bearer(created.Key), nil); resp.status != http.StatusOK {
		t.Fatalf("bearer api key: %d %s", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodPost, "/v1/organizations/active", apiKey(created.Key), map[string]string{"organization_id": org.ID}); resp.status != http.StatusForbidden {
		t.Fatalf("api keys must not switch organizations, got %d", resp.status)
	}

	for i := 0; i < 2; i++ {
		if resp := s.do(t, http.MethodDelete, "/v1/api-keys/"+created.ID, bearer(aToken), nil); resp.status != http.StatusNoContent {
			t.Fatalf("revoke %d: %d %s", i, resp.status, resp.body)
		}
	}
	if resp := s.do(t, http.MethodGet, "/v1/api-keys", apiKey(created.Key), nil); resp.status != http.StatusUnauthorized {
		t.Fatalf("revoked key should be rejected, got %d", resp.status)
	}

	bToken, _ := s.signUp(t, "b@x.com")
	if resp := s.do(t, http.MethodDelete, "/v1/api-keys/"+created.ID, bearer(bToken), nil); resp.status != http.StatusNotFound || resp.code(t) != "API_KEY_NOT_FOUND" {
		t.Fatalf("expected API_KEY_NOT_FOUND, got %d %s", resp.status, resp.body)
	}
}

func TestSignInRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	body := map[string]string{"email": "nobody@x.com", "password": "whatever1"}
	for i := 0; i < 2; i++ {
		if resp := s.do(t, http.MethodPost, "/v1/auth/sign-in", nil, body); resp.status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: %d", i, resp.status)
		}
	}
	if resp := s.do(t, http.MethodPost, "/v1/auth/sign-in", nil, body); resp.status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.status)
	}
}

func TestRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t, 0)
	req, err := http.NewRequest(http.MethodPost, s.URL+"/v1/auth/sign-up", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
