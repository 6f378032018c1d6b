package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/role"
	"github.com/edupath/authsync/session"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

type stubUser struct{ uid string }

func (u *stubUser) UID() string         { return u.uid }
func (u *stubUser) Email() string       { return u.uid + "@example.com" }
func (u *stubUser) DisplayName() string { return u.uid }
func (u *stubUser) EmailVerified() bool { return true }
func (u *stubUser) IDToken(context.Context, bool) (string, error) {
	return "token-" + u.uid, nil
}
func (u *stubUser) IDTokenResult(context.Context) (*idp.TokenResult, error) {
	return nil, nil
}

func signedIn(r role.Role) session.State {
	return session.State{
		Identity: &session.Identity{User: &stubUser{uid: "u1"}, Role: r},
		Token:    "token-u1",
	}
}

// fakeSession settles to next when Wait is called, unless next is nil.
type fakeSession struct {
	mu    sync.Mutex
	state session.State
	next  *session.State
}

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Wait(ctx context.Context) (session.State, error) {
	f.mu.Lock()
	if f.next != nil {
		f.state = *f.next
	}
	st := f.state
	f.mu.Unlock()
	if st.Loading {
		<-ctx.Done()
		return st, ctx.Err()
	}
	return st, nil
}

func newGuard(t *testing.T, sess Session, opts ...Option) (*Guard, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts = append([]Option{
		WithRegisterer(reg),
		WithLoadingTimeout(20 * time.Millisecond),
		WithLoginPath("/login"),
		WithHomes(role.DefaultHomes()),
	}, opts...)
	g := New(func(*http.Request) (Session, error) { return sess, nil }, opts...)
	return g, reg
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	st, ok := StateFromContext(r.Context())
	if !ok {
		http.Error(w, "no state", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte("hello " + st.UID()))
})

func decisions(t *testing.T, g *Guard, d Decision) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.decisions.WithLabelValues(d.String()).Write(m))
	return m.GetCounter().GetValue()
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestEvaluate(t *testing.T) {
	teachers := role.NewSet(role.Teacher)

	tests := []struct {
		name    string
		state   session.State
		allowed role.Set
		want    Decision
	}{
		{"loading", session.State{Loading: true}, nil, Pending},
		{"loading wins over error", session.State{Loading: true, Error: "boom"}, nil, Pending},
		{"error", session.State{Error: "boom"}, nil, Failed},
		{"error wins over identity", func() session.State {
			st := signedIn(role.Teacher)
			st.Error = "boom"
			return st
		}(), teachers, Failed},
		{"signed out", session.State{}, nil, Unauthenticated},
		{"wrong role", signedIn(role.Student), teachers, Forbidden},
		{"missing role", signedIn(""), teachers, Forbidden},
		{"missing role, any user", signedIn(""), nil, Allowed},
		{"allowed role", signedIn(role.Teacher), teachers, Allowed},
		{"any role", signedIn(role.Guardian), nil, Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.state, tt.allowed))
		})
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "allowed", Allowed.String())
	assert.Equal(t, "unknown", Decision(42).String())
}

func TestRequire_Allowed(t *testing.T) {
	g, reg := newGuard(t, &fakeSession{state: signedIn(role.Teacher)})

	rec := serve(g.Require(role.Teacher)(okHandler), "/classes")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello u1", rec.Body.String())
	assert.InDelta(t, 1, decisions(t, g, Allowed), 0)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	assert.Equal(t, "authsync_guard_decisions_total", mfs[0].GetName())
}

func TestRequire_UnauthenticatedRedirectsToLogin(t *testing.T) {
	g, _ := newGuard(t, &fakeSession{})

	rec := serve(g.Require()(okHandler), "/classes/7?tab=grades")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Fclasses%2F7%3Ftab%3Dgrades", rec.Header().Get("Location"))
}

func TestRequire_LoginPageHasNoNext(t *testing.T) {
	g, _ := newGuard(t, &fakeSession{})

	rec := serve(g.Require()(okHandler), "/login")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRequire_Forbidden(t *testing.T) {
	g, _ := newGuard(t, &fakeSession{state: signedIn(role.Student)})

	rec := serve(g.Require(role.Teacher, role.Admin)(okHandler), "/classes")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "You don't have permission to access this page.")
	assert.InDelta(t, 1, decisions(t, g, Forbidden), 0)
}

func TestRequire_ForbiddenRedirectsHome(t *testing.T) {
	g, _ := newGuard(t, &fakeSession{state: signedIn(role.Student)}, WithForbiddenRedirect(true))

	rec := serve(g.Require(role.Teacher)(okHandler), "/classes")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/student", rec.Header().Get("Location"))
}

func TestRequire_ForbiddenWithoutRoleIsNotRedirected(t *testing.T) {
	g, _ := newGuard(t, &fakeSession{state: signedIn("")}, WithForbiddenRedirect(true))

	rec := serve(g.Require(role.Teacher)(okHandler), "/classes")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequire_AnyUserAdmitsMissingRole(t *testing.T) {
	g, _ := newGuard(t, &fakeSession{state: signedIn("")})

	rec := serve(g.Require()(okHandler), "/classes")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello u1", rec.Body.String())
	assert.InDelta(t, 1, decisions(t, g, Allowed), 0)
}

func TestRequire_FailedSurfacesSessionError(t *testing.T) {
	g, _ := newGuard(t, &fakeSession{state: session.State{Error: "Your account has not been set up yet"}})

	rec := serve(g.Require()(okHandler), "/classes")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your account has not been set up yet")
}

func TestRequire_WaitsForLoading(t *testing.T) {
	settled := signedIn(role.Admin)
	g, _ := newGuard(t, &fakeSession{state: session.State{Loading: true}, next: &settled})

	rec := serve(g.Require(role.Admin)(okHandler), "/admin")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequire_StillLoading(t *testing.T) {
	g, _ := newGuard(t, &fakeSession{state: session.State{Loading: true}}, WithLoadingTimeout(10*time.Millisecond))

	rec := serve(g.Require()(okHandler), "/classes")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.InDelta(t, 1, decisions(t, g, Pending), 0)
}

func TestRequire_ResolverError(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := New(func(*http.Request) (Session, error) {
		return nil, errors.NewC("no session", codes.Internal)
	}, WithRegisterer(reg))

	rec := serve(g.Require()(okHandler), "/classes")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, mfs)
}

func TestRequire_CustomErrorWriter(t *testing.T) {
	var got error
	g, _ := newGuard(t, &fakeSession{state: signedIn(role.Student)}, WithErrorWriter(func(w http.ResponseWriter, r *http.Request, err error) {
		got = err
		w.WriteHeader(errors.HTTPStatusCode(err))
	}))

	rec := serve(g.Require(role.Admin)(okHandler), "/admin")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.ErrorIs(t, got, ErrForbidden)
	assert.Equal(t, codes.PermissionDenied, errors.Code(got))
}

func TestDispatch(t *testing.T) {
	homes := role.DefaultHomes().Merge(map[string]string{"teacher": "/classes"})

	tests := []struct {
		name     string
		state    session.State
		code     int
		location string
	}{
		{"teacher", signedIn(role.Teacher), http.StatusSeeOther, "/classes"},
		{"student", signedIn(role.Student), http.StatusSeeOther, "/student"},
		{"signed out", session.State{}, http.StatusSeeOther, "/login"},
		{"no role", signedIn(""), http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGuard(t, &fakeSession{state: tt.state}, WithHomes(homes))

			rec := serve(g.Dispatch(), "/")

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
		})
	}
}

func TestStateFromContext(t *testing.T) {
	_, ok := StateFromContext(context.Background())
	assert.False(t, ok)

	st := signedIn(role.Guardian)
	got, ok := StateFromContext(WithState(context.Background(), st))
	require.True(t, ok)
	assert.Equal(t, role.Guardian, got.Role())
}
