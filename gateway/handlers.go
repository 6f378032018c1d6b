package gateway

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edupath/authsync/backend"
	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/logging"
	"github.com/edupath/authsync/role"
	"github.com/edupath/authsync/session"
	"google.golang.org/grpc/codes"
)

// maxWait bounds the wait parameter of GET /auth/state.
const maxWait = 30 * time.Second

// UserView is the provider record of a signed in user.
type UserView struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

// StateView is the JSON form of a session.State. The token itself is never
// sent to the browser.
type StateView struct {
	Authenticated bool             `json:"authenticated"`
	Loading       bool             `json:"loading"`
	Error         string           `json:"error,omitempty"`
	Role          role.Role        `json:"role,omitempty"`
	User          *UserView        `json:"user,omitempty"`
	Profile       *backend.Profile `json:"profile,omitempty"`
	HasToken      bool             `json:"hasToken"`
}

// NewStateView converts st.
func NewStateView(st session.State) StateView {
	v := StateView{
		Authenticated: st.Authenticated(),
		Loading:       st.Loading,
		Error:         st.Error,
		Role:          st.Role(),
		HasToken:      st.Token != "",
	}
	if id := st.Identity; id != nil {
		v.User = &UserView{
			UID:           id.User.UID(),
			Email:         id.User.Email(),
			DisplayName:   id.User.DisplayName(),
			EmailVerified: id.User.EmailVerified(),
		}
		v.Profile = id.Profile
	}
	return v
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next"`
}

type loginResponse struct {
	State    StateView `json:"state"`
	Redirect string    `json:"redirect,omitempty"`
}

var errBadLogin = errors.NewC("gateway: email and password are required", codes.InvalidArgument).
	WithPublicMessage("Email and password are required")

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	e, err := entryFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeLogin(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, errors.Mark(errBadLogin, 0))
		return
	}
	logging.Track(r.Context(), "login.email", req.Email)

	if err := e.store.SignIn(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	st := e.store.State()
	resp := loginResponse{State: NewStateView(st)}
	if st.Authenticated() {
		resp.Redirect = g.guard.Homes().Path(st.Role())
		if localPath(req.Next) {
			resp.Redirect = req.Next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	var req loginRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
		req.Next = r.PostFormValue("next")
	default:
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
		if err := dec.Decode(&req); err != nil {
			return req, errors.WithCode(err, codes.InvalidArgument).
				WithPublicMessage("Invalid login request")
		}
	}
	req.Email = strings.TrimSpace(req.Email)
	return req, nil
}

// localPath reports whether p is a path on this host, so that it is safe to
// redirect to.
func localPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	e, err := entryFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := e.store.SignOut(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(e.store.State()))
}

func (g *Gateway) handleClearError(w http.ResponseWriter, r *http.Request) {
	e, err := entryFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	e.store.ClearError()
	writeJSON(w, http.StatusOK, NewStateView(e.store.State()))
}

// handleState returns the session state. With ?wait=<seconds> a loading
// session is given that long to settle.
func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	e, err := entryFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st := e.store.State()
	if raw := r.URL.Query().Get("wait"); raw != "" && st.Loading {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			writeError(w, r, errors.Codef(codes.InvalidArgument, "gateway: invalid wait %q", raw))
			return
		}
		d := min(time.Duration(secs*float64(time.Second)), maxWait)
		ctx, cancel := context.WithTimeout(r.Context(), d)
		st, _ = e.store.Wait(ctx)
		cancel()
	}
	writeJSON(w, http.StatusOK, NewStateView(st))
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	logging.TrackError(r.Context(), err)
	writeJSON(w, status, ErrorResponse{
		Code:    errors.Code(err).String(),
		Message: errors.PublicMessage(err, http.StatusText(status)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
