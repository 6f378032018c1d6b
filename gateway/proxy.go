package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/guard"
	"google.golang.org/grpc/codes"
)

// Identity headers set on proxied requests admitted by the guard. Incoming
// copies are always removed.
const (
	HeaderUID   = "X-Authsync-Uid"
	HeaderEmail = "X-Authsync-Email"
	HeaderRole  = "X-Authsync-Role"
)

var (
	errNoUpstream = errors.NewC("gateway: no upstream configured", codes.NotFound).
			WithPublicMessage("Not found")

	errUpstream = errors.NewC("gateway: upstream unavailable", codes.Unavailable).
			WithPublicMessage("The application is unavailable, please try again later")
)

func newProxy(upstream string) (http.Handler, error) {
	if upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, errors.Mark(errNoUpstream, 0))
		}), nil
	}
	target, err := url.Parse(upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, errors.Errorf("gateway: invalid upstream url %q", upstream)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			setIdentityHeaders(pr.Out, pr.In)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, r, errors.Mark(errUpstream, 0).Append(err.Error()))
		},
	}, nil
}

func setIdentityHeaders(out, in *http.Request) {
	for k := range out.Header {
		if strings.HasPrefix(http.CanonicalHeaderKey(k), "X-Authsync-") {
			out.Header.Del(k)
		}
	}
	st, ok := guard.StateFromContext(in.Context())
	if !ok || !st.Authenticated() {
		return
	}
	out.Header.Set(HeaderUID, st.UID())
	out.Header.Set(HeaderEmail, st.Identity.User.Email())
	if r := st.Role(); r != "" {
		out.Header.Set(HeaderRole, string(r))
	}
	if st.Token != "" {
		out.Header.Set("Authorization", "Bearer "+st.Token)
	}
}
