package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/edupath/authsync"
	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/logging"
	"google.golang.org/grpc/codes"
)

func init() {
	authsync.RegisterConfigKeys(authsync.ConfigKeyInfo{
		Key:         "gateway.csrfSigningKey",
		Description: "Key CSRF tokens are signed with. A random key is used when empty, which invalidates tokens on restart",
		Type:        "string",
	})
}

const (
	// Header name used by XHR requests to pass CSRF checks.
	// See https://cheatsheetseries.owasp.org/cheatsheets/Cross-Site_Request_Forgery_Prevention_Cheat_Sheet.html#employing-custom-request-headers-for-ajaxapi
	csrfHeader = "X-Csrf-Protection"

	// Cookie name used for storing the CSRF token.
	csrfCookie = "as-ct"

	// Form field used for the double-submit cookie pattern.
	csrfParam = "csrf-token"

	// Duration for which the CSRF token cookie is kept.
	csrfExpiration = time.Hour * 6
)

var errCSRF = errors.NewC("csrf check failed", codes.FailedPrecondition).
	WithPublicMessage("Your form has expired, please reload the page")

func csrfKeyFromConfig() []byte {
	if k := authsync.ConfigString("gateway.csrfSigningKey"); k != "" {
		return []byte(k)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("csrf: random number generation failed: " + err.Error())
	}
	return key
}

// sendCSRFToken sets the CSRF cookie, reusing a valid existing token, and
// returns the token for use in a form.
func (g *Gateway) sendCSRFToken(w http.ResponseWriter, r *http.Request) string {
	ct := ""
	if c, err := r.Cookie(csrfCookie); err == nil && verifyCSRFToken(c.Value, g.csrfKey) == nil {
		ct = c.Value
	}
	if ct == "" {
		ct = generateCSRFToken(g.csrfKey)
	}

	// Resend the cookie so we can push out expiration.
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    ct,
		Path:     "/",
		Secure:   g.secure,
		HttpOnly: false, // Per OWASP recommendation.
		Expires:  time.Now().Add(csrfExpiration),
		SameSite: http.SameSiteLaxMode,
	})
	return ct
}

// verifyCSRF accepts requests carrying the custom header, which browsers
// only allow same-origin scripts or allowed CORS origins to set, and form
// posts whose csrf-token field matches the signed cookie.
func verifyCSRF(r *http.Request, signingKey []byte) error {
	if r.Header.Get(csrfHeader) != "" {
		return nil
	}

	param := r.PostFormValue(csrfParam)
	if param == "" {
		return errors.Mark(errCSRF, 0).Append("missing token in request")
	}
	c, err := r.Cookie(csrfCookie)
	if err != nil || c.Value == "" {
		return errors.Mark(errCSRF, 0).Append("missing token in cookies")
	}
	if !hmac.Equal([]byte(param), []byte(c.Value)) {
		return errors.Mark(errCSRF, 0).Append("token mismatch")
	}
	return verifyCSRFToken(c.Value, signingKey)
}

// csrfProtect rejects mutating requests that fail verifyCSRF.
func (g *Gateway) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			logging.Track(r.Context(), "gateway.csrf_mode", "off")
		default:
			logging.Track(r.Context(), "gateway.csrf_mode", "on")
			if err := verifyCSRF(r, g.csrfKey); err != nil {
				writeError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleCSRF(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"token": g.sendCSRFToken(w, r)})
}

func generateCSRFToken(signingKey []byte) string {
	randomData := make([]byte, 32)
	if _, err := rand.Read(randomData); err != nil {
		// Errors should not occur under normal operation and are unlikely to be
		// recoverable. So let it fail hard.
		panic("csrf: random number generation failed: " + err.Error())
	}

	hasher := hmac.New(sha256.New, signingKey)
	hasher.Write(randomData)
	mac := hex.EncodeToString(hasher.Sum(nil))

	return mac + "_" + hex.EncodeToString(randomData)
}

func verifyCSRFToken(token string, signingKey []byte) error {
	mac, data, ok := strings.Cut(token, "_")
	if !ok {
		return errors.Mark(errCSRF, 0).Append("invalid token")
	}

	actualMac, err := hex.DecodeString(mac)
	if err != nil {
		return errors.Mark(errCSRF, 0).Append("invalid signature")
	}
	randomData, err := hex.DecodeString(data)
	if err != nil {
		return errors.Mark(errCSRF, 0).Append("invalid data")
	}

	hasher := hmac.New(sha256.New, signingKey)
	hasher.Write(randomData)
	if !hmac.Equal(actualMac, hasher.Sum(nil)) {
		return errors.Mark(errCSRF, 0).Append("signature mismatch")
	}
	return nil
}
