package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/logging"
	"google.golang.org/grpc/codes"
)

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	Registered   bool   `json:"registered"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
	ProjectID    string `json:"project_id"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) signInWithPassword(ctx context.Context, email, password string) (*signInResponse, error) {
	body, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	endpoint := p.cfg.IdentityToolkitURL + "/v1/accounts:signInWithPassword?key=" + url.QueryEscape(p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp signInResponse
	if err := p.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	endpoint := p.cfg.SecureTokenURL + "/v1/token?key=" + url.QueryEscape(p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp refreshResponse
	if err := p.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Provider) do(ctx context.Context, req *http.Request, out any) error {
	res, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), 0)
		}
		return errors.Mark(idp.ErrProvider, 0).Append(err.Error())
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return errors.Mark(idp.ErrProvider, 0).Append(err.Error())
	}
	if res.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		logging.Debugw(ctx, "firebase: request failed",
			"http.status", res.StatusCode, "firebase.error", er.Error.Message)
		return mapError(res.StatusCode, er.Error.Message)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Mark(idp.ErrProvider, 0).Append("decoding response: " + err.Error())
	}
	return nil
}

// mapError converts a Firebase error message such as
// "TOO_MANY_ATTEMPTS_TRY_LATER : Access to this account..." into an error.
func mapError(status int, message string) error {
	code, _, _ := strings.Cut(message, " ")
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS",
		"INVALID_EMAIL", "MISSING_PASSWORD", "MISSING_EMAIL":
		return errors.Mark(idp.ErrInvalidCredentials, 0).Append(code)
	case "USER_DISABLED":
		return errors.Mark(idp.ErrUserDisabled, 0)
	case "TOO_MANY_ATTEMPTS_TRY_LATER", "QUOTA_EXCEEDED":
		return errors.Mark(idp.ErrTooManyAttempts, 0).Append(code)
	case "TOKEN_EXPIRED", "USER_NOT_FOUND", "INVALID_REFRESH_TOKEN",
		"INVALID_GRANT_TYPE", "MISSING_REFRESH_TOKEN", "INVALID_ID_TOKEN":
		return errors.Mark(idp.ErrSessionExpired, 0).Append(code)
	case "INVALID_API_KEY", "API_KEY_INVALID", "PROJECT_NOT_FOUND":
		return errors.Mark(idp.ErrProvider, 0).Append(code).WithCode(codes.FailedPrecondition)
	}
	if status == http.StatusTooManyRequests {
		return errors.Mark(idp.ErrTooManyAttempts, 0)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return errors.Mark(idp.ErrProvider, 0).Append(message)
}
