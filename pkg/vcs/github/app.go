package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/vcs"
)

// appTokens exchanges a signed App JWT for an installation token and caches
// it until shortly before expiry.
type appTokens struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	http           *vcs.HTTPClient
	now            func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (a *appTokens) Authorize(ctx context.Context, req *http.Request) error {
	token, err := a.installationToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *appTokens) installationToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Before(a.expires.Add(-time.Minute)) {
		return a.token, nil
	}

	signed, err := a.appJWT()
	if err != nil {
		return "", err
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	err = a.http.JSON(ctx, vcs.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/app/installations/%d/access_tokens", a.installationID),
		Header: http.Header{"Authorization": []string{"Bearer " + signed}},
		NoAuth: true,
	}, &out)
	if err != nil {
		return "", apierrors.Wrap(err, apierrors.ErrCodeGatewayAuth, "create installation token").
			WithContext("installation_id", a.installationID)
	}
	if out.Token == "" {
		return "", apierrors.New(apierrors.ErrCodeGatewayAuth, "installation token response had no token")
	}

	a.token = out.Token
	a.expires = out.ExpiresAt
	return a.token, nil
}

// appJWT signs the short-lived RS256 token GitHub requires for App calls.
// Issued-at is backdated a minute to tolerate clock drift.
func (a *appTokens) appJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", apierrors.Wrap(err, apierrors.ErrCodeGatewayAuth, "sign GitHub App JWT")
	}
	return signed, nil
}
