package echoapi

import (
	"context"
	"io/ioutil"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/user"
)

var (
	contextTokenKey = "userToken"
	contextUserKey  = "user"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Username     string   `json:"username,omitempty"`
	Email        string   `json:"email,omitempty"`
	IsStudent    bool     `json:"is_student,omitempty"`
	IsTeacher    bool     `json:"is_teacher,omitempty"`
	IsAdmin      bool     `json:"is_admin,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

// IsStaff reports whether the token holder runs the loans desk.
func (c Claims) IsStaff() bool {
	return c.IsAdmin || c.IsTeacher
}

// authenticator signs and verifies tokens: RS256 when key files are configured, HS256 with the secret key otherwise.
type authenticator struct {
	conf      *core.Config
	method    jwt.SigningMethod
	signKey   interface{}
	jwtConfig middleware.JWTConfig
}

func newAuthenticator(conf *core.Config) (*authenticator, error) {
	auth := &authenticator{conf: conf}

	var verifyKey interface{}
	if conf.Server.JWTPrivateKeyFile != "" && conf.Server.JWTPublicKeyFile != "" {
		privPEM, err := ioutil.ReadFile(conf.Server.JWTPrivateKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading private key")
		}
		privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
		if err != nil {
			return nil, errors.Wrap(err, "parsing private key")
		}
		pubPEM, err := ioutil.ReadFile(conf.Server.JWTPublicKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading public key")
		}
		pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
		if err != nil {
			return nil, errors.Wrap(err, "parsing public key")
		}
		auth.method = jwt.SigningMethodRS256
		auth.signKey = privKey
		verifyKey = pubKey
	} else {
		auth.method = jwt.SigningMethodHS256
		auth.signKey = []byte(conf.SecretKey)
		verifyKey = auth.signKey
	}

	auth.jwtConfig = middleware.JWTConfig{
		SigningKey:    verifyKey,
		SigningMethod: auth.method.Alg(),
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
	return auth, nil
}

func (auth *authenticator) userClaims(usr user.User, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    auth.conf.AppName,
			Subject:   usr.ID,
			Audience:  "Loans",
			ExpiresAt: now.Add(auth.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     usr.Username,
		Email:        usr.Email,
		IsStudent:    usr.IsStudent(),
		IsTeacher:    usr.IsTeacher(),
		IsAdmin:      usr.IsAdmin(),
		Roles:        usr.Roles,
	}
}

// generateToken generates a signed JWT token string representing the user Claims.
func (auth *authenticator) generateToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(auth.method, claims)
	ss, err := token.SignedString(auth.signKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (auth *authenticator) authenticate(ctx context.Context, uname, pwd string, svc *user.Service) (string, error) {
	usr, err := svc.Authenticate(ctx, uname, pwd)
	if err != nil {
		switch errors.Cause(err) {
		case user.ErrNotFound, user.ErrPasswordMismatch:
			return "", errAuthenticationFailed
		}
		return "", errors.Wrap(err, "authenticating")
	}
	if !usr.IsActive {
		return "", errAccountDeactivated
	}
	if usr, err = svc.SetLastLogin(ctx, usr); err != nil {
		return "", errors.Wrap(err, "setting lastLogin")
	}
	return auth.generateToken(auth.userClaims(usr))
}

func (auth *authenticator) refreshToken(ctx echo.Context, svc *user.Service) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", err
	}

	usr, err := getContextUser(ctx, svc, claims)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}

	// check if user is still active
	if !usr.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(auth.conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	return auth.generateToken(auth.userClaims(usr, claims.OrigIssuedAt))
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextUser(ctx echo.Context, svc *user.Service, clms ...Claims) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return user.User{}, err
		}
	}

	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}
