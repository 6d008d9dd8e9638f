package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"issuehub/internal/repo"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	EnableDevLogin         bool
	Logger                 zerolog.Logger
}

type Principal struct {
	ActorID string
	OrgID   string
	Role    string
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p.ActorID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id,omitempty"`
	Role  string `json:"role,omitempty"`
}

// credential is what a request presented before its actor is loaded. orgID
// is the organization the credential claims, empty when it claims none.
type credential struct {
	actorID string
	orgID   string
	source  string
}

// credentialResolver reads one kind of credential from a request. ok is
// false when the request does not carry it.
type credentialResolver func(req *http.Request) (cred credential, ok bool, err error)

// resolvers returns the credential chain in precedence order. The first
// credential a request carries decides; later ones are not consulted.
func (cfg AuthConfig) resolvers(r repo.Repo) []credentialResolver {
	chain := []credentialResolver{jwtResolver(cfg.JWTSecret), apiKeyResolver(r)}
	if cfg.AllowLegacyActorHeader {
		chain = append(chain, legacyActorResolver(cfg.Logger))
	}
	return chain
}

func jwtResolver(secret string) credentialResolver {
	return func(req *http.Request) (credential, bool, error) {
		authz := strings.TrimSpace(req.Header.Get("Authorization"))
		if authz == "" {
			return credential{}, false, nil
		}
		token, ok := bearerToken(authz)
		if !ok {
			return credential{}, true, errors.New("authorization is not a bearer token")
		}
		claims, err := parseJWT(token, secret)
		if err != nil {
			return credential{}, true, err
		}
		return credential{actorID: claims.Subject, orgID: claims.OrgID, source: "jwt"}, true, nil
	}
}

func apiKeyResolver(r repo.Repo) credentialResolver {
	return func(req *http.Request) (credential, bool, error) {
		key := strings.TrimSpace(req.Header.Get("X-Api-Key"))
		if key == "" {
			return credential{}, false, nil
		}
		apiKey, err := r.GetAPIKeyByHash(req.Context(), repo.HashAPIKey(key))
		if err != nil {
			return credential{}, true, err
		}
		return credential{actorID: apiKey.ActorID, source: "api_key"}, true, nil
	}
}

func legacyActorResolver(log zerolog.Logger) credentialResolver {
	return func(req *http.Request) (credential, bool, error) {
		actorID := strings.TrimSpace(req.Header.Get("X-Actor-Id"))
		if actorID == "" {
			return credential{}, false, nil
		}
		log.Warn().Str("actor_id", actorID).Msg("unauthenticated X-Actor-Id header accepted")
		return credential{actorID: actorID, source: "legacy_header"}, true, nil
	}
}

func parseJWT(token, secret string) (*jwtClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("subject claim required")
	}
	return claims, nil
}

// resolvePrincipal loads the actor behind a credential. The stored org and
// role win over token claims; a token naming another org is refused, as is
// an inactive actor.
func resolvePrincipal(ctx context.Context, r repo.Repo, cred credential) (Principal, huma.StatusError) {
	actor, err := r.GetActor(ctx, cred.actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return Principal{}, errInvalidCredentials
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("actor_id", cred.actorID).Msg("load principal failed")
		return Principal{}, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
	if cred.orgID != "" && cred.orgID != actor.OrgID {
		return Principal{}, errInvalidCredentials
	}
	if !actor.Active {
		return Principal{}, newAPIError(http.StatusForbidden, "forbidden", fmt.Sprintf("actor %s is inactive", actor.ID), nil)
	}
	return Principal{ActorID: actor.ID, OrgID: actor.OrgID, Role: actor.Role, Source: cred.source}, nil
}

var errInvalidCredentials = newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)

// signDevToken mints a short-lived HS256 token for local testing.
func signDevToken(secret, actorID, orgID, role string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    "issuehub-dev",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
		},
		OrgID: orgID,
		Role:  role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	chain := cfg.resolvers(r)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath || (cfg.EnableDevLogin && req.URL.Path == devLoginPath) {
				next.ServeHTTP(w, req)
				return
			}
			for _, resolve := range chain {
				cred, ok, err := resolve(req)
				if !ok {
					continue
				}
				if err != nil {
					cfg.Logger.Debug().Err(err).Msg("credential rejected")
					respondStatusError(w, errInvalidCredentials)
					return
				}
				principal, authErr := resolvePrincipal(req.Context(), r, cred)
				if authErr != nil {
					respondStatusError(w, authErr)
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
