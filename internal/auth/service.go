package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	PermObserve Permission = "observe"
	PermOperate Permission = "operate"
	PermAdmin   Permission = "admin"
)

const (
	RoleObserver = "observer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSecret           = errors.New("auth is enabled but no JWT secret is set")
)

// Service checks operator logins and bearer tokens against the accounts
// listed in the configuration.
type Service struct {
	jwtHandler    *JWTHandler
	operators     map[string]config.OperatorConfig
	machineTokens []config.MachineTokenConfig
	logger        *zap.Logger
}

func NewService(cfg config.AuthConfig, logger *zap.Logger) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	operators := make(map[string]config.OperatorConfig, len(cfg.Operators))
	for _, op := range cfg.Operators {
		if _, ok := rolePermissions[op.Role]; !ok {
			return nil, fmt.Errorf("operator %q has unknown role %q", op.Username, op.Role)
		}
		operators[op.Username] = op
	}
	for _, mt := range cfg.MachineTokens {
		for _, p := range mt.Permissions {
			if !slices.Contains(rolePermissions[RoleAdmin], Permission(p)) {
				return nil, fmt.Errorf("machine token %q has unknown permission %q", mt.Name, p)
			}
		}
	}

	logger.Info("REST authentication enabled",
		zap.Int("operators", len(operators)),
		zap.Int("machine_tokens", len(cfg.MachineTokens)),
		zap.Duration("token_ttl", ttl))

	return &Service{
		jwtHandler:    NewJWTHandler(cfg.JWTSecret, ttl, cfg.Issuer),
		operators:     operators,
		machineTokens: cfg.MachineTokens,
		logger:        logger,
	}, nil
}

var rolePermissions = map[string][]Permission{
	RoleObserver: {PermObserve},
	RoleOperator: {PermObserve, PermOperate},
	RoleAdmin:    {PermObserve, PermOperate, PermAdmin},
}

// Login returns a signed access token for a configured operator.
func (s *Service) Login(username, password string) (string, time.Time, error) {
	op, ok := s.operators[username]
	if !ok {
		s.logger.Warn("Login for unknown operator", zap.String("username", username))
		return "", time.Time{}, ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, op.PasswordHash)
	if err != nil {
		s.logger.Error("Stored password hash is unusable",
			zap.String("username", username), zap.Error(err))
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !match {
		s.logger.Warn("Login with wrong password", zap.String("username", username))
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expires, err := s.jwtHandler.GenerateAccessToken(op.Username, op.Role)
	if err != nil {
		return "", time.Time{}, err
	}
	s.logger.Info("Operator logged in", zap.String("username", username), zap.String("role", op.Role))
	return token, expires, nil
}

// Principal is the caller behind a validated bearer token.
type Principal struct {
	Name        string
	Machine     bool
	Permissions []Permission
}

func (p Principal) Has(perm Permission) bool {
	return slices.Contains(p.Permissions, perm)
}

// Authenticate accepts either an operator JWT or a configured machine token.
func (s *Service) Authenticate(token string) (Principal, error) {
	if IsMachineToken(token) {
		return s.machineToken(token)
	}

	claims, err := s.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		Name:        claims.Subject,
		Permissions: rolePermissions[claims.Role],
	}, nil
}

func (s *Service) machineToken(token string) (Principal, error) {
	hash := HashToken(token)
	for _, mt := range s.machineTokens {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(mt.Hash)) == 1 {
			perms := make([]Permission, 0, len(mt.Permissions))
			for _, p := range mt.Permissions {
				perms = append(perms, Permission(p))
			}
			return Principal{Name: mt.Name, Machine: true, Permissions: perms}, nil
		}
	}
	return Principal{}, ErrInvalidToken
}
