package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/platform/qdrant"
	"github.com/doctalk/doctalk-backend/internal/repos"
	"github.com/doctalk/doctalk-backend/internal/types"
)

const minPasswordLength = 6

type AuthService struct {
	log       *logger.Logger
	db        *gorm.DB
	users     repos.UserRepo
	convs     repos.ConversationRepo
	vectors   qdrant.VectorStore
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(
	log *logger.Logger,
	db *gorm.DB,
	users repos.UserRepo,
	convs repos.ConversationRepo,
	vectors qdrant.VectorStore,
	jwtSecret string,
	tokenTTL time.Duration,
) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &AuthService{
		log:       log.With("service", "AuthService"),
		db:        db,
		users:     users,
		convs:     convs,
		vectors:   vectors,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

type AuthResult struct {
	Token string      `json:"token"`
	User  *types.User `json:"user"`
}

func (s *AuthService) Signup(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.New(apperr.KindInvalid, "a valid email is required")
	}
	if len(password) < minPasswordLength {
		return nil, apperr.Newf(apperr.KindInvalid, "password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &types.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
	}
	if err := s.users.Create(dbctx.Context{Ctx: ctx}, user); err != nil {
		return nil, err
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("User registered", "user_id", user.ID)
	return &AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) Signin(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(dbctx.Context{Ctx: ctx}, email)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindUnauthorized, "invalid email or password")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid email or password")
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) Profile(ctx context.Context, userID int64) (*types.User, error) {
	return s.users.GetByID(dbctx.Context{Ctx: ctx}, userID)
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, name string) (*types.User, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if err := s.users.UpdateFields(dbc, userID, map[string]any{"name": strings.TrimSpace(name)}); err != nil {
		return nil, err
	}
	return s.users.GetByID(dbc, userID)
}

func (s *AuthService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	dbc := dbctx.Context{Ctx: ctx}
	user, err := s.users.GetByID(dbc, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return apperr.New(apperr.KindUnauthorized, "current password is incorrect")
	}
	if len(next) < minPasswordLength {
		return apperr.Newf(apperr.KindInvalid, "password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.users.UpdateFields(dbc, userID, map[string]any{"password_hash": string(hash)})
}

// DeleteAccount removes the user and all dependent rows, then purges
// the user's conversations from the vector store best-effort.
func (s *AuthService) DeleteAccount(ctx context.Context, userID int64, password string) error {
	dbc := dbctx.Context{Ctx: ctx}
	user, err := s.users.GetByID(dbc, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return apperr.New(apperr.KindUnauthorized, "password is incorrect")
	}

	convs, err := s.convs.ListByUser(dbc, userID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		for _, conv := range convs {
			if err := purgeConversationRows(txc, tx, conv.ID); err != nil {
				return err
			}
		}
		return s.users.Delete(txc, userID)
	})
	if err != nil {
		return err
	}

	for _, conv := range convs {
		if _, derr := s.vectors.DeleteByConversation(ctx, conv.ID); derr != nil {
			s.log.Warn("Vector purge during account deletion", "conversation_id", conv.ID, "error", derr)
		}
	}
	s.log.Info("Account deleted", "user_id", userID)
	return nil
}

// VerifyToken parses a bearer token and returns the user id it names.
func (s *AuthService) VerifyToken(token string) (int64, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.New(apperr.KindUnauthorized, "unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, apperr.New(apperr.KindUnauthorized, "invalid or expired token")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return 0, apperr.New(apperr.KindUnauthorized, "invalid token claims")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.KindUnauthorized, "invalid token subject")
	}
	return userID, nil
}

func (s *AuthService) issueToken(userID int64) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}
