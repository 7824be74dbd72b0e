package repos

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/types"
)

type UserRepo interface {
	Create(dbc dbctx.Context, user *types.User) error
	GetByID(dbc dbctx.Context, id int64) (*types.User, error)
	GetByEmail(dbc dbctx.Context, email string) (*types.User, error)
	UpdateFields(dbc dbctx.Context, id int64, fields map[string]any) error
	Delete(dbc dbctx.Context, id int64) error
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, log *logger.Logger) UserRepo {
	return &userRepo{db: db, log: log.With("repo", "UserRepo")}
}

func (r *userRepo) Create(dbc dbctx.Context, user *types.User) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict, "email already registered", err)
		}
		return err
	}
	return nil
}

func (r *userRepo) GetByID(dbc dbctx.Context, id int64) (*types.User, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var user types.User
	if err := txx.WithContext(dbc.Ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "user not found")
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) GetByEmail(dbc dbctx.Context, email string) (*types.User, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var user types.User
	if err := txx.WithContext(dbc.Ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "user not found")
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) UpdateFields(dbc dbctx.Context, id int64, fields map[string]any) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.User{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *userRepo) Delete(dbc dbctx.Context, id int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Delete(&types.User{}, "id = ?", id).Error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// sqlite driver reports constraint failures as plain strings
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
