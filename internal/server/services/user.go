package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/cryptox"
	"github.com/dmitrijs2005/cloudkeeper/internal/dbx"
	"github.com/dmitrijs2005/cloudkeeper/internal/logging"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/auth"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/config"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/mail"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/objectstore"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/repomanager"
)

var validate = validator.New()

// UserService handles accounts: signup, login, refresh-token rotation,
// password reset and the account settings.
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	store                        objectstore.Gateway
	mailer                       mail.Mailer
	log                          logging.Logger
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	resetTokenValidityDuration   time.Duration
	clientURL                    string
	now                          func() time.Time
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, store objectstore.Gateway, mailer mail.Mailer,
	cfg *config.Config, log logging.Logger) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		store:                        store,
		mailer:                       mailer,
		log:                          log.With("service", "users"),
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		resetTokenValidityDuration:   cfg.ResetTokenValidityDuration,
		clientURL:                    strings.TrimRight(cfg.ClientURL, "/"),
		now:                          time.Now,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", fmt.Errorf("%w: invalid email", common.ErrorBadRequest)
	}
	return email, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorBadRequest, minPasswordLength)
	}
	return nil
}

func checkUserName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) < minUserNameLength {
		return "", fmt.Errorf("%w: username must be at least %d characters", common.ErrorBadRequest, minUserNameLength)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: username is too long", common.ErrorBadRequest)
	}
	return name, nil
}

// Signup creates the account and logs it in.
func (s *UserService) Signup(ctx context.Context, userName, email, password string) (*models.User, *models.TokenPair, error) {
	userName, err := checkUserName(userName)
	if err != nil {
		return nil, nil, err
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return nil, nil, err
	}
	if err := checkPassword(password); err != nil {
		return nil, nil, err
	}

	hash, err := cryptox.Hash(password)
	if err != nil {
		return nil, nil, err
	}

	var (
		user *models.User
		pair *models.TokenPair
	)
	err = withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := s.repomanager.Users(tx).Create(ctx, &models.User{UserName: userName, Email: email, PasswordHash: hash})
		if err != nil {
			if errors.Is(err, common.ErrorConflict) {
				return fmt.Errorf("%w: user with this email or username already exists", common.ErrorConflict)
			}
			return err
		}
		user = u
		pair, err = s.generateTokenPair(ctx, u.ID, tx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info(ctx, "user signed up", "user_id", user.ID)
	return user, pair, nil
}

// Login verifies email and password and issues a fresh token pair.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, *models.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, fmt.Errorf("%w: invalid email or password", common.ErrorUnauthorized)
		}
		return nil, nil, err
	}
	if !cryptox.Matches(user.PasswordHash, password) {
		return nil, nil, fmt.Errorf("%w: invalid email or password", common.ErrorUnauthorized)
	}

	pair, err := s.generateTokenPair(ctx, user.ID, s.db)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// RefreshToken validates a refresh token, rotates it transactionally and
// returns a fresh pair. Expired tokens yield ErrRefreshTokenExpired.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: unknown refresh token", common.ErrorUnauthorized)
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expires.Before(s.now()) {
		return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, common.ErrRefreshTokenExpired)
	}

	var pair *models.TokenPair
	if err := withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, token.UserID, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes one refresh token. Unknown tokens are ignored.
func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	return s.repomanager.RefreshTokens(s.db).Delete(ctx, refreshToken)
}

// ForgotPassword mails a reset link. Unknown addresses succeed silently so
// the endpoint cannot be used to probe for accounts.
func (s *UserService) ForgotPassword(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.log.Debug(ctx, "password reset for unknown email")
			return nil
		}
		return err
	}

	token, err := common.MakeRandHexString(resetTokenBytes)
	if err != nil {
		return err
	}
	expires := s.now().Add(s.resetTokenValidityDuration)
	if err := repo.SetResetToken(ctx, user.ID, token, &expires); err != nil {
		return err
	}

	link := s.clientURL + "/reset-password/" + token
	msg := mail.Message{
		To:      user.Email,
		Subject: "Reset your cloudkeeper password",
		Body: fmt.Sprintf("Hello %s,\n\nUse the link below to choose a new password. It expires in %s.\n\n%s\n",
			user.UserName, s.resetTokenValidityDuration, link),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	return nil
}

// ResetPassword sets a new password from a valid reset token, clears the
// token and revokes every session.
func (s *UserService) ResetPassword(ctx context.Context, token, password string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: %w", common.ErrorBadRequest, common.ErrResetTokenExpired)
	}
	if err := checkPassword(password); err != nil {
		return err
	}

	user, err := s.repomanager.Users(s.db).GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: %w", common.ErrorBadRequest, common.ErrResetTokenExpired)
		}
		return err
	}
	if user.ResetPasswordExpires == nil || user.ResetPasswordExpires.Before(s.now()) {
		return fmt.Errorf("%w: %w", common.ErrorBadRequest, common.ErrResetTokenExpired)
	}

	hash, err := cryptox.Hash(password)
	if err != nil {
		return err
	}
	return s.replacePassword(ctx, user.ID, hash)
}

func (s *UserService) replacePassword(ctx context.Context, userID, hash string) error {
	return withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)
		if err := users.UpdatePasswordHash(ctx, userID, hash); err != nil {
			return err
		}
		if err := users.SetResetToken(ctx, userID, "", nil); err != nil {
			return err
		}
		return s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, userID)
	})
}

func (s *UserService) UpdateUserName(ctx context.Context, userID, userName string) (*models.User, error) {
	userName, err := checkUserName(userName)
	if err != nil {
		return nil, err
	}
	repo := s.repomanager.Users(s.db)
	if err := repo.UpdateUserName(ctx, userID, userName); err != nil {
		if errors.Is(err, common.ErrorConflict) {
			return nil, fmt.Errorf("%w: username is taken", common.ErrorConflict)
		}
		return nil, err
	}
	return repo.GetByID(ctx, userID)
}

// ChangePassword requires the current password and revokes every session.
func (s *UserService) ChangePassword(ctx context.Context, user *models.User, current, next string) error {
	if !cryptox.Matches(user.PasswordHash, current) {
		return fmt.Errorf("%w: current password is incorrect", common.ErrorForbidden)
	}
	if err := checkPassword(next); err != nil {
		return err
	}
	hash, err := cryptox.Hash(next)
	if err != nil {
		return err
	}
	return s.replacePassword(ctx, user.ID, hash)
}

// SetPasscode sets or replaces the file passcode used for locked files.
func (s *UserService) SetPasscode(ctx context.Context, userID, passcode string) error {
	if len(passcode) < minPasscodeLength {
		return fmt.Errorf("%w: passcode must be at least %d characters", common.ErrorBadRequest, minPasscodeLength)
	}
	hash, err := cryptox.Hash(passcode)
	if err != nil {
		return err
	}
	return s.repomanager.Users(s.db).SetPasscodeHash(ctx, userID, hash)
}

// DeleteAccount removes the user's stored objects and then the account;
// metadata rows go with it through the schema's cascades. Accounts without a
// password (signed up through an identity provider) confirm with their email
// address instead.
func (s *UserService) DeleteAccount(ctx context.Context, user *models.User, confirmation string) error {
	if user.PasswordHash == "" {
		if !strings.EqualFold(strings.TrimSpace(confirmation), user.Email) {
			return fmt.Errorf("%w: confirmation does not match the account email", common.ErrorForbidden)
		}
	} else if !cryptox.Matches(user.PasswordHash, confirmation) {
		return fmt.Errorf("%w: password is incorrect", common.ErrorForbidden)
	}

	keys, err := s.repomanager.Files(s.db).StorageKeysByOwner(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("store delete %s: %w", key, err)
		}
	}

	if err := s.repomanager.Users(s.db).Delete(ctx, user.ID); err != nil {
		return err
	}
	s.log.Info(ctx, "account deleted", "user_id", user.ID, "objects", len(keys))
	return nil
}

func (s *UserService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*models.TokenPair, error) {
	access, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := common.MakeRandHexString(refreshTokenBytes)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, userID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, common.ErrorInternal
	}
	return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
