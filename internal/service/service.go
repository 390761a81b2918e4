// Package service реализует бизнес-логику начисления баллов, лидербордов и истории.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/claimboard/internal/clock"
	"github.com/mmeshcher/claimboard/internal/model"
	"github.com/mmeshcher/claimboard/internal/repository"
	"github.com/mmeshcher/claimboard/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	RecordClaim(ctx context.Context, claim model.ClaimEvent) (int64, error)
	ClaimsByUser(ctx context.Context, username string) ([]model.ClaimEvent, error)
	ClaimsInWindow(ctx context.Context, w model.TimeWindow) ([]model.ClaimEvent, error)
	BalanceDrifts(ctx context.Context) ([]model.BalanceDrift, error)
	RepairBalance(ctx context.Context, userID int64) (int64, int64, error)
}

var (
	// ErrValidation возвращается для некорректного ввода без обращения к хранилищу.
	ErrValidation = validation.ErrInvalid
	// ErrInvalidCredentials возвращается при неверной паре имя/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	defaultStorageTimeout = 3 * time.Second
	defaultStorageRetries = 2
	storageRetryDelay     = 50 * time.Millisecond
)

// Options задаёт зависимости и параметры сервиса. Нулевые поля заменяются значениями по умолчанию.
type Options struct {
	Clock          clock.Clock
	Calendar       *clock.Calendar
	Points         PointsSource
	StorageTimeout time.Duration
	StorageRetries *uint64
}

// Service содержит бизнес-логику сервиса.
type Service struct {
	repo     Repository
	clock    clock.Clock
	calendar clock.Calendar
	points   PointsSource
	timeout  time.Duration
	retries  uint64
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:     repo,
		clock:    opts.Clock,
		calendar: clock.Default(),
		points:   opts.Points,
		timeout:  opts.StorageTimeout,
		retries:  defaultStorageRetries,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if opts.Calendar != nil {
		s.calendar = *opts.Calendar
	}
	if s.points == nil {
		s.points = UniformPoints{}
	}
	if s.timeout <= 0 {
		s.timeout = defaultStorageTimeout
	}
	if opts.StorageRetries != nil {
		s.retries = *opts.StorageRetries
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Now возвращает текущий момент по часам сервиса.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// call выполняет операцию хранилища с дедлайном и ограниченным числом повторов по таймауту.
func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(s.retries, retry.NewConstant(storageRetryDelay))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		err := asTimeout(fn(callCtx))
		if errors.Is(err, repository.ErrStorageTimeout) {
			return retry.RetryableError(err)
		}
		return err
	})

	return asTimeout(err)
}

func asTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, repository.ErrStorageTimeout) {
		return fmt.Errorf("%w: %w", repository.ErrStorageTimeout, err)
	}
	return err
}

// RegisterUser регистрирует нового пользователя с нулевым балансом.
func (s *Service) RegisterUser(ctx context.Context, username, password string) (int64, error) {
	name, err := validation.Username(username)
	if err != nil {
		return 0, err
	}
	if err := validation.Password(password); err != nil {
		return 0, err
	}

	var id int64
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.repo.CreateUser(ctx, name, hashPassword(name, password))
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет имя и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (int64, error) {
	u, err := s.UserByUsername(ctx, username)
	if err != nil {
		return 0, err
	}

	if subtle.ConstantTimeCompare(hashPassword(u.Username, password), u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(username, password string) []byte {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return sum[:]
}

// ListUsers возвращает всех пользователей справочника.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		users, err = s.repo.ListUsers(ctx)
		return err
	})
	return users, err
}

// UserByID возвращает пользователя по идентификатору.
func (s *Service) UserByID(ctx context.Context, id int64) (*model.User, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrValidation)
	}

	var u *model.User
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.repo.GetUserByID(ctx, id)
		return err
	})
	return u, err
}

// UserByUsername возвращает пользователя по имени.
func (s *Service) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	name, err := validation.Username(username)
	if err != nil {
		return nil, err
	}

	var u *model.User
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.repo.GetUserByUsername(ctx, name)
		return err
	})
	return u, err
}
