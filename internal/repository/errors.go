// Package repository содержит реализации хранилища пользователей и журнала начислений.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим именем.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrStorage оборачивает любую ошибку недоступного или отказавшего хранилища.
	ErrStorage = errors.New("storage error")
	// ErrStorageTimeout возвращается, если операция с хранилищем превысила дедлайн.
	ErrStorageTimeout = fmt.Errorf("%w: timeout", ErrStorage)
)

const (
	retryBase       = 100 * time.Millisecond
	retryMaxRetries = 3
)

// storageError приводит ошибку драйвера к типизированной ошибке хранилища.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUserExists) || errors.Is(err, ErrStorage) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrStorageTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// withRetry повторяет fn, пока transient считает ошибку временной.
func withRetry(ctx context.Context, transient func(error) bool, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(retryMaxRetries, retry.NewFibonacci(retryBase))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
