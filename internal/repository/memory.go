package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/claimboard/internal/model"
)

// MemoryRepository хранит данные в памяти процесса (для разработки и тестов).
//
// Изменение баланса сериализуется мьютексом конкретного пользователя,
// поэтому начисления разным пользователям не ждут друг друга.
type MemoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[int64]*account
	byName   map[string]int64

	claimsMu sync.RWMutex
	claims   []model.ClaimEvent
	applied  map[uuid.UUID]struct{}
}

type account struct {
	mu   sync.Mutex
	user model.User
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[int64]*account),
		byName:   make(map[string]int64),
		applied:  make(map[uuid.UUID]struct{}),
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error { return nil }

// CreateUser создаёт нового пользователя с нулевым балансом.
func (m *MemoryRepository) CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageError("create user", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[username]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	m.nextID++
	m.accounts[m.nextID] = &account{user: model.User{
		ID:           m.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}}
	m.byName[username] = m.nextID

	return m.nextID, nil
}

func (m *MemoryRepository) account(id int64) (*account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	return a, ok
}

func (a *account) snapshot() model.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

// GetUserByUsername возвращает пользователя по имени.
func (m *MemoryRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("get user by username", err)
	}

	m.mu.RLock()
	id, ok := m.byName[username]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	return m.GetUserByID(ctx, id)
}

// GetUserByID возвращает пользователя по идентификатору.
func (m *MemoryRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("get user by id", err)
	}

	a, ok := m.account(id)
	if !ok {
		return nil, ErrUserNotFound
	}
	u := a.snapshot()
	return &u, nil
}

// ListUsers возвращает всех пользователей в порядке регистрации.
func (m *MemoryRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("select users", err)
	}

	m.mu.RLock()
	accounts := make([]*account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	m.mu.RUnlock()

	users := make([]model.User, 0, len(accounts))
	for _, a := range accounts {
		users = append(users, a.snapshot())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	return users, nil
}

// RecordClaim увеличивает баланс пользователя и добавляет запись в журнал.
func (m *MemoryRepository) RecordClaim(ctx context.Context, claim model.ClaimEvent) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageError("record claim", err)
	}

	a, ok := m.account(claim.UserID)
	if !ok {
		return 0, ErrUserNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	m.claimsMu.Lock()
	if _, done := m.applied[claim.ID]; done {
		m.claimsMu.Unlock()
		return a.user.Points, nil
	}
	m.claims = append(m.claims, claim)
	m.applied[claim.ID] = struct{}{}
	m.claimsMu.Unlock()

	a.user.Points += claim.PointsAwarded
	return a.user.Points, nil
}

func (m *MemoryRepository) filterClaims(keep func(model.ClaimEvent) bool) []model.ClaimEvent {
	m.claimsMu.RLock()
	defer m.claimsMu.RUnlock()

	res := make([]model.ClaimEvent, 0)
	for _, c := range m.claims {
		if keep(c) {
			res = append(res, c)
		}
	}
	return res
}

// ClaimsByUser возвращает начисления пользователя по возрастанию времени создания.
func (m *MemoryRepository) ClaimsByUser(ctx context.Context, username string) ([]model.ClaimEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("select claims by user", err)
	}

	res := m.filterClaims(func(c model.ClaimEvent) bool { return c.Username == username })
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// ClaimsInWindow возвращает начисления, попавшие в окно.
func (m *MemoryRepository) ClaimsInWindow(ctx context.Context, w model.TimeWindow) ([]model.ClaimEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("select claims in window", err)
	}

	return m.filterClaims(func(c model.ClaimEvent) bool { return w.Contains(c.CreatedAt) }), nil
}

func (m *MemoryRepository) ledgerSum(userID int64) int64 {
	var sum int64
	for _, c := range m.filterClaims(func(c model.ClaimEvent) bool { return c.UserID == userID }) {
		sum += c.PointsAwarded
	}
	return sum
}

// BalanceDrifts возвращает пользователей, чей баланс расходится с суммой начислений.
func (m *MemoryRepository) BalanceDrifts(ctx context.Context) ([]model.BalanceDrift, error) {
	users, err := m.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	var res []model.BalanceDrift
	for _, u := range users {
		if sum := m.ledgerSum(u.ID); sum != u.Points {
			res = append(res, model.BalanceDrift{
				UserID:    u.ID,
				Username:  u.Username,
				Balance:   u.Points,
				LedgerSum: sum,
			})
		}
	}
	return res, nil
}

// RepairBalance приводит баланс пользователя к сумме его начислений и возвращает прежнее и новое значения.
func (m *MemoryRepository) RepairBalance(ctx context.Context, userID int64) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, storageError("repair balance", err)
	}

	a, ok := m.account(userID)
	if !ok {
		return 0, 0, ErrUserNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	before := a.user.Points
	a.user.Points = m.ledgerSum(userID)
	return before, a.user.Points, nil
}

// SetBalance перезаписывает баланс в обход журнала. Используется для проверки сверки.
func (m *MemoryRepository) SetBalance(userID int64, points int64) error {
	a, ok := m.account(userID)
	if !ok {
		return ErrUserNotFound
	}
	a.mu.Lock()
	a.user.Points = points
	a.mu.Unlock()
	return nil
}
