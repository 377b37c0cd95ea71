package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// =============================================================================
// MockAccountStore
// =============================================================================

// MockAccountStore is an in-memory repository.AccountStore. Returned
// accounts are copies, like rows read from a database.
type MockAccountStore struct {
	mu       sync.Mutex
	accounts map[int64]*domain.Account
	nextID   int64

	lookupErr error
	createErr error
	saveErr   error
	deleteErr error

	deleted []string
}

func NewMockAccountStore() *MockAccountStore {
	return &MockAccountStore{
		accounts: make(map[int64]*domain.Account),
		nextID:   1,
	}
}

func clone(a *domain.Account) *domain.Account {
	c := *a
	c.Authorities = append([]string(nil), a.Authorities...)
	if a.ResetDate != nil {
		d := *a.ResetDate
		c.ResetDate = &d
	}
	return &c
}

func (m *MockAccountStore) find(match func(*domain.Account) bool) *domain.Account {
	for _, a := range m.accounts {
		if match(a) {
			return a
		}
	}
	return nil
}

func (m *MockAccountStore) byLogin(login string) *domain.Account {
	login = domain.NormalizeLogin(login)
	return m.find(func(a *domain.Account) bool { return a.Login == login })
}

func (m *MockAccountStore) byEmail(email string) *domain.Account {
	email = domain.NormalizeEmail(email)
	return m.find(func(a *domain.Account) bool { return email != "" && strings.EqualFold(a.Email, email) })
}

// put stores an account directly, bypassing conflict checks.
func (m *MockAccountStore) put(a *domain.Account) *domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID
	m.nextID++
	m.accounts[a.ID] = clone(a)
	return a
}

func (m *MockAccountStore) get(login string) *domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.byLogin(login); a != nil {
		return clone(a)
	}
	return nil
}

func (m *MockAccountStore) Lookup(ctx context.Context, login string) (*domain.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, false, m.lookupErr
	}
	if a := m.byLogin(login); a != nil {
		return clone(a), true, nil
	}
	return nil, false, nil
}

func (m *MockAccountStore) FindByID(ctx context.Context, id int64) (*domain.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		return clone(a), true, nil
	}
	return nil, false, nil
}

func (m *MockAccountStore) FindByEmail(ctx context.Context, email string) (*domain.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.byEmail(email); a != nil {
		return clone(a), true, nil
	}
	return nil, false, nil
}

func (m *MockAccountStore) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Account], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]*domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		if a.Login != domain.AnonymousUser {
			items = append(items, clone(a))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	total := int64(len(items))

	if opts.Offset < len(items) {
		items = items[opts.Offset:]
	} else {
		items = nil
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return &repository.ListResult[domain.Account]{Items: items, Total: total, Offset: opts.Offset, Limit: opts.Limit}, nil
}

func (m *MockAccountStore) ListUnactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.Account
	for _, a := range m.accounts {
		if !a.Activated && a.CreatedDate.Before(cutoff) {
			result = append(result, clone(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedDate.Before(result[j].CreatedDate) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockAccountStore) Create(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if m.byLogin(account.Login) != nil {
		return domain.ErrLoginAlreadyUsed
	}
	if account.Email != "" && m.byEmail(account.Email) != nil {
		return domain.ErrEmailAlreadyUsed
	}
	account.ID = m.nextID
	m.nextID++
	m.accounts[account.ID] = clone(account)
	return nil
}

func (m *MockAccountStore) Save(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.accounts[account.ID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	saved := clone(account)
	saved.PasswordHash = stored.PasswordHash
	saved.ResetKey = stored.ResetKey
	saved.ResetDate = stored.ResetDate
	if !saved.Activated {
		saved.ActivationKey = stored.ActivationKey
	}
	m.accounts[account.ID] = saved
	return nil
}

func (m *MockAccountStore) SaveProfile(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	a, ok := m.accounts[account.ID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if holder := m.byEmail(account.Email); holder != nil && holder.ID != account.ID {
		return nil, domain.ErrEmailAlreadyUsed
	}
	a.FirstName = account.FirstName
	a.LastName = account.LastName
	a.Email = account.Email
	a.LangKey = account.LangKey
	a.ImageURL = account.ImageURL
	a.Touch(account.LastModifiedBy, account.LastModifiedDate)
	return clone(a), nil
}

func (m *MockAccountStore) ChangePassword(ctx context.Context, id int64, passwordHash, by string, at time.Time) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	a.PasswordHash = passwordHash
	a.Touch(by, at)
	return clone(a), nil
}

func (m *MockAccountStore) Delete(ctx context.Context, login string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	a := m.byLogin(login)
	if a == nil {
		return domain.ErrAccountNotFound
	}
	delete(m.accounts, a.ID)
	m.deleted = append(m.deleted, a.Login)
	return nil
}

func (m *MockAccountStore) DeleteUnactivated(ctx context.Context, login string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	a := m.byLogin(login)
	if a == nil || a.Activated {
		return false, nil
	}
	delete(m.accounts, a.ID)
	m.deleted = append(m.deleted, a.Login)
	return true, nil
}

func (m *MockAccountStore) Activate(ctx context.Context, key string, at time.Time) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.find(func(a *domain.Account) bool { return key != "" && !a.Activated && a.ActivationKey == key })
	if a == nil {
		return nil, domain.ErrUnknownActivationKey
	}
	a.Activated = true
	a.ActivationKey = ""
	a.Touch(a.Login, at)
	return clone(a), nil
}

func (m *MockAccountStore) IssueResetKey(ctx context.Context, email, key string, at time.Time) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byEmail(email)
	if a == nil || !a.Activated {
		return nil, domain.ErrNoSuchActivatedAccount
	}
	at = at.UTC()
	a.ResetKey = key
	a.ResetDate = &at
	return clone(a), nil
}

func (m *MockAccountStore) CompleteReset(ctx context.Context, key string, notBefore time.Time, passwordHash string, at time.Time) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.find(func(a *domain.Account) bool {
		return key != "" && a.ResetKey == key && a.ResetDate != nil && !a.ResetDate.Before(notBefore)
	})
	if a == nil {
		return nil, domain.ErrExpiredOrUnknownResetKey
	}
	a.PasswordHash = passwordHash
	a.ResetKey = ""
	a.ResetDate = nil
	a.Touch(a.Login, at)
	return clone(a), nil
}

// =============================================================================
// MockSocialConnectionRepository
// =============================================================================

type MockSocialConnectionRepository struct {
	mu     sync.Mutex
	conns  []*domain.SocialConnection
	nextID int64

	addErr  error
	findErr error
}

func NewMockSocialConnectionRepository() *MockSocialConnectionRepository {
	return &MockSocialConnectionRepository{nextID: 1}
}

func (m *MockSocialConnectionRepository) index(login, providerID, providerUserID string) int {
	for i, c := range m.conns {
		if c.Login == login && c.ProviderID == providerID && c.ProviderUserID == providerUserID {
			return i
		}
	}
	return -1
}

func (m *MockSocialConnectionRepository) Add(ctx context.Context, conn *domain.SocialConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	if m.index(conn.Login, conn.ProviderID, conn.ProviderUserID) >= 0 {
		return domain.ErrConnectionAlreadyExists
	}
	rank := 0
	for _, c := range m.conns {
		if c.Login == conn.Login && c.ProviderID == conn.ProviderID && c.Rank > rank {
			rank = c.Rank
		}
	}
	conn.ID = m.nextID
	m.nextID++
	conn.Rank = rank + 1
	stored := *conn
	m.conns = append(m.conns, &stored)
	return nil
}

func (m *MockSocialConnectionRepository) Update(ctx context.Context, conn *domain.SocialConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(conn.Login, conn.ProviderID, conn.ProviderUserID)
	if i < 0 {
		return domain.ErrConnectionNotFound
	}
	stored := *conn
	stored.ID = m.conns[i].ID
	stored.Rank = m.conns[i].Rank
	m.conns[i] = &stored
	return nil
}

func (m *MockSocialConnectionRepository) Get(ctx context.Context, login, providerID, providerUserID string) (*domain.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(login, providerID, providerUserID); i >= 0 {
		c := *m.conns[i]
		return &c, nil
	}
	return nil, domain.ErrConnectionNotFound
}

func (m *MockSocialConnectionRepository) filter(match func(*domain.SocialConnection) bool) []*domain.SocialConnection {
	var result []*domain.SocialConnection
	for _, c := range m.conns {
		if match(c) {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ProviderID != result[j].ProviderID {
			return result[i].ProviderID < result[j].ProviderID
		}
		return result[i].Rank < result[j].Rank
	})
	return result
}

func (m *MockSocialConnectionRepository) FindByLogin(ctx context.Context, login string) ([]*domain.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.filter(func(c *domain.SocialConnection) bool { return c.Login == login }), nil
}

func (m *MockSocialConnectionRepository) FindByLoginAndProvider(ctx context.Context, login, providerID string) ([]*domain.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(c *domain.SocialConnection) bool { return c.Login == login && c.ProviderID == providerID }), nil
}

func (m *MockSocialConnectionRepository) Primary(ctx context.Context, login, providerID string) (*domain.SocialConnection, error) {
	conns, _ := m.FindByLoginAndProvider(ctx, login, providerID)
	if len(conns) == 0 {
		return nil, domain.ErrConnectionNotFound
	}
	return conns[0], nil
}

func (m *MockSocialConnectionRepository) Remove(ctx context.Context, login, providerID, providerUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(login, providerID, providerUserID)
	if i < 0 {
		return domain.ErrConnectionNotFound
	}
	m.conns = append(m.conns[:i], m.conns[i+1:]...)
	return nil
}

func (m *MockSocialConnectionRepository) removeWhere(match func(*domain.SocialConnection) bool) int64 {
	kept := m.conns[:0]
	var removed int64
	for _, c := range m.conns {
		if match(c) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	m.conns = kept
	return removed
}

func (m *MockSocialConnectionRepository) RemoveByProvider(ctx context.Context, login, providerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeWhere(func(c *domain.SocialConnection) bool { return c.Login == login && c.ProviderID == providerID }), nil
}

func (m *MockSocialConnectionRepository) DeleteByLogin(ctx context.Context, login string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeWhere(func(c *domain.SocialConnection) bool { return c.Login == login }), nil
}

func (m *MockSocialConnectionRepository) count(login string) int {
	conns, _ := m.FindByLogin(context.Background(), login)
	return len(conns)
}

// =============================================================================
// MockAuthorityRepository / MockAuditEventRepository
// =============================================================================

type MockAuthorityRepository struct{}

func (MockAuthorityRepository) List(ctx context.Context) ([]string, error) {
	return []string{domain.RoleAdmin, domain.RoleAnonymous, domain.RoleUser}, nil
}

type MockAuditEventRepository struct {
	mu     sync.Mutex
	events []*domain.AuditEvent
}

func (m *MockAuditEventRepository) Create(ctx context.Context, event *domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *MockAuditEventRepository) GetByID(ctx context.Context, id int64) (*domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, domain.ErrAuditEventNotFound
}

func (m *MockAuditEventRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	return m.ListBetween(ctx, time.Time{}, time.Time{}, opts)
}

func (m *MockAuditEventRepository) ListBetween(ctx context.Context, from, to time.Time, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*domain.AuditEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			continue
		}
		items = append(items, e)
	}
	return &repository.ListResult[domain.AuditEvent]{Items: items, Total: int64(len(items))}, nil
}

// =============================================================================
// Test doubles for collaborators
// =============================================================================

// plainHasher stands in for bcrypt so tests stay fast.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (plainHasher) Matches(hash, password string) bool { return hash == "hashed:"+password }

type sentMail struct {
	kind     string
	login    string
	provider string
}

// recordingMailer captures queued mails.
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (r *recordingMailer) add(kind string, a *domain.Account, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMail{kind: kind, login: a.Login, provider: provider})
}

func (r *recordingMailer) SendActivationEmail(a *domain.Account)   { r.add("activation", a, "") }
func (r *recordingMailer) SendCreationEmail(a *domain.Account)     { r.add("creation", a, "") }
func (r *recordingMailer) SendPasswordResetMail(a *domain.Account) { r.add("password_reset", a, "") }
func (r *recordingMailer) SendSocialRegistrationEmail(a *domain.Account, provider string) {
	r.add("social_registration", a, provider)
}

func (r *recordingMailer) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.sent))
	for _, m := range r.sent {
		kinds = append(kinds, m.kind)
	}
	return kinds
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	_ repository.AccountStore               = (*MockAccountStore)(nil)
	_ repository.SocialConnectionRepository = (*MockSocialConnectionRepository)(nil)
	_ repository.AuditEventRepository       = (*MockAuditEventRepository)(nil)
	_ Mailer                                = (*recordingMailer)(nil)
)
