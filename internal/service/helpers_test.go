package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/templui/linkpage/internal/db/dbtest"
	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/repository"
	"github.com/templui/linkpage/internal/service/payment"
)

const testPassword = "violet-otter-canoe-42"

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	to      string
	subject string
	text    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) Send(_ context.Context, to, subject, text, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, text: text})
	return nil
}

func (m *fakeMailer) To(to string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, mail := range m.sent {
		if mail.to == to {
			out = append(out, mail)
		}
	}
	return out
}

type fakeGateway struct {
	mu         sync.Mutex
	customers  map[string]string
	deleted    []string
	sessions   map[string]*payment.CheckoutSession
	nextID     int
	failWith   error
	webhookErr error
	event      *payment.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		customers: map[string]string{},
		sessions:  map[string]*payment.CheckoutSession{},
	}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateCustomer(_ context.Context, email string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return "", g.failWith
	}
	g.nextID++
	id := fmt.Sprintf("cus_%d", g.nextID)
	g.customers[id] = email
	return id, nil
}

func (g *fakeGateway) UpdateCustomerEmail(_ context.Context, customerID, email string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return g.failWith
	}
	g.customers[customerID] = email
	return nil
}

func (g *fakeGateway) DeleteCustomer(_ context.Context, customerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, customerID)
	delete(g.customers, customerID)
	return g.failWith
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, customerID, priceID, successURL, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return "", g.failWith
	}
	id := fmt.Sprintf("cs_%d", len(g.sessions)+1)
	g.sessions[id] = &payment.CheckoutSession{ID: id, CustomerID: customerID}
	return "https://pay.test/" + id + "?price=" + priceID + "&success=" + successURL, nil
}

func (g *fakeGateway) RetrieveCheckoutSession(_ context.Context, sessionID string) (*payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return nil, g.failWith
	}
	session, ok := g.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	copied := *session
	return &copied, nil
}

func (g *fakeGateway) ParseWebhook(_ []byte, _ http.Header) (*payment.Event, error) {
	if g.webhookErr != nil {
		return nil, g.webhookErr
	}
	return g.event, nil
}

func (g *fakeGateway) complete(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sessionID].Complete = true
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

const fakeStorageURL = "https://cdn.test/"

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (s *fakeStorage) Save(_ context.Context, path string, body io.Reader, _ string) error {
	var buf bytes.Buffer
	_, err := io.Copy(&buf, body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = buf.Bytes()
	return nil
}

func (s *fakeStorage) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *fakeStorage) URL(path string) string {
	return fakeStorageURL + path
}

func (s *fakeStorage) PathFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, fakeStorageURL) {
		return "", false
	}
	return strings.TrimPrefix(url, fakeStorageURL), true
}

func (s *fakeStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// fixture wires every service over one migrated sqlite database with fake
// collaborators and a fixed clock.
type fixture struct {
	accounts    repository.AccountRepository
	credentials repository.CredentialRepository
	tokens      repository.TokenRepository
	auditLog    repository.AuditRepository

	clock   *fakeClock
	mailer  *fakeMailer
	gateway *fakeGateway
	storage *fakeStorage

	audit      *AuditService
	tokenSvc   *TokenService
	lifecycle  *LifecycleStateMachine
	reconciler *SubscriptionReconciler
	billing    *BillingService
	email      *EmailService
	accountSvc *AccountService
	moderation *ModerationEngine

	tokenSeq int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)

	f := &fixture{
		accounts:    repository.NewAccountRepository(conn),
		credentials: repository.NewCredentialRepository(conn),
		tokens:      repository.NewTokenRepository(conn),
		auditLog:    repository.NewAuditRepository(conn),
		clock:       &fakeClock{now: fixedNow},
		mailer:      &fakeMailer{},
		gateway:     newFakeGateway(),
		storage:     newFakeStorage(),
	}

	f.audit = NewAuditService(f.auditLog)
	f.audit.now = f.clock.Now

	f.tokenSvc = NewTokenService(f.tokens, f.accounts, f.audit, DefaultTokenValidity)
	f.tokenSvc.now = f.clock.Now
	f.tokenSvc.generate = func() (string, error) {
		f.tokenSeq++
		return fmt.Sprintf("tok%029d", f.tokenSeq), nil
	}

	f.lifecycle = NewLifecycleStateMachine(f.accounts, f.tokenSvc, f.audit)

	f.reconciler = NewSubscriptionReconciler(f.accounts, f.credentials, f.audit)
	f.reconciler.now = f.clock.Now

	f.billing = NewBillingService(f.gateway, f.credentials, f.reconciler, "price_123", "https://links.test")
	f.email = NewEmailService(f.mailer, "https://links.test", "linkpage")

	f.accountSvc = NewAccountService(f.accounts, f.credentials, f.tokenSvc, f.lifecycle, f.email, f.billing, f.audit, f.storage, DefaultUsernameCooldown)
	f.accountSvc.now = f.clock.Now

	f.moderation = NewModerationEngine(f.accounts, f.credentials, f.lifecycle, f.audit, f.billing, f.email, f.storage)
	f.moderation.now = f.clock.Now

	return f
}

// seed inserts an account directly at the given level.
func (f *fixture) seed(t *testing.T, username string, level model.VerificationLevel) *model.Account {
	t.Helper()
	hash, err := hashPassword(testPassword)
	require.NoError(t, err)

	account := model.NewAccount(username, level, f.clock.Now().Add(-30*24*time.Hour))
	if level == model.LevelStaff {
		account.Paid = true
		account.SubscriptionExpiry = model.ExpiryForever
	}
	err = f.accounts.Create(context.Background(), account, &model.Credential{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return account
}

func (f *fixture) reload(t *testing.T, username string) *model.Account {
	t.Helper()
	account, err := f.accounts.ByUsername(context.Background(), username)
	require.NoError(t, err)
	return account
}

func (f *fixture) auditMessages(t *testing.T) []string {
	t.Helper()
	entries, err := f.auditLog.Recent(context.Background(), 500)
	require.NoError(t, err)
	messages := make([]string, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, e.Message)
	}
	return messages
}

// lastToken is the most recent value handed out by the fixture's generator.
func (f *fixture) lastToken() string {
	return fmt.Sprintf("tok%029d", f.tokenSeq)
}
