package payment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stratos-brokerage/paycore/pkg/payment"
)

var errDeclined = errors.New("card declined")

type stubProvider struct {
	name          string
	initializeErr error
	authorizeErr  error
	captureErr    error
	refundErr     error
	hangAuthorize bool
	hangCapture   bool
	calls         []string
}

func newStubProvider() *stubProvider {
	return &stubProvider{name: "stubpay"}
}

func (provider *stubProvider) Name() string { return provider.name }

func (provider *stubProvider) Supports(currency payment.Currency, method payment.Method) bool {
	return currency.String() != "XXX"
}

func (provider *stubProvider) Initialize(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	provider.calls = append(provider.calls, "initialize")
	if provider.initializeErr != nil {
		return payment.ProviderResult{}, provider.initializeErr
	}
	return payment.ProviderResult{ProviderPaymentID: "stub_1", Status: payment.ProviderStatusInitialized}, nil
}

func (provider *stubProvider) Authorize(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	provider.calls = append(provider.calls, "authorize")
	if provider.hangAuthorize {
		<-ctx.Done()
		return payment.ProviderResult{}, ctx.Err()
	}
	if provider.authorizeErr != nil {
		return payment.ProviderResult{}, provider.authorizeErr
	}
	return payment.ProviderResult{ProviderPaymentID: "stub_1", Status: payment.ProviderStatusAuthorized}, nil
}

func (provider *stubProvider) Capture(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	provider.calls = append(provider.calls, "capture")
	if provider.hangCapture {
		<-ctx.Done()
		return payment.ProviderResult{}, ctx.Err()
	}
	if provider.captureErr != nil {
		return payment.ProviderResult{}, provider.captureErr
	}
	return payment.ProviderResult{ProviderPaymentID: "stub_1", Status: payment.ProviderStatusCaptured}, nil
}

func (provider *stubProvider) Refund(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	provider.calls = append(provider.calls, "refund")
	if provider.refundErr != nil {
		return payment.ProviderResult{}, provider.refundErr
	}
	return payment.ProviderResult{ProviderPaymentID: "stub_1", Status: payment.ProviderStatusRefunded}, nil
}

func (provider *stubProvider) Get(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	return payment.ProviderResult{ProviderPaymentID: "stub_1"}, nil
}

type stubStore struct {
	mu       sync.Mutex
	payments map[string]payment.Payment
	events   map[string][]payment.PaymentEvent
	nextID   int

	updateErr error
}

func newStubStore() *stubStore {
	return &stubStore{
		payments: make(map[string]payment.Payment),
		events:   make(map[string][]payment.PaymentEvent),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore payment.Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) CreatePayment(ctx context.Context, record *payment.Payment) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextID++
	record.ID = fmt.Sprintf("pay_%d", store.nextID)
	store.payments[record.ID] = *record
	return nil
}

func (store *stubStore) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.payments[paymentID]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	copied := record
	return &copied, nil
}

func (store *stubStore) UpdatePayment(ctx context.Context, record *payment.Payment, expectedVersion int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.updateErr != nil {
		return store.updateErr
	}
	existing, ok := store.payments[record.ID]
	if !ok {
		return payment.ErrPaymentNotFound
	}
	if existing.Version != expectedVersion {
		return payment.ErrVersionConflict
	}
	store.payments[record.ID] = *record
	return nil
}

func (store *stubStore) AppendEvent(ctx context.Context, event payment.PaymentEvent) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.events[event.PaymentID] = append(store.events[event.PaymentID], event)
	return nil
}

func (store *stubStore) ListEvents(ctx context.Context, paymentID string) ([]payment.PaymentEvent, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return append([]payment.PaymentEvent(nil), store.events[paymentID]...), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []payment.LifecycleEvent
	err    error
}

func (publisher *recordingPublisher) Publish(ctx context.Context, event payment.LifecycleEvent) error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.err != nil {
		return publisher.err
	}
	publisher.events = append(publisher.events, event)
	return nil
}

func (publisher *recordingPublisher) topics() []string {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	topics := make([]string, len(publisher.events))
	for index, event := range publisher.events {
		topics[index] = event.Topic
	}
	return topics
}

type ledgerPosting struct {
	refund      bool
	amountMinor int64
}

type recordingPoster struct {
	postings []ledgerPosting
}

func (poster *recordingPoster) PostCapture(ctx context.Context, record *payment.Payment, amountMinor int64) error {
	poster.postings = append(poster.postings, ledgerPosting{amountMinor: amountMinor})
	return nil
}

func (poster *recordingPoster) PostRefund(ctx context.Context, record *payment.Payment, amountMinor int64) error {
	poster.postings = append(poster.postings, ledgerPosting{refund: true, amountMinor: amountMinor})
	return nil
}

type serviceFixture struct {
	service   *payment.Service
	store     *stubStore
	provider  *stubProvider
	publisher *recordingPublisher
	poster    *recordingPoster
}

func newFixture(test *testing.T, options ...payment.ServiceOption) *serviceFixture {
	test.Helper()
	fixture := &serviceFixture{
		store:     newStubStore(),
		provider:  newStubProvider(),
		publisher: &recordingPublisher{},
		poster:    &recordingPoster{},
	}
	registry, err := payment.NewProviderRegistry(fixture.provider)
	if err != nil {
		test.Fatalf("provider registry: %v", err)
	}
	clock := func() int64 { return 1700000000 }
	allOptions := append([]payment.ServiceOption{
		payment.WithPublisher(fixture.publisher),
		payment.WithLedgerPoster(fixture.poster),
	}, options...)
	service, err := payment.NewService(fixture.store, registry, clock, allOptions...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	fixture.service = service
	return fixture
}

func mustCurrency(test *testing.T, raw string) payment.Currency {
	test.Helper()
	currency, err := payment.NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency %q: %v", raw, err)
	}
	return currency
}

func mustMethod(test *testing.T, raw string) payment.Method {
	test.Helper()
	method, err := payment.NewMethod(raw)
	if err != nil {
		test.Fatalf("method %q: %v", raw, err)
	}
	return method
}

func mustInitialize(test *testing.T, fixture *serviceFixture, amountMinor int64) *payment.Payment {
	test.Helper()
	record, err := fixture.service.InitializePayment(context.Background(), payment.InitializeCommand{
		UserID:      "user-1",
		AmountMinor: amountMinor,
		Currency:    mustCurrency(test, "USD"),
		Method:      mustMethod(test, "card"),
	})
	if err != nil {
		test.Fatalf("initialize: %v", err)
	}
	return record
}

func mustAuthorize(test *testing.T, fixture *serviceFixture, paymentID string) *payment.Payment {
	test.Helper()
	record, err := fixture.service.AuthorizePayment(context.Background(), paymentID, "")
	if err != nil {
		test.Fatalf("authorize: %v", err)
	}
	return record
}

func TestInitializePaymentCreatesRecordAndAuditEvent(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)

	record := mustInitialize(test, fixture, 10000)

	if record.Status != payment.StatusInitialized {
		test.Fatalf("status = %s, want %s", record.Status, payment.StatusInitialized)
	}
	if record.Version != 1 {
		test.Fatalf("version = %d, want 1", record.Version)
	}
	if record.Provider != "stubpay" {
		test.Fatalf("provider = %s, want stubpay", record.Provider)
	}
	if record.ProviderPaymentID == "" {
		test.Fatal("provider payment id missing")
	}

	events, err := fixture.service.ListEvents(context.Background(), record.ID)
	if err != nil {
		test.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Type != payment.EventInitialized {
		test.Fatalf("events = %+v, want one initialized event", events)
	}
	topics := fixture.publisher.topics()
	if len(topics) != 1 || topics[0] != payment.TopicInitialized {
		test.Fatalf("published topics = %v", topics)
	}
}

func TestInitializePaymentValidation(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)

	cases := []struct {
		name    string
		command payment.InitializeCommand
		wantErr error
	}{
		{
			name:    "empty user",
			command: payment.InitializeCommand{AmountMinor: 100, Currency: mustCurrency(test, "USD")},
			wantErr: payment.ErrInvalidUserID,
		},
		{
			name:    "zero amount",
			command: payment.InitializeCommand{UserID: "user-1", Currency: mustCurrency(test, "USD")},
			wantErr: payment.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			command: payment.InitializeCommand{UserID: "user-1", AmountMinor: -5, Currency: mustCurrency(test, "USD")},
			wantErr: payment.ErrInvalidAmount,
		},
		{
			name:    "missing currency",
			command: payment.InitializeCommand{UserID: "user-1", AmountMinor: 100},
			wantErr: payment.ErrInvalidCurrency,
		},
	}
	for _, testCase := range cases {
		_, err := fixture.service.InitializePayment(context.Background(), testCase.command)
		if !errors.Is(err, testCase.wantErr) {
			test.Fatalf("%s: err = %v, want %v", testCase.name, err, testCase.wantErr)
		}
	}
}

func TestInitializePaymentUnsupportedCurrency(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)

	_, err := fixture.service.InitializePayment(context.Background(), payment.InitializeCommand{
		UserID:      "user-1",
		AmountMinor: 100,
		Currency:    mustCurrency(test, "XXX"),
	})
	if !errors.Is(err, payment.ErrUnsupportedCurrency) {
		test.Fatalf("err = %v, want %v", err, payment.ErrUnsupportedCurrency)
	}
	if len(fixture.provider.calls) != 0 {
		test.Fatalf("provider called %v before support check", fixture.provider.calls)
	}
}

func TestAuthorizePaymentSetsFullAuthorization(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)

	record := mustAuthorize(test, fixture, created.ID)

	if record.Status != payment.StatusAuthorized {
		test.Fatalf("status = %s, want %s", record.Status, payment.StatusAuthorized)
	}
	if record.AuthorizedMinor != 10000 {
		test.Fatalf("authorized = %d, want 10000", record.AuthorizedMinor)
	}
	if record.Version != 2 {
		test.Fatalf("version = %d, want 2", record.Version)
	}
}

func TestAuthorizePaymentDeclineTransitionsToFailed(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	fixture.provider.authorizeErr = errDeclined
	created := mustInitialize(test, fixture, 10000)

	_, err := fixture.service.AuthorizePayment(context.Background(), created.ID, "")
	if !errors.Is(err, payment.ErrProviderDeclined) {
		test.Fatalf("err = %v, want %v", err, payment.ErrProviderDeclined)
	}

	stored, err := fixture.service.GetPayment(context.Background(), created.ID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if stored.Status != payment.StatusFailed {
		test.Fatalf("status = %s, want %s", stored.Status, payment.StatusFailed)
	}
	events, _ := fixture.service.ListEvents(context.Background(), created.ID)
	if len(events) != 2 || events[1].Type != payment.EventFailed {
		test.Fatalf("events = %+v, want failed audit event appended", events)
	}
}

func TestAuthorizePaymentTimeoutLeavesStatusUnchanged(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test, payment.WithProviderTimeout(20*time.Millisecond))
	fixture.provider.hangAuthorize = true
	created := mustInitialize(test, fixture, 10000)

	_, err := fixture.service.AuthorizePayment(context.Background(), created.ID, "")
	if !errors.Is(err, payment.ErrProviderTimeout) {
		test.Fatalf("err = %v, want %v", err, payment.ErrProviderTimeout)
	}

	stored, err := fixture.service.GetPayment(context.Background(), created.ID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if stored.Status != payment.StatusInitialized {
		test.Fatalf("status = %s, want unchanged %s", stored.Status, payment.StatusInitialized)
	}
	if stored.Version != 1 {
		test.Fatalf("version = %d, want unchanged 1", stored.Version)
	}
}

func TestAuthorizePaymentInvalidTransition(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)
	mustAuthorize(test, fixture, created.ID)

	_, err := fixture.service.AuthorizePayment(context.Background(), created.ID, "")
	if !errors.Is(err, payment.ErrInvalidTransition) {
		test.Fatalf("err = %v, want %v", err, payment.ErrInvalidTransition)
	}
}

func TestCapturePaymentPartialThenFull(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)
	mustAuthorize(test, fixture, created.ID)

	first, err := fixture.service.CapturePayment(context.Background(), created.ID, 4000, "")
	if err != nil {
		test.Fatalf("first capture: %v", err)
	}
	if first.CapturedMinor != 4000 || first.Status != payment.StatusCaptured {
		test.Fatalf("after first capture: captured=%d status=%s", first.CapturedMinor, first.Status)
	}

	second, err := fixture.service.CapturePayment(context.Background(), created.ID, 6000, "")
	if err != nil {
		test.Fatalf("second capture: %v", err)
	}
	if second.CapturedMinor != 10000 {
		test.Fatalf("captured = %d, want 10000", second.CapturedMinor)
	}

	_, err = fixture.service.CapturePayment(context.Background(), created.ID, 1, "")
	if !errors.Is(err, payment.ErrCaptureExceedsAuth) {
		test.Fatalf("err = %v, want %v", err, payment.ErrCaptureExceedsAuth)
	}
}

func TestCapturePaymentZeroMeansRemaining(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)
	mustAuthorize(test, fixture, created.ID)

	if _, err := fixture.service.CapturePayment(context.Background(), created.ID, 2500, ""); err != nil {
		test.Fatalf("partial capture: %v", err)
	}
	record, err := fixture.service.CapturePayment(context.Background(), created.ID, 0, "")
	if err != nil {
		test.Fatalf("remaining capture: %v", err)
	}
	if record.CapturedMinor != 10000 {
		test.Fatalf("captured = %d, want 10000", record.CapturedMinor)
	}
}

func TestCapturePaymentPostsLedgerAndPublishes(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)
	mustAuthorize(test, fixture, created.ID)

	if _, err := fixture.service.CapturePayment(context.Background(), created.ID, 4000, "trace-7"); err != nil {
		test.Fatalf("capture: %v", err)
	}

	if len(fixture.poster.postings) != 1 {
		test.Fatalf("postings = %+v, want one capture posting", fixture.poster.postings)
	}
	posting := fixture.poster.postings[0]
	if posting.refund || posting.amountMinor != 4000 {
		test.Fatalf("posting = %+v, want capture of 4000", posting)
	}
	topics := fixture.publisher.topics()
	want := []string{payment.TopicInitialized, payment.TopicAuthorized, payment.TopicCaptured}
	if len(topics) != len(want) {
		test.Fatalf("topics = %v, want %v", topics, want)
	}
	for index := range want {
		if topics[index] != want[index] {
			test.Fatalf("topics = %v, want %v", topics, want)
		}
	}
	last := fixture.publisher.events[len(fixture.publisher.events)-1]
	if last.AmountMinor != 4000 || last.TraceID != "trace-7" {
		test.Fatalf("captured event = %+v", last)
	}
}

func TestCapturePaymentDeclineLeavesCapturedTotal(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)
	mustAuthorize(test, fixture, created.ID)
	if _, err := fixture.service.CapturePayment(context.Background(), created.ID, 4000, ""); err != nil {
		test.Fatalf("capture: %v", err)
	}

	fixture.provider.captureErr = errDeclined
	_, err := fixture.service.CapturePayment(context.Background(), created.ID, 1000, "")
	if !errors.Is(err, payment.ErrProviderDeclined) {
		test.Fatalf("err = %v, want %v", err, payment.ErrProviderDeclined)
	}

	stored, _ := fixture.service.GetPayment(context.Background(), created.ID)
	if stored.CapturedMinor != 4000 {
		test.Fatalf("captured = %d, want unchanged 4000", stored.CapturedMinor)
	}
	if stored.Status != payment.StatusCaptured {
		test.Fatalf("status = %s, want %s", stored.Status, payment.StatusCaptured)
	}
}

func TestRefundPaymentFullSetsRefunded(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)
	mustAuthorize(test, fixture, created.ID)
	if _, err := fixture.service.CapturePayment(context.Background(), created.ID, 0, ""); err != nil {
		test.Fatalf("capture: %v", err)
	}

	record, err := fixture.service.RefundPayment(context.Background(), created.ID, 0, "")
	if err != nil {
		test.Fatalf("refund: %v", err)
	}
	if record.Status != payment.StatusRefunded {
		test.Fatalf("status = %s, want %s", record.Status, payment.StatusRefunded)
	}
	if record.RefundedMinor != 10000 {
		test.Fatalf("refunded = %d, want 10000", record.RefundedMinor)
	}

	_, err = fixture.service.RefundPayment(context.Background(), created.ID, 1, "")
	if !errors.Is(err, payment.ErrInvalidTransition) {
		test.Fatalf("refund after terminal: err = %v, want %v", err, payment.ErrInvalidTransition)
	}
}

func TestRefundPaymentPartialStaysCaptured(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)
	mustAuthorize(test, fixture, created.ID)
	if _, err := fixture.service.CapturePayment(context.Background(), created.ID, 0, ""); err != nil {
		test.Fatalf("capture: %v", err)
	}

	record, err := fixture.service.RefundPayment(context.Background(), created.ID, 3000, "")
	if err != nil {
		test.Fatalf("refund: %v", err)
	}
	if record.Status != payment.StatusCaptured {
		test.Fatalf("status = %s, want %s", record.Status, payment.StatusCaptured)
	}
	if record.RefundableRemaining() != 7000 {
		test.Fatalf("refundable = %d, want 7000", record.RefundableRemaining())
	}

	_, err = fixture.service.RefundPayment(context.Background(), created.ID, 8000, "")
	if !errors.Is(err, payment.ErrRefundExceedsCapture) {
		test.Fatalf("err = %v, want %v", err, payment.ErrRefundExceedsCapture)
	}

	posting := fixture.poster.postings[len(fixture.poster.postings)-1]
	if !posting.refund || posting.amountMinor != 3000 {
		test.Fatalf("posting = %+v, want refund of 3000", posting)
	}
}

func TestRefundPaymentRequiresCapturedStatus(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)
	mustAuthorize(test, fixture, created.ID)

	_, err := fixture.service.RefundPayment(context.Background(), created.ID, 1000, "")
	if !errors.Is(err, payment.ErrInvalidTransition) {
		test.Fatalf("err = %v, want %v", err, payment.ErrInvalidTransition)
	}
}

func TestTransitionVersionConflictSurfaces(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	created := mustInitialize(test, fixture, 10000)
	fixture.store.updateErr = payment.ErrVersionConflict

	_, err := fixture.service.AuthorizePayment(context.Background(), created.ID, "")
	if !errors.Is(err, payment.ErrVersionConflict) {
		test.Fatalf("err = %v, want %v", err, payment.ErrVersionConflict)
	}
}

func TestGetPaymentNotFound(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)

	_, err := fixture.service.GetPayment(context.Background(), "missing")
	if !errors.Is(err, payment.ErrPaymentNotFound) {
		test.Fatalf("err = %v, want %v", err, payment.ErrPaymentNotFound)
	}
}

func TestPublishFailureDoesNotFailOperation(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	fixture.publisher.err = errors.New("broker down")

	record := mustInitialize(test, fixture, 10000)
	if record.Status != payment.StatusInitialized {
		test.Fatalf("status = %s, want %s", record.Status, payment.StatusInitialized)
	}
}
