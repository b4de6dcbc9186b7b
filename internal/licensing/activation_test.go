package licensing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gatekey/gatekey/internal/db"
	"github.com/gatekey/gatekey/internal/marketplace"
	"github.com/gatekey/gatekey/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fakeStore is an in-memory ActivationStore/VerificationStore.
type fakeStore struct {
	mu       sync.Mutex
	licenses map[string]*models.License // keyed by purchase code
	mode     models.ServerMode

	lookupErr  error
	createErr  error
	rotateErr  error
	listErr    error
	modeErr    error
	duplicates int // CreateLicense returns ErrDuplicatePurchaseCode this many times
}

func newFakeStore(mode models.ServerMode) *fakeStore {
	return &fakeStore{
		licenses: make(map[string]*models.License),
		mode:     mode,
	}
}

func (f *fakeStore) GetLicenseByPurchaseCode(_ context.Context, code string) (*models.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	lic, ok := f.licenses[code]
	if !ok {
		return nil, nil
	}
	cp := *lic
	return &cp, nil
}

func (f *fakeStore) CreateLicense(_ context.Context, lic *models.License) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.duplicates > 0 {
		f.duplicates--
		return db.ErrDuplicatePurchaseCode
	}
	if _, exists := f.licenses[lic.PurchaseCode]; exists {
		return db.ErrDuplicatePurchaseCode
	}
	cp := *lic
	f.licenses[lic.PurchaseCode] = &cp
	return nil
}

func (f *fakeStore) RotateLicenseToken(_ context.Context, id uuid.UUID, hash, domain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotateErr != nil {
		return f.rotateErr
	}
	for _, lic := range f.licenses {
		if lic.ID == id {
			lic.TokenHash = hash
			lic.Domain = &domain
			return nil
		}
	}
	return db.ErrNotFound
}

func (f *fakeStore) ListLicenses(_ context.Context) ([]*models.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*models.License, 0, len(f.licenses))
	for _, lic := range f.licenses {
		cp := *lic
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) GetServerMode(_ context.Context) (models.ServerMode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modeErr != nil {
		return models.ModeLive, f.modeErr
	}
	return f.mode, nil
}

// get returns the stored license for a code, bypassing error injection.
func (f *fakeStore) get(code string) *models.License {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.licenses[code]
}

// put seeds a license record.
func (f *fakeStore) put(lic *models.License) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.licenses[lic.PurchaseCode] = lic
}

// fakeVerifier is a canned marketplace.Verifier.
type fakeVerifier struct {
	sale  *marketplace.Sale
	err   error
	calls int
}

func (f *fakeVerifier) VerifySale(_ context.Context, _ string) (*marketplace.Sale, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sale, nil
}

func defaultSale() *marketplace.Sale {
	return &marketplace.Sale{
		ItemID:         "12345",
		ItemName:       "Widget Pro",
		Buyer:          "somebuyer",
		LicenseType:    "Regular License",
		SupportedUntil: "2027-01-01 00:00:00",
	}
}

func newActivation(store *fakeStore, verifier marketplace.Verifier) *ActivationService {
	return NewActivationService(store, verifier, ActivationConfig{ItemID: "12345"}, zerolog.Nop())
}

func wantKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var licErr *Error
	if !errors.As(err, &licErr) {
		t.Fatalf("expected *licensing.Error, got %v", err)
	}
	if licErr.Kind != kind {
		t.Fatalf("expected kind %d, got %d (%s)", kind, licErr.Kind, licErr.Message)
	}
	return licErr
}

func TestActivateMissingInput(t *testing.T) {
	svc := newActivation(newFakeStore(models.ModeLive), &fakeVerifier{sale: defaultSale()})

	_, err := svc.Activate(context.Background(), "", "example.com")
	wantKind(t, err, KindInvalidInput)

	_, err = svc.Activate(context.Background(), "ABC-123", "")
	wantKind(t, err, KindInvalidInput)

	_, err = svc.Activate(context.Background(), "ABC-123", "https://")
	wantKind(t, err, KindInvalidInput)
}

func TestActivateFreshCode(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	verifier := &fakeVerifier{sale: defaultSale()}
	svc := newActivation(store, verifier)

	result, err := svc.Activate(context.Background(), "ABC-123", "HTTPS://Shop.Example.com/")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if result.Token == "" || result.Reactivated {
		t.Fatalf("expected fresh activation with token, got %+v", result)
	}
	if verifier.calls != 1 {
		t.Errorf("expected 1 marketplace call, got %d", verifier.calls)
	}

	lic := store.get("ABC-123")
	if lic == nil {
		t.Fatal("no license record created")
	}
	if lic.Domain == nil || *lic.Domain != "shop.example.com" {
		t.Errorf("domain not normalized: %v", lic.Domain)
	}
	if lic.ItemName != "Widget Pro" || lic.Buyer != "somebuyer" {
		t.Errorf("marketplace metadata not copied: %+v", lic)
	}
	if lic.TokenHash == result.Token {
		t.Error("plaintext token stored instead of hash")
	}
	if !TokenMatchesHash(result.Token, lic.TokenHash) {
		t.Error("stored hash does not match issued token")
	}
}

func TestActivateDomainConflict(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	svc := newActivation(store, &fakeVerifier{sale: defaultSale()})

	first, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	if err != nil {
		t.Fatalf("first Activate: %v", err)
	}
	before := *store.get("ABC-123")

	_, err = svc.Activate(context.Background(), "ABC-123", "other.example.com")
	licErr := wantKind(t, err, KindForbidden)
	if want := "shop.example.com"; !strings.Contains(licErr.Message, want) {
		t.Errorf("conflict message %q does not name bound domain %q", licErr.Message, want)
	}

	// The failed attempt must not mutate the record.
	after := *store.get("ABC-123")
	if before.TokenHash != after.TokenHash || *before.Domain != *after.Domain {
		t.Error("domain conflict mutated the stored record")
	}
	if !TokenMatchesHash(first.Token, after.TokenHash) {
		t.Error("original token no longer matches after failed activation")
	}
}

func TestReactivateRotatesToken(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	svc := newActivation(store, &fakeVerifier{sale: defaultSale()})

	first, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	if err != nil {
		t.Fatalf("first Activate: %v", err)
	}
	activatedAt := store.get("ABC-123").ActivatedAt

	second, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com/")
	if err != nil {
		t.Fatalf("second Activate: %v", err)
	}
	if !second.Reactivated {
		t.Error("expected re-activation")
	}
	if second.Token == first.Token {
		t.Error("re-activation returned the same token")
	}

	lic := store.get("ABC-123")
	if TokenMatchesHash(first.Token, lic.TokenHash) {
		t.Error("first token still matches after rotation")
	}
	if !TokenMatchesHash(second.Token, lic.TokenHash) {
		t.Error("second token does not match stored hash")
	}
	if !lic.ActivatedAt.Equal(activatedAt) {
		t.Error("re-activation changed activated_at")
	}
}

func TestActivateLegacyStoredDomain(t *testing.T) {
	// Records written before normalization was enforced may carry mixed-case
	// domains; the lock compares canonical forms, not raw strings.
	store := newFakeStore(models.ModeLive)
	svc := newActivation(store, &fakeVerifier{sale: defaultSale()})

	legacy := models.NewLicense("ABC-123", "Shop.Example.com", "irrelevant")
	store.put(legacy)

	result, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	if err != nil {
		t.Fatalf("Activate against legacy record: %v", err)
	}
	if !result.Reactivated {
		t.Error("expected re-activation, not a domain conflict")
	}
}

func TestActivateAfterDomainReset(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	svc := newActivation(store, &fakeVerifier{sale: defaultSale()})

	if _, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com"); err != nil {
		t.Fatalf("first Activate: %v", err)
	}
	// Admin cleared the binding.
	store.get("ABC-123").Domain = nil

	result, err := svc.Activate(context.Background(), "ABC-123", "new.example.com")
	if err != nil {
		t.Fatalf("activation after reset: %v", err)
	}
	if !result.Reactivated {
		t.Error("expected re-activation of the existing record")
	}

	lic := store.get("ABC-123")
	if lic.Domain == nil || *lic.Domain != "new.example.com" {
		t.Errorf("new domain not bound: %v", lic.Domain)
	}
	if !TokenMatchesHash(result.Token, lic.TokenHash) {
		t.Error("stored hash does not match issued token")
	}
}

func TestActivateBlockedLicense(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	verifier := &fakeVerifier{sale: defaultSale()}
	svc := newActivation(store, verifier)

	if _, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	store.get("ABC-123").Status = models.LicenseStatusBlocked
	verifier.calls = 0

	_, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	wantKind(t, err, KindForbidden)
	if verifier.calls != 0 {
		t.Error("blocked license should fail before the marketplace call")
	}
}

func TestActivateMarketplaceRejected(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	svc := newActivation(store, &fakeVerifier{
		err: &marketplace.RejectionError{StatusCode: 404, Description: "No sale found with that code"},
	})

	_, err := svc.Activate(context.Background(), "BAD-CODE", "shop.example.com")
	licErr := wantKind(t, err, KindUnauthorized)
	if !strings.Contains(licErr.Message, "No sale found") {
		t.Errorf("rejection description not surfaced: %q", licErr.Message)
	}
	if store.get("BAD-CODE") != nil {
		t.Error("record created for rejected code")
	}
}

func TestActivateAuthorAccountGuidance(t *testing.T) {
	svc := newActivation(newFakeStore(models.ModeLive), &fakeVerifier{
		err: &marketplace.RejectionError{StatusCode: 404, Description: "No sale belonging to the current user found with that code"},
	})

	_, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	licErr := wantKind(t, err, KindUnauthorized)
	if !strings.Contains(licErr.Message, "author") {
		t.Errorf("expected author-account guidance, got %q", licErr.Message)
	}
}

func TestActivateMarketplaceUnreachable(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	svc := newActivation(store, &fakeVerifier{err: errors.New("connection refused")})

	_, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	licErr := wantKind(t, err, KindUnavailable)
	// Internal detail must not leak to the caller.
	if strings.Contains(licErr.Message, "connection refused") {
		t.Errorf("transport error leaked to caller: %q", licErr.Message)
	}
}

func TestActivateWrongProduct(t *testing.T) {
	sale := defaultSale()
	sale.ItemID = "99999"

	// Live mode rejects a sale for a different item.
	svc := newActivation(newFakeStore(models.ModeLive), &fakeVerifier{sale: sale})
	_, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	wantKind(t, err, KindBadRequest)

	// Test mode skips the item check.
	svc = newActivation(newFakeStore(models.ModeTest), &fakeVerifier{sale: sale})
	if _, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com"); err != nil {
		t.Fatalf("test mode should skip the item check: %v", err)
	}
}

func TestActivateTestCodeBypass(t *testing.T) {
	store := newFakeStore(models.ModeTest)
	verifier := &fakeVerifier{sale: defaultSale()}
	svc := newActivation(store, verifier)

	result, err := svc.Activate(context.Background(), TestCode, "shop.example.com")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if result.Token != SentinelTestToken {
		t.Errorf("expected sentinel token, got %q", result.Token)
	}
	if verifier.calls != 0 {
		t.Error("bypass should not call the marketplace")
	}
	if store.get(TestCode) != nil {
		t.Error("bypass should not create a record")
	}
}

func TestActivateTestCodeInLiveMode(t *testing.T) {
	// In live mode TEST-CODE goes through the normal path and gets rejected
	// by the marketplace like any unknown code.
	svc := newActivation(newFakeStore(models.ModeLive), &fakeVerifier{
		err: &marketplace.RejectionError{StatusCode: 404, Description: "No sale found"},
	})

	_, err := svc.Activate(context.Background(), TestCode, "shop.example.com")
	wantKind(t, err, KindUnauthorized)
}

func TestActivateMockCode(t *testing.T) {
	store := newFakeStore(models.ModeTest)
	verifier := &fakeVerifier{sale: defaultSale()}
	svc := newActivation(store, verifier)

	first, err := svc.Activate(context.Background(), "MOCK-001", "shop.example.com")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if verifier.calls != 0 {
		t.Error("mock code should not call the marketplace")
	}
	lic := store.get("MOCK-001")
	if lic == nil {
		t.Fatal("mock record not created")
	}
	if lic.ItemName == "" {
		t.Error("mock record missing placeholder metadata")
	}

	// Re-activation on the same domain rotates the token.
	second, err := svc.Activate(context.Background(), "MOCK-001", "shop.example.com")
	if err != nil {
		t.Fatalf("mock re-activation: %v", err)
	}
	if !second.Reactivated || second.Token == first.Token {
		t.Errorf("expected rotated token on mock re-activation")
	}

	// Domain lock applies to mock records too.
	_, err = svc.Activate(context.Background(), "MOCK-001", "other.example.com")
	wantKind(t, err, KindForbidden)
}

func TestActivateDuplicateInsertRace(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	svc := newActivation(store, &fakeVerifier{sale: defaultSale()})

	// Seed the record the "winning" request would have created, and make the
	// next insert report a uniqueness violation.
	winner := models.NewLicense("ABC-123", "shop.example.com", "irrelevant")
	store.put(winner)
	store.duplicates = 1

	result, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	if err != nil {
		t.Fatalf("losing insert should be retried as re-activation: %v", err)
	}
	if !result.Reactivated {
		t.Error("expected re-activation after duplicate insert")
	}
	if !TokenMatchesHash(result.Token, store.get("ABC-123").TokenHash) {
		t.Error("rotated hash does not match returned token")
	}
}

func TestActivateDuplicateRaceConflictingDomain(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	svc := newActivation(store, &fakeVerifier{sale: defaultSale()})

	winner := models.NewLicense("ABC-123", "other.example.com", "irrelevant")
	store.put(winner)
	store.duplicates = 1

	_, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	wantKind(t, err, KindForbidden)
}

func TestActivateStorageFailure(t *testing.T) {
	store := newFakeStore(models.ModeLive)
	store.lookupErr = errors.New("connection reset")
	svc := newActivation(store, &fakeVerifier{sale: defaultSale()})

	_, err := svc.Activate(context.Background(), "ABC-123", "shop.example.com")
	licErr := wantKind(t, err, KindInternal)
	if strings.Contains(licErr.Message, "connection reset") {
		t.Errorf("storage detail leaked to caller: %q", licErr.Message)
	}
}
