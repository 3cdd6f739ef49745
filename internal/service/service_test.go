package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/damoang/angple-groupbuy/internal/config"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/lock"
	"github.com/damoang/angple-groupbuy/internal/notify"
	"github.com/damoang/angple-groupbuy/internal/repository"
	"github.com/damoang/angple-groupbuy/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MockEmitter 알림 발행 모의 객체
type MockEmitter struct {
	mock.Mock
}

func (m *MockEmitter) Emit(ctx context.Context, n notify.Notification) {
	m.Called(ctx, n)
}

// kinds 발행된 알림 종류 목록
func (m *MockEmitter) kinds() []notify.Kind {
	var out []notify.Kind
	for _, call := range m.Calls {
		if call.Method == "Emit" {
			out = append(out, call.Arguments.Get(1).(notify.Notification).Kind)
		}
	}
	return out
}

func (m *MockEmitter) countKind(kind notify.Kind) int {
	n := 0
	for _, k := range m.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

type testEnv struct {
	db        *gorm.DB
	listings  repository.ListingRepository
	purchases repository.PurchaseRepository
	guard     *ListingGuard
	emitter   *MockEmitter
	clock     *testClock
	cfg       config.GroupBuyConfig

	listingSvc  ListingService
	poolSvc     PoolService
	purchaseSvc PurchaseService
}

func testConfig() config.GroupBuyConfig {
	return config.GroupBuyConfig{
		MaxCASRetries:       3,
		AllowEarlyPickup:    true,
		PickupWindow:        72 * time.Hour,
		MaxSearchRadiusM:    50000,
		DefaultSearchLimit:  50,
		NearCapacityRemains: 1,
	}
}

func newTestEnv(t *testing.T, tweaks ...func(*config.GroupBuyConfig)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	db := testutil.NewTestDB(t)
	listings := repository.NewListingRepository(db)
	purchases := repository.NewPurchaseRepository(db)
	likes := repository.NewLikeRepository(db)
	tx := repository.NewTransactor(db)
	guard := NewListingGuard(tx, listings, lock.NewKeyedMutex(), nil, cfg.MaxCASRetries)

	emitter := new(MockEmitter)
	emitter.On("Emit", mock.Anything, mock.Anything).Return()

	clock := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}

	ls := NewListingService(guard, tx, listings, likes, nil, emitter).(*listingService)
	ls.now = clock.Now

	return &testEnv{
		db:          db,
		listings:    listings,
		purchases:   purchases,
		guard:       guard,
		emitter:     emitter,
		clock:       clock,
		cfg:         cfg,
		listingSvc:  ls,
		poolSvc:     NewPoolService(guard, listings, purchases, emitter, cfg, WithPoolClock(clock.Now)),
		purchaseSvc: NewPurchaseService(guard, tx, purchases, emitter, cfg, WithPurchaseClock(clock.Now)),
	}
}

func validDraft() *domain.ListingDraft {
	return &domain.ListingDraft{
		Title:       "원목 식탁 의자",
		Description: "사용감 적음",
		Category:    "furniture",
		Condition:   domain.ConditionLikeNew,
		Price:       120,
		Images:      []string{"https://cdn.example.com/chair.jpg"},
		Location: &domain.Location{
			Coordinates: [2]float64{126.9780, 37.5665},
			Address:     "서울 중구 세종대로 110",
		},
	}
}

// createListing 판매자 seller 의 가격 price 상품 등록
func (e *testEnv) createListing(t *testing.T, price float64) *domain.Listing {
	t.Helper()
	draft := validDraft()
	draft.Price = price
	l, err := e.listingSvc.Create(context.Background(), domain.Seller{ID: "seller", Name: "판매자", Rating: 4.8}, draft)
	require.NoError(t, err)
	return l
}

// createPool 상품 등록 + 공동구매 설정 (마감 1시간 뒤)
func (e *testEnv) createPool(t *testing.T, price float64, max int, discount float64) *domain.Listing {
	t.Helper()
	l := e.createListing(t, price)
	_, err := e.poolSvc.EnablePool(context.Background(), l.ID, "seller", domain.PoolConfig{
		MaxParticipants: max,
		DiscountPercent: discount,
		EndTime:         e.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return l
}

func (e *testEnv) reload(t *testing.T, id uint64) *domain.Listing {
	t.Helper()
	l, err := e.listings.FindByID(context.Background(), id)
	require.NoError(t, err)
	return l
}
