package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/config"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/notify"
	"github.com/damoang/angple-groupbuy/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPickupCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := NewPickupCode()
		require.NoError(t, err)
		require.Len(t, code, PickupCodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(pickupAlphabet, r), "unexpected rune %q", r)
		}
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, 200)
}

func TestPurchaseService_Direct(t *testing.T) {
	ctx := context.Background()

	t.Run("성공 - 판매완료 처리", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 120)

		rec, err := env.purchaseSvc.Purchase(ctx, l.ID, "buyer1")
		require.NoError(t, err)
		assert.False(t, rec.ViaPool)
		assert.InDelta(t, 120.0, rec.Amount, 0.001)
		assert.Equal(t, domain.PurchaseStatusPurchased, rec.Status)
		assert.Len(t, rec.PickupCode, PickupCodeLength)
		assert.Equal(t, "seller", rec.SellerID)
		assert.Equal(t, "서울 중구 세종대로 110", rec.PickupAddress)

		got := env.reload(t, l.ID)
		assert.Equal(t, domain.ListingStatusSold, got.Status)
		require.NotNil(t, got.SoldAt)
	})

	t.Run("실패 - 이미 판매됨", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 120)
		_, err := env.purchaseSvc.Purchase(ctx, l.ID, "buyer1")
		require.NoError(t, err)

		_, err = env.purchaseSvc.Purchase(ctx, l.ID, "buyer2")
		assert.ErrorIs(t, err, common.ErrListingUnavailable)
	})

	t.Run("실패 - 판매자 본인", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 120)
		_, err := env.purchaseSvc.Purchase(ctx, l.ID, "seller")
		assert.ErrorIs(t, err, common.ErrForbidden)
	})

	t.Run("실패 - 상품 없음", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.purchaseSvc.Purchase(ctx, 999, "buyer1")
		assert.ErrorIs(t, err, common.ErrListingNotFound)
	})

	t.Run("실패 - 모집중 풀에 참여자가 있음", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)
		_, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
		require.NoError(t, err)

		_, err = env.purchaseSvc.Purchase(ctx, l.ID, "buyer1")
		assert.ErrorIs(t, err, common.ErrListingUnavailable)
	})

	t.Run("동시 구매 - 한 명만 성공", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 120)

		var wg sync.WaitGroup
		errs := make([]error, 10)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.purchaseSvc.Purchase(ctx, l.ID, fmt.Sprintf("buyer-%d", i))
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, common.ErrListingUnavailable)
		}
		assert.Equal(t, 1, ok)

		n, err := env.purchases.CountActiveByListing(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestPurchaseService_Pool(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t)
	l := env.createPool(t, 100, 2, 20)
	for _, u := range []string{"u1", "u2"} {
		_, err := env.poolSvc.Join(ctx, l.ID, u, "")
		require.NoError(t, err)
	}
	require.Equal(t, domain.ListingStatusReserved, env.reload(t, l.ID).Status)

	_, err := env.purchaseSvc.Purchase(ctx, l.ID, "u3")
	assert.ErrorIs(t, err, common.ErrListingUnavailable)

	rec1, err := env.purchaseSvc.Purchase(ctx, l.ID, "u1")
	require.NoError(t, err)
	assert.True(t, rec1.ViaPool)
	assert.InDelta(t, 80.00, rec1.Amount, 0.001)
	assert.InDelta(t, 100.00, rec1.ListPrice, 0.001)
	assert.Equal(t, domain.ListingStatusReserved, env.reload(t, l.ID).Status)

	// 같은 참여자가 두 번 구매할 수 없다
	_, err = env.purchaseSvc.Purchase(ctx, l.ID, "u1")
	assert.ErrorIs(t, err, common.ErrListingUnavailable)

	rec2, err := env.purchaseSvc.Purchase(ctx, l.ID, "u2")
	require.NoError(t, err)
	assert.NotEqual(t, rec1.PickupCode, rec2.PickupCode)
	assert.Equal(t, domain.ListingStatusSold, env.reload(t, l.ID).Status)
}

func TestPurchaseService_Lifecycle(t *testing.T) {
	ctx := context.Background()

	purchased := func(t *testing.T, env *testEnv) *domain.PurchaseRecord {
		t.Helper()
		l := env.createListing(t, 50)
		rec, err := env.purchaseSvc.Purchase(ctx, l.ID, "buyer1")
		require.NoError(t, err)
		return rec
	}

	t.Run("AdvanceToReady - 중간 단계까지 기록", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)

		got, err := env.purchaseSvc.AdvanceToReady(ctx, rec.ID, "seller", nil)
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusReadyForPickup, got.Status)
		require.NotNil(t, got.PickupWindowStart)
		require.NotNil(t, got.PickupWindowEnd)
		assert.Equal(t, env.cfg.PickupWindow, got.PickupWindowEnd.Sub(*got.PickupWindowStart))

		transitions, err := env.purchaseSvc.ListTransitions(ctx, rec.ID, "buyer1")
		require.NoError(t, err)
		require.Len(t, transitions, 3)
		assert.Equal(t, domain.PurchaseStatusPurchased, transitions[0].ToStatus)
		assert.Equal(t, domain.PurchaseStatusPurchased, transitions[1].FromStatus)
		assert.Equal(t, domain.PurchaseStatusPreparing, transitions[1].ToStatus)
		assert.Equal(t, domain.PurchaseStatusPreparing, transitions[2].FromStatus)
		assert.Equal(t, domain.PurchaseStatusReadyForPickup, transitions[2].ToStatus)
		assert.Equal(t, "seller", transitions[2].ActorID)

		assert.Equal(t, 1, env.emitter.countKind(notify.KindPickupReady))
	})

	t.Run("AdvanceToReady - 지정 시간대", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)
		start := env.clock.Now().Add(24 * time.Hour)
		window := &domain.PickupWindow{Start: start, End: start.Add(2 * time.Hour)}

		got, err := env.purchaseSvc.AdvanceToReady(ctx, rec.ID, "seller", window)
		require.NoError(t, err)
		assert.True(t, start.Equal(*got.PickupWindowStart))
		assert.True(t, start.Add(2*time.Hour).Equal(*got.PickupWindowEnd))
	})

	t.Run("AdvanceToReady - 잘못된 시간대", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)
		now := env.clock.Now()

		_, err := env.purchaseSvc.AdvanceToReady(ctx, rec.ID, "seller", &domain.PickupWindow{Start: now, End: now})
		assert.ErrorIs(t, err, common.ErrValidationFailed)
	})

	t.Run("정상 흐름 - 픽업 완료", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)

		_, err := env.purchaseSvc.StartPreparing(ctx, rec.ID, "seller")
		require.NoError(t, err)
		_, err = env.purchaseSvc.AdvanceToReady(ctx, rec.ID, "seller", nil)
		require.NoError(t, err)

		env.clock.Advance(time.Hour)
		got, err := env.purchaseSvc.ConfirmPickup(ctx, rec.ID, "buyer1")
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusPickedUp, got.Status)
		require.NotNil(t, got.PickedUpAt)
		assert.True(t, env.clock.Now().Equal(*got.PickedUpAt))
	})

	t.Run("실패 - purchased 에서 바로 픽업", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)
		_, err := env.purchaseSvc.ConfirmPickup(ctx, rec.ID, "buyer1")
		assert.ErrorIs(t, err, common.ErrInvalidState)
	})

	t.Run("조기 픽업 허용", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)
		_, err := env.purchaseSvc.StartPreparing(ctx, rec.ID, "seller")
		require.NoError(t, err)

		got, err := env.purchaseSvc.ConfirmPickup(ctx, rec.ID, "buyer1")
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusPickedUp, got.Status)
	})

	t.Run("조기 픽업 비허용", func(t *testing.T) {
		env := newTestEnv(t, func(c *config.GroupBuyConfig) { c.AllowEarlyPickup = false })
		rec := purchased(t, env)
		_, err := env.purchaseSvc.StartPreparing(ctx, rec.ID, "seller")
		require.NoError(t, err)

		_, err = env.purchaseSvc.ConfirmPickup(ctx, rec.ID, "buyer1")
		assert.ErrorIs(t, err, common.ErrInvalidState)
	})

	t.Run("종료 상태는 더 이상 바뀌지 않는다", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)
		_, err := env.purchaseSvc.AdvanceToReady(ctx, rec.ID, "seller", nil)
		require.NoError(t, err)
		_, err = env.purchaseSvc.ConfirmPickup(ctx, rec.ID, "buyer1")
		require.NoError(t, err)

		_, err = env.purchaseSvc.Cancel(ctx, rec.ID, "buyer1", "변심")
		assert.ErrorIs(t, err, common.ErrInvalidState)
		_, err = env.purchaseSvc.StartPreparing(ctx, rec.ID, "seller")
		assert.ErrorIs(t, err, common.ErrInvalidState)
		_, err = env.purchaseSvc.ConfirmPickup(ctx, rec.ID, "buyer1")
		assert.ErrorIs(t, err, common.ErrInvalidState)

		// 되돌리는 전이는 없다
		_, err = env.purchaseSvc.StartPreparing(ctx, purchased(t, env).ID, "seller")
		require.NoError(t, err)
	})

	t.Run("역방향 전이 불가", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)
		_, err := env.purchaseSvc.AdvanceToReady(ctx, rec.ID, "seller", nil)
		require.NoError(t, err)

		_, err = env.purchaseSvc.StartPreparing(ctx, rec.ID, "seller")
		assert.ErrorIs(t, err, common.ErrInvalidState)
	})

	t.Run("권한", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)

		_, err := env.purchaseSvc.StartPreparing(ctx, rec.ID, "buyer1")
		assert.ErrorIs(t, err, common.ErrForbidden)
		_, err = env.purchaseSvc.AdvanceToReady(ctx, rec.ID, "buyer1", nil)
		assert.ErrorIs(t, err, common.ErrForbidden)
		_, err = env.purchaseSvc.ConfirmPickup(ctx, rec.ID, "seller")
		assert.ErrorIs(t, err, common.ErrForbidden)
		_, err = env.purchaseSvc.Cancel(ctx, rec.ID, "stranger", "")
		assert.ErrorIs(t, err, common.ErrForbidden)
		_, err = env.purchaseSvc.Get(ctx, rec.ID, "stranger")
		assert.ErrorIs(t, err, common.ErrForbidden)

		got, err := env.purchaseSvc.Get(ctx, rec.ID, "seller")
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusPurchased, got.Status)
	})

	t.Run("실패 - 기록 없음", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.purchaseSvc.StartPreparing(ctx, 404, "seller")
		assert.ErrorIs(t, err, common.ErrPurchaseNotFound)
	})

	t.Run("픽업 확정과 취소 경합 - 하나만 성공", func(t *testing.T) {
		env := newTestEnv(t)
		rec := purchased(t, env)
		_, err := env.purchaseSvc.AdvanceToReady(ctx, rec.ID, "seller", nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var confirmErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, confirmErr = env.purchaseSvc.ConfirmPickup(ctx, rec.ID, "buyer1")
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = env.purchaseSvc.Cancel(ctx, rec.ID, "seller", "재고 없음")
		}()
		wg.Wait()

		assert.True(t, (confirmErr == nil) != (cancelErr == nil), "confirm=%v cancel=%v", confirmErr, cancelErr)
		if confirmErr != nil {
			assert.ErrorIs(t, confirmErr, common.ErrInvalidState)
		} else {
			assert.ErrorIs(t, cancelErr, common.ErrInvalidState)
		}
	})
}

func TestPurchaseService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("직접 구매 취소 - 재판매", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 120)
		rec, err := env.purchaseSvc.Purchase(ctx, l.ID, "buyer1")
		require.NoError(t, err)

		got, err := env.purchaseSvc.Cancel(ctx, rec.ID, "buyer1", "일정 변경")
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusCancelledRefunded, got.Status)
		assert.Equal(t, "일정 변경", got.CancelReason)
		assert.Nil(t, got.ActiveKey)
		require.NotNil(t, got.CancelledAt)

		listing := env.reload(t, l.ID)
		assert.Equal(t, domain.ListingStatusActive, listing.Status)
		assert.Nil(t, listing.SoldAt)

		transitions, err := env.purchaseSvc.ListTransitions(ctx, rec.ID, "seller")
		require.NoError(t, err)
		require.Len(t, transitions, 2)
		assert.Equal(t, "일정 변경", transitions[1].Reason)
		assert.Equal(t, "buyer1", transitions[1].ActorID)

		// 다시 구매 가능
		again, err := env.purchaseSvc.Purchase(ctx, l.ID, "buyer2")
		require.NoError(t, err)
		assert.NotEqual(t, rec.ID, again.ID)
	})

	t.Run("판매자가 준비중 취소", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 120)
		rec, err := env.purchaseSvc.Purchase(ctx, l.ID, "buyer1")
		require.NoError(t, err)
		_, err = env.purchaseSvc.StartPreparing(ctx, rec.ID, "seller")
		require.NoError(t, err)

		got, err := env.purchaseSvc.Cancel(ctx, rec.ID, "seller", "")
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusCancelledRefunded, got.Status)
		assert.Equal(t, domain.ListingStatusActive, env.reload(t, l.ID).Status)
	})

	t.Run("공동구매 슬롯 취소 - 풀은 그대로", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 2, 20)
		for _, u := range []string{"u1", "u2"} {
			_, err := env.poolSvc.Join(ctx, l.ID, u, "")
			require.NoError(t, err)
		}
		rec, err := env.purchaseSvc.Purchase(ctx, l.ID, "u1")
		require.NoError(t, err)

		_, err = env.purchaseSvc.Cancel(ctx, rec.ID, "u1", "")
		require.NoError(t, err)

		got := env.reload(t, l.ID)
		assert.Equal(t, domain.ListingStatusReserved, got.Status)
		assert.Equal(t, domain.PoolStateFilled, got.Pool.State)
		assert.Equal(t, []string{"u1", "u2"}, participantIDs(got.Pool))

		// 새 참여자는 들어올 수 없다
		_, err = env.poolSvc.Join(ctx, l.ID, "u3", "")
		assert.ErrorIs(t, err, common.ErrPoolFull)

		// 판매완료 전이면 취소한 참여자가 자기 슬롯을 다시 살 수 있다
		again, err := env.purchaseSvc.Purchase(ctx, l.ID, "u1")
		require.NoError(t, err)
		assert.NotEqual(t, rec.ID, again.ID)
	})

	t.Run("모든 슬롯 판매 후 취소 - 판매완료 상품은 재구매 불가", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 2, 20)
		for _, u := range []string{"u1", "u2"} {
			_, err := env.poolSvc.Join(ctx, l.ID, u, "")
			require.NoError(t, err)
		}
		rec1, err := env.purchaseSvc.Purchase(ctx, l.ID, "u1")
		require.NoError(t, err)
		_, err = env.purchaseSvc.Purchase(ctx, l.ID, "u2")
		require.NoError(t, err)
		require.Equal(t, domain.ListingStatusSold, env.reload(t, l.ID).Status)

		_, err = env.purchaseSvc.Cancel(ctx, rec1.ID, "u1", "")
		require.NoError(t, err)
		assert.Equal(t, domain.ListingStatusSold, env.reload(t, l.ID).Status)

		_, err = env.purchaseSvc.Purchase(ctx, l.ID, "u1")
		assert.ErrorIs(t, err, common.ErrListingUnavailable)

		var records int64
		require.NoError(t, env.db.Model(&domain.PurchaseRecord{}).Where("listing_id = ?", l.ID).Count(&records).Error)
		assert.Equal(t, int64(2), records)
	})
}

func TestPurchaseService_PickupCodeCollision(t *testing.T) {
	ctx := context.Background()

	sequence := func(codes ...string) PickupCodeGenerator {
		var mu sync.Mutex
		i := 0
		return func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			code := codes[i%len(codes)]
			i++
			return code, nil
		}
	}

	t.Run("이미 쓰인 코드는 건너뛴다", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewPurchaseService(env.guard, repository.NewTransactor(env.db), env.purchases, env.emitter, env.cfg,
			WithPurchaseClock(env.clock.Now),
			WithPickupCodeGenerator(sequence("AAAAAAAA", "AAAAAAAA", "BBBBBBBB")))

		first, err := svc.Purchase(ctx, env.createListing(t, 10).ID, "buyer1")
		require.NoError(t, err)
		assert.Equal(t, "AAAAAAAA", first.PickupCode)

		second, err := svc.Purchase(ctx, env.createListing(t, 10).ID, "buyer1")
		require.NoError(t, err)
		assert.Equal(t, "BBBBBBBB", second.PickupCode)
	})

	t.Run("코드가 계속 겹치면 실패하고 상품은 그대로", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewPurchaseService(env.guard, repository.NewTransactor(env.db), env.purchases, env.emitter, env.cfg,
			WithPurchaseClock(env.clock.Now),
			WithPickupCodeGenerator(sequence("AAAAAAAA")))

		_, err := svc.Purchase(ctx, env.createListing(t, 10).ID, "buyer1")
		require.NoError(t, err)

		l := env.createListing(t, 10)
		_, err = svc.Purchase(ctx, l.ID, "buyer2")
		require.Error(t, err)
		assert.False(t, errors.Is(err, common.ErrListingUnavailable))
		assert.Equal(t, domain.ListingStatusActive, env.reload(t, l.ID).Status)
	})

	t.Run("생성기 오류 전파", func(t *testing.T) {
		env := newTestEnv(t)
		boom := errors.New("entropy unavailable")
		svc := NewPurchaseService(env.guard, repository.NewTransactor(env.db), env.purchases, env.emitter, env.cfg,
			WithPickupCodeGenerator(func() (string, error) { return "", boom }))

		_, err := svc.Purchase(ctx, env.createListing(t, 10).ID, "buyer1")
		assert.ErrorIs(t, err, boom)
	})
}

func TestPurchaseService_ListMine(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		_, err := env.purchaseSvc.Purchase(ctx, env.createListing(t, 10).ID, "buyer1")
		require.NoError(t, err)
	}
	_, err := env.purchaseSvc.Purchase(ctx, env.createListing(t, 10).ID, "buyer2")
	require.NoError(t, err)

	mine, meta, err := env.purchaseSvc.ListMine(ctx, "buyer1", RoleBuyer, 1, 2)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	assert.Equal(t, int64(3), meta.Total)

	sold, meta, err := env.purchaseSvc.ListMine(ctx, "seller", RoleSeller, 1, 10)
	require.NoError(t, err)
	assert.Len(t, sold, 4)
	assert.Equal(t, int64(4), meta.Total)

	_, _, err = env.purchaseSvc.ListMine(ctx, "buyer1", PurchaseRole("admin"), 1, 10)
	assert.ErrorIs(t, err, common.ErrValidationFailed)
}
