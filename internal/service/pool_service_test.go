package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/damoang/angple-groupbuy/internal/common"
	"github.com/damoang/angple-groupbuy/internal/config"
	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestPoolService_EnablePool(t *testing.T) {
	ctx := context.Background()

	t.Run("성공", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 100)
		end := env.clock.Now().Add(2 * time.Hour)

		snap, err := env.poolSvc.EnablePool(ctx, l.ID, "seller", domain.PoolConfig{MaxParticipants: 5, DiscountPercent: 15, EndTime: end})
		require.NoError(t, err)
		assert.Equal(t, domain.PoolStateOpen, snap.State)
		assert.Equal(t, 5, snap.Remaining)
		assert.True(t, end.Equal(*snap.EndTime))
	})

	tests := []struct {
		name string
		cfg  func(now time.Time) domain.PoolConfig
	}{
		{"max 0", func(now time.Time) domain.PoolConfig {
			return domain.PoolConfig{MaxParticipants: 0, EndTime: now.Add(time.Hour)}
		}},
		{"할인율 음수", func(now time.Time) domain.PoolConfig {
			return domain.PoolConfig{MaxParticipants: 2, DiscountPercent: -1, EndTime: now.Add(time.Hour)}
		}},
		{"할인율 100 초과", func(now time.Time) domain.PoolConfig {
			return domain.PoolConfig{MaxParticipants: 2, DiscountPercent: 101, EndTime: now.Add(time.Hour)}
		}},
		{"마감이 과거", func(now time.Time) domain.PoolConfig {
			return domain.PoolConfig{MaxParticipants: 2, EndTime: now.Add(-time.Minute)}
		}},
	}
	for _, tt := range tests {
		t.Run("실패 - "+tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			l := env.createListing(t, 100)
			_, err := env.poolSvc.EnablePool(ctx, l.ID, "seller", tt.cfg(env.clock.Now()))
			assert.ErrorIs(t, err, common.ErrInvalidPoolConfig)
		})
	}

	t.Run("실패 - 판매중이 아님", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 100)
		_, err := env.listingSvc.UpdateStatus(ctx, l.ID, "seller", domain.ListingStatusSold)
		require.NoError(t, err)

		_, err = env.poolSvc.EnablePool(ctx, l.ID, "seller", domain.PoolConfig{MaxParticipants: 2, EndTime: env.clock.Now().Add(time.Hour)})
		assert.ErrorIs(t, err, common.ErrListingNotEligible)
	})

	t.Run("재설정 - 빈 풀만 가능", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)

		snap, err := env.poolSvc.EnablePool(ctx, l.ID, "seller", domain.PoolConfig{MaxParticipants: 4, DiscountPercent: 20, EndTime: env.clock.Now().Add(3 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, 4, snap.MaxParticipants)

		_, err = env.poolSvc.Join(ctx, l.ID, "u1", "")
		require.NoError(t, err)

		_, err = env.poolSvc.EnablePool(ctx, l.ID, "seller", domain.PoolConfig{MaxParticipants: 2, EndTime: env.clock.Now().Add(time.Hour)})
		assert.ErrorIs(t, err, common.ErrListingNotEligible)
	})

	t.Run("실패 - 판매자가 아님", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 100)
		_, err := env.poolSvc.EnablePool(ctx, l.ID, "other", domain.PoolConfig{MaxParticipants: 2, EndTime: env.clock.Now().Add(time.Hour)})
		assert.ErrorIs(t, err, common.ErrForbidden)
	})
}

func TestPoolService_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("정원 3 에 5명 순서대로", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 20)

		var results []error
		for i := 1; i <= 5; i++ {
			_, err := env.poolSvc.Join(ctx, l.ID, fmt.Sprintf("u%d", i), fmt.Sprintf("참여자%d", i))
			results = append(results, err)
		}

		assert.NoError(t, results[0])
		assert.NoError(t, results[1])
		assert.NoError(t, results[2])
		assert.ErrorIs(t, results[3], common.ErrPoolFull)
		assert.ErrorIs(t, results[4], common.ErrPoolFull)

		got := env.reload(t, l.ID)
		assert.Equal(t, domain.PoolStateFilled, got.Pool.State)
		assert.Equal(t, domain.ListingStatusReserved, got.Status)
		assert.Equal(t, 3, got.Pool.CurrentParticipants)
		assert.Equal(t, []string{"u1", "u2", "u3"}, participantIDs(got.Pool))
		require.NoError(t, got.Pool.CheckInvariant())

		assert.Equal(t, 1, env.emitter.countKind(notify.KindPoolFilled))
		// 두 번째 참여 후 남은 자리 1
		assert.Equal(t, 1, env.emitter.countKind(notify.KindPoolNearCapacity))
	})

	t.Run("정원 1 - 첫 참여로 모집 완료", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 1, 10)

		res, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
		require.NoError(t, err)
		assert.True(t, res.Filled)
		assert.Equal(t, domain.PoolStateFilled, res.Pool.State)

		_, err = env.poolSvc.Join(ctx, l.ID, "u2", "")
		assert.ErrorIs(t, err, common.ErrPoolFull)
	})

	t.Run("실패 - 풀 없음", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 100)
		_, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
		assert.ErrorIs(t, err, common.ErrPoolNotFound)
	})

	t.Run("실패 - 중복 참여", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)
		_, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
		require.NoError(t, err)

		_, err = env.poolSvc.Join(ctx, l.ID, "u1", "")
		assert.ErrorIs(t, err, common.ErrAlreadyJoined)
		assert.Equal(t, 1, env.reload(t, l.ID).Pool.CurrentParticipants)
	})

	t.Run("실패 - 마감 지남", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)
		env.clock.Advance(time.Hour + time.Second)

		_, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
		assert.ErrorIs(t, err, common.ErrPoolExpired)
	})

	t.Run("실패 - 판매 불가 상품", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)
		_, err := env.listingSvc.UpdateStatus(ctx, l.ID, "seller", domain.ListingStatusSold)
		require.NoError(t, err)

		_, err = env.poolSvc.Join(ctx, l.ID, "u1", "")
		assert.ErrorIs(t, err, common.ErrListingUnavailable)
	})

	t.Run("실패 - 판매자 본인", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)
		_, err := env.poolSvc.Join(ctx, l.ID, "seller", "")
		assert.ErrorIs(t, err, common.ErrForbidden)
	})
}

func TestPoolService_JoinConcurrent(t *testing.T) {
	ctx := context.Background()

	t.Run("N명이 동시에 정원 K 풀에 참여", func(t *testing.T) {
		const n, k = 20, 5
		env := newTestEnv(t)
		l := env.createPool(t, 100, k, 10)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
			full    int
			other   []error
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := env.poolSvc.Join(ctx, l.ID, fmt.Sprintf("user-%02d", i), "")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					success++
				case errors.Is(err, common.ErrPoolFull):
					full++
				default:
					other = append(other, err)
				}
			}(i)
		}
		wg.Wait()

		assert.Empty(t, other)
		assert.Equal(t, k, success)
		assert.Equal(t, n-k, full)

		got := env.reload(t, l.ID)
		assert.Equal(t, k, got.Pool.CurrentParticipants)
		assert.Equal(t, domain.PoolStateFilled, got.Pool.State)
		require.NoError(t, got.Pool.CheckInvariant())
		assert.Equal(t, 1, env.emitter.countKind(notify.KindPoolFilled))
	})

	t.Run("같은 사용자가 동시에 여러 번 참여", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 5, 10)

		var wg sync.WaitGroup
		errs := make([]error, 10)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.poolSvc.Join(ctx, l.ID, "same-user", "")
			}(i)
		}
		wg.Wait()

		ok, dup := 0, 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else if errors.Is(err, common.ErrAlreadyJoined) {
				dup++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 9, dup)
		assert.Equal(t, 1, env.reload(t, l.ID).Pool.CurrentParticipants)
	})
}

func TestPoolService_Leave(t *testing.T) {
	ctx := context.Background()

	t.Run("성공 - 탈퇴 후 자리 복구", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)
		_, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
		require.NoError(t, err)
		_, err = env.poolSvc.Join(ctx, l.ID, "u2", "")
		require.NoError(t, err)

		snap, err := env.poolSvc.Leave(ctx, l.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, snap.CurrentParticipants)
		assert.Equal(t, "u2", snap.Participants[0].UserID)

		// 다시 참여하면 맨 뒤
		_, err = env.poolSvc.Join(ctx, l.ID, "u1", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"u2", "u1"}, participantIDs(env.reload(t, l.ID).Pool))
	})

	t.Run("참여하지 않은 사용자는 no-op", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)
		before := env.reload(t, l.ID).Version

		snap, err := env.poolSvc.Leave(ctx, l.ID, "stranger")
		require.NoError(t, err)
		assert.Equal(t, 0, snap.CurrentParticipants)
		assert.Equal(t, before, env.reload(t, l.ID).Version)
	})

	t.Run("실패 - 모집 완료", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 1, 10)
		_, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
		require.NoError(t, err)

		_, err = env.poolSvc.Leave(ctx, l.ID, "u1")
		assert.ErrorIs(t, err, common.ErrPoolAlreadyFilled)
	})

	t.Run("마감된 풀에서도 나갈 수 있다", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)
		_, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
		require.NoError(t, err)
		env.clock.Advance(2 * time.Hour)

		snap, err := env.poolSvc.Leave(ctx, l.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, snap.CurrentParticipants)
		assert.Equal(t, domain.PoolStateExpired, snap.State)

		// 다시 들어올 수는 없다
		_, err = env.poolSvc.Join(ctx, l.ID, "u1", "")
		assert.ErrorIs(t, err, common.ErrPoolExpired)
	})

	t.Run("실패 - 풀 없음", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 100)
		_, err := env.poolSvc.Leave(ctx, l.ID, "u1")
		assert.ErrorIs(t, err, common.ErrPoolNotFound)
	})
}

func TestPoolService_ExpiredWithParticipants(t *testing.T) {
	ctx := context.Background()

	// 참여자 1명이 남은 채로 마감된 풀
	setup := func(t *testing.T) (*testEnv, *domain.Listing) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 3, 10)
		_, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
		require.NoError(t, err)
		env.clock.Advance(2 * time.Hour)
		n, err := env.poolSvc.SweepExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		return env, l
	}

	t.Run("직접 구매 가능", func(t *testing.T) {
		env, l := setup(t)
		rec, err := env.purchaseSvc.Purchase(ctx, l.ID, "buyer1")
		require.NoError(t, err)
		assert.False(t, rec.ViaPool)
		assert.Equal(t, 100.0, rec.Amount)
		assert.Equal(t, domain.ListingStatusSold, env.reload(t, l.ID).Status)
	})

	t.Run("판매자가 다시 설정하면 참여자를 비우고 연다", func(t *testing.T) {
		env, l := setup(t)
		snap, err := env.poolSvc.EnablePool(ctx, l.ID, "seller", domain.PoolConfig{
			MaxParticipants: 2,
			DiscountPercent: 15,
			EndTime:         env.clock.Now().Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PoolStateOpen, snap.State)
		assert.Equal(t, 0, snap.CurrentParticipants)
		assert.Empty(t, env.reload(t, l.ID).Pool.Participants)

		_, err = env.poolSvc.Join(ctx, l.ID, "u1", "")
		assert.NoError(t, err)
	})

	t.Run("상품 내리기 가능", func(t *testing.T) {
		env, l := setup(t)
		require.NoError(t, env.listingSvc.Deactivate(ctx, l.ID, "seller"))
		assert.Equal(t, domain.ListingStatusInactive, env.reload(t, l.ID).Status)
	})
}

func TestPoolService_SweepExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("마감 지난 모집중 풀만 expired", func(t *testing.T) {
		env := newTestEnv(t)
		expiring := env.createPool(t, 100, 3, 10)
		_, err := env.poolSvc.Join(ctx, expiring.ID, "u1", "")
		require.NoError(t, err)

		filled := env.createPool(t, 100, 1, 10)
		_, err = env.poolSvc.Join(ctx, filled.ID, "u1", "")
		require.NoError(t, err)

		env.clock.Advance(30 * time.Minute)
		later := env.createPool(t, 100, 3, 10) // 마감 1시간 30분 뒤

		env.clock.Advance(31 * time.Minute)
		n, err := env.poolSvc.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		assert.Equal(t, domain.PoolStateExpired, env.reload(t, expiring.ID).Pool.State)
		assert.Equal(t, domain.PoolStateFilled, env.reload(t, filled.ID).Pool.State)
		assert.Equal(t, domain.PoolStateOpen, env.reload(t, later.ID).Pool.State)

		// 참여자 명단은 그대로
		assert.Equal(t, []string{"u1"}, participantIDs(env.reload(t, expiring.ID).Pool))

		_, err = env.poolSvc.Join(ctx, expiring.ID, "u2", "")
		assert.ErrorIs(t, err, common.ErrPoolExpired)

		n, err = env.poolSvc.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("마감 처리와 참여가 겹쳐도 불변식 유지", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createPool(t, 100, 10, 10)
		env.clock.Advance(time.Hour + time.Millisecond)

		var wg sync.WaitGroup
		joinErrs := make([]error, 5)
		for i := range joinErrs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, joinErrs[i] = env.poolSvc.Join(ctx, l.ID, fmt.Sprintf("late-%d", i), "")
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.poolSvc.SweepExpired(ctx)
		}()
		wg.Wait()

		for _, err := range joinErrs {
			assert.ErrorIs(t, err, common.ErrPoolExpired)
		}
		got := env.reload(t, l.ID)
		assert.Equal(t, 0, got.Pool.CurrentParticipants)
		assert.Equal(t, domain.PoolStateExpired, got.Pool.State)
	})
}

func TestPoolService_AutoCheckout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *config.GroupBuyConfig) { c.AutoCheckoutOnFill = true })
	l := env.createPool(t, 100, 2, 20)

	_, err := env.poolSvc.Join(ctx, l.ID, "u1", "")
	require.NoError(t, err)
	res, err := env.poolSvc.Join(ctx, l.ID, "u2", "")
	require.NoError(t, err)
	assert.True(t, res.Filled)

	got := env.reload(t, l.ID)
	assert.Equal(t, domain.ListingStatusSold, got.Status)

	for _, buyer := range []string{"u1", "u2"} {
		records, _, err := env.purchaseSvc.ListMine(ctx, buyer, RoleBuyer, 1, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, records[0].ViaPool)
		assert.InDelta(t, 80.00, records[0].Amount, 0.001)
	}
}

func TestListingGuard_CASRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("다른 쓰기와 충돌하면 다시 읽고 재시도", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 100)

		attempts := 0
		got, err := env.guard.Mutate(ctx, l.ID, "test", func(tx *gorm.DB, cur *domain.Listing) (bool, error) {
			attempts++
			if attempts == 1 {
				// 다른 인스턴스의 선행 쓰기 흉내. CAS 실패로 롤백된다
				require.NoError(t, tx.Model(&domain.Listing{}).Where("id = ?", cur.ID).
					UpdateColumn("version", gorm.Expr("version + 1")).Error)
			}
			cur.Status = domain.ListingStatusReserved
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, domain.ListingStatusReserved, got.Status)
		assert.Equal(t, uint64(1), env.reload(t, l.ID).Version)
	})

	t.Run("재시도 한도 초과", func(t *testing.T) {
		env := newTestEnv(t)
		l := env.createListing(t, 100)
		guard := NewListingGuard(env.guard.tx, env.listings, env.guard.locks, nil, 0)

		_, err := guard.Mutate(ctx, l.ID, "test", func(tx *gorm.DB, cur *domain.Listing) (bool, error) {
			require.NoError(t, tx.Model(&domain.Listing{}).Where("id = ?", cur.ID).
				UpdateColumn("version", gorm.Expr("version + 1")).Error)
			return true, nil
		})
		assert.ErrorIs(t, err, common.ErrConflict)
	})
}

func participantIDs(p domain.GroupBuyPool) []string {
	ids := make([]string, 0, len(p.Participants))
	for _, pt := range p.Participants {
		ids = append(ids, pt.UserID)
	}
	return ids
}
