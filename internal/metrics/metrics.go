// Package metrics 공동구매 도메인 Prometheus 지표
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolJoins 참여 시도 결과 (joined, filled, already_joined, full, expired, ...)
	PoolJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupbuy_pool_joins_total",
			Help: "Total number of group-buy join attempts by result",
		},
		[]string{"result"},
	)

	// CASConflicts 낙관적 잠금 충돌 (재시도 포함)
	CASConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupbuy_cas_conflicts_total",
			Help: "Total number of listing version conflicts",
		},
		[]string{"operation"},
	)

	// PurchaseTransitions 구매 상태 전이
	PurchaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupbuy_purchase_transitions_total",
			Help: "Total number of purchase record status transitions",
		},
		[]string{"to"},
	)

	// Notifications 알림 전달 결과
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupbuy_notifications_total",
			Help: "Total number of notification deliveries by kind, sink and result",
		},
		[]string{"kind", "sink", "result"},
	)

	// PoolsExpired 마감 처리된 풀
	PoolsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groupbuy_pools_expired_total",
			Help: "Total number of pools closed by the deadline sweep",
		},
	)

	// SearchCache 위치 검색 캐시 적중 여부
	SearchCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupbuy_search_cache_total",
			Help: "Nearby search cache lookups by result",
		},
		[]string{"result"},
	)
)
