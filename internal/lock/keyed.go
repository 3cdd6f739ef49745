// Package lock 키 단위 프로세스 내 상호 배제
package lock

import (
	"context"
	"sync"
)

type entry struct {
	held    bool
	waiters []chan struct{} // 도착 순 대기열
}

// KeyedMutex 키(상품 ID 등)별 뮤텍스. 서로 다른 키는 병렬로 진행된다.
// 잠금은 해제 시 대기열 맨 앞 대기자에게 직접 넘어가므로 도착 순서가 지켜진다
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyedMutex 생성자
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock 키 잠금. ctx 가 먼저 끝나면 잠금 없이 ctx.Err() 반환
func (k *KeyedMutex) Lock(ctx context.Context, key string) (unlock func(), err error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	if !e.held {
		e.held = true
		k.mu.Unlock()
		return k.unlocker(key, e), nil
	}
	ticket := make(chan struct{})
	e.waiters = append(e.waiters, ticket)
	k.mu.Unlock()

	select {
	case <-ticket:
		return k.unlocker(key, e), nil
	case <-ctx.Done():
		k.mu.Lock()
		select {
		case <-ticket:
			// 취소와 동시에 넘겨받은 잠금은 다음 대기자에게 넘긴다
			k.handoff(key, e)
		default:
			e.removeWaiter(ticket)
		}
		k.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) unlocker(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			k.handoff(key, e)
			k.mu.Unlock()
		})
	}
}

// handoff k.mu 를 잡은 상태에서 호출. 맨 앞 대기자에게 넘기거나 키를 정리한다
func (k *KeyedMutex) handoff(key string, e *entry) {
	if len(e.waiters) > 0 {
		next := e.waiters[0]
		e.waiters = e.waiters[1:]
		close(next)
		return
	}
	e.held = false
	delete(k.entries, key)
}

func (e *entry) removeWaiter(ticket chan struct{}) {
	for i, w := range e.waiters {
		if w == ticket {
			e.waiters = append(e.waiters[:i:i], e.waiters[i+1:]...)
			return
		}
	}
}

// Len 현재 추적 중인 키 수 (모니터링/테스트용)
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
