package keylock

import "sync"

// KeyedMutex 按 key（某个拍卖、某个库存主体）维护互斥锁，
// 把同一行上的读-改-写在本进程内先行串行化；
// 跨进程的竞争仍由数据库条件更新兜底。
type KeyedMutex struct {
	locks sync.Map // map[string]*sync.Mutex
}

func New() *KeyedMutex {
	return &KeyedMutex{}
}

func (m *KeyedMutex) get(key string) *sync.Mutex {
	actual, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// WithLock 持有 key 对应的锁执行 fn。
func (m *KeyedMutex) WithLock(key string, fn func() error) error {
	lock := m.get(key)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}
