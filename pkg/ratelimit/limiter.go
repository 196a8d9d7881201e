package ratelimit

import (
	"sync"
	"time"
)

// Значения по умолчанию для Binance spot: 1200 единиц веса в минуту
const (
	DefaultCeiling = 1200
	DefaultWindow  = 60 * time.Second
)

// WeightBudget - лимитер с фиксированным окном по "весу" запросов
//
// Алгоритм:
// - Окно открывается первым резервированием после сброса и длится window
// - Reserve(weight) разрешён, только если used+weight <= ceiling
// - Отклонённое резервирование счётчик не меняет
// - После истечения окна счётчик обнуляется при следующем Reserve
//
// Окно фиксированное, не скользящее: на границе окна возможна только
// недогрузка, превышения лимита нет.
//
// Использование:
//
//	budget := NewWeightBudget(1200, time.Minute)
//	if !budget.Reserve(10) {
//	    return ErrRateLimited // запрос не отправляется
//	}
type WeightBudget struct {
	ceiling     int
	window      time.Duration
	used        int
	windowStart time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewWeightBudget создаёт бюджет с лимитом ceiling на окно window
func NewWeightBudget(ceiling int, window time.Duration) *WeightBudget {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &WeightBudget{
		ceiling: ceiling,
		window:  window,
		now:     time.Now,
	}
}

// rollover сбрасывает счётчик, если окно истекло
// ВАЖНО: вызывается под lock'ом
func (b *WeightBudget) rollover(now time.Time) {
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.window {
		b.used = 0
		b.windowStart = now
	}
}

// Reserve пытается списать weight из бюджета текущего окна
func (b *WeightBudget) Reserve(weight int) bool {
	if weight < 0 {
		weight = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(b.now())

	if b.used+weight > b.ceiling {
		return false
	}
	b.used += weight
	return true
}

// Used возвращает израсходованный вес в текущем окне
func (b *WeightBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.windowStart.IsZero() && b.now().Sub(b.windowStart) >= b.window {
		return 0
	}
	return b.used
}

// Remaining возвращает оставшийся вес в текущем окне
func (b *WeightBudget) Remaining() int {
	return b.ceiling - b.Used()
}

// Ceiling возвращает лимит окна
func (b *WeightBudget) Ceiling() int {
	return b.ceiling
}

// ============================================================
// Budgets - реестр бюджетов по ключу (id API ключа)
// ============================================================

// PublicKey - ключ общего бюджета для публичных (неподписанных) запросов
const PublicKey int64 = 0

// Budgets хранит отдельный WeightBudget на каждый ключ.
// Бюджеты создаются лениво, состояние разных ключей независимо.
type Budgets struct {
	ceiling int
	window  time.Duration
	now     func() time.Time
	budgets map[int64]*WeightBudget
	mu      sync.Mutex
}

// NewBudgets создаёт реестр с общими параметрами ceiling/window
func NewBudgets(ceiling int, window time.Duration) *Budgets {
	return &Budgets{
		ceiling: ceiling,
		window:  window,
		now:     time.Now,
		budgets: make(map[int64]*WeightBudget),
	}
}

// SetClock подменяет источник времени для новых бюджетов (тесты)
func (r *Budgets) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// For возвращает бюджет для ключа, создавая его при первом обращении
func (r *Budgets) For(key int64) *WeightBudget {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.budgets[key]
	if !ok {
		b = NewWeightBudget(r.ceiling, r.window)
		b.now = r.now
		r.budgets[key] = b
	}
	return b
}

// Reserve - сокращение для For(key).Reserve(weight)
func (r *Budgets) Reserve(key int64, weight int) bool {
	return r.For(key).Reserve(weight)
}

// Forget удаляет бюджет ключа
func (r *Budgets) Forget(key int64) {
	r.mu.Lock()
	delete(r.budgets, key)
	r.mu.Unlock()
}

// Len возвращает количество созданных бюджетов
func (r *Budgets) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.budgets)
}
