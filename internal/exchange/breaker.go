package exchange

import (
	"sync"
	"time"

	"cryptofolio/internal/metrics"
	"cryptofolio/pkg/utils"
)

// BreakerState - состояние circuit breaker
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // запросы проходят
	BreakerOpen                         // запросы отклоняются локально
	BreakerHalfOpen                     // пропущен один пробный запрос
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Значения по умолчанию
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 60 * time.Second
)

// Breaker - circuit breaker одного API ключа
//
// Переходы:
// - Closed: каждая ошибка увеличивает счётчик; threshold ошибок подряд -> Open
// - Open: Allow() == false до истечения cooldown с момента открытия
// - после cooldown первый Allow() переводит в HalfOpen и пропускает пробный запрос,
//   остальные получают отказ до его результата
// - HalfOpen: успех -> Closed (счётчик = 0), ошибка -> Open с новым cooldown
//
// Защищает API биржи и собственный бюджет веса от повторов по заведомо
// нерабочему ключу (отозван, IP не в whitelist).
type Breaker struct {
	threshold int
	cooldown  time.Duration

	state       BreakerState
	failures    int
	lastFailure time.Time
	openedAt    time.Time

	now      func() time.Time
	onChange func(from, to BreakerState)
	mu       sync.Mutex
}

// NewBreaker создаёт breaker в состоянии Closed
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// setState меняет состояние и уведомляет наблюдателя
// ВАЖНО: вызывается под lock'ом
func (b *Breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// Allow сообщает, можно ли выполнять запрос сейчас
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.setState(BreakerHalfOpen)
			return true
		}
		return false
	default:
		// HalfOpen: пробный запрос уже в полёте
		return false
	}
}

// RecordSuccess фиксирует успешный запрос: счётчик сбрасывается, состояние Closed
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.setState(BreakerClosed)
}

// RecordFailure фиксирует ошибку провайдера (любую, включая повторяемые)
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.failures++
	b.lastFailure = now

	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.openedAt = now
		b.setState(BreakerOpen)
	}
}

// ReleaseProbe возвращает HalfOpen в Open без перезапуска cooldown.
// Нужен, когда пробный запрос не дошёл до транспорта (например, отказ бюджета веса).
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.setState(BreakerOpen)
	}
}

// State возвращает текущее состояние; истёкший cooldown сам по себе его не меняет
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures возвращает количество ошибок подряд
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// BreakerSnapshot - состояние breaker для мониторинга и API
type BreakerSnapshot struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
}

// Snapshot возвращает копию состояния
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:       b.state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		OpenedAt:    b.openedAt,
	}
}

// ============================================================
// BreakerRegistry - breaker на каждый API ключ
// ============================================================

// BreakerRegistry принадлежит клиенту биржи (не глобальное состояние).
// Ключ - стабильный id credential: ротация API ключа не сбрасывает историю.
type BreakerRegistry struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *utils.Logger

	breakers map[int64]*Breaker
	mu       sync.Mutex
}

// NewBreakerRegistry создаёт пустой реестр
func NewBreakerRegistry(threshold int, cooldown time.Duration, logger *utils.Logger) *BreakerRegistry {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &BreakerRegistry{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger.WithComponent("breaker"),
		breakers:  make(map[int64]*Breaker),
	}
}

// Get возвращает breaker для credential, создавая его лениво
func (r *BreakerRegistry) Get(credentialID int64) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[credentialID]; ok {
		return b
	}

	b := NewBreaker(r.threshold, r.cooldown)
	b.now = r.now
	log := r.logger.WithCredential(credentialID)
	b.onChange = func(from, to BreakerState) {
		metrics.RecordBreakerTransition(to.String())
		if to == BreakerOpen {
			log.Warn("circuit breaker opened", utils.State(to.String()), utils.String("from", from.String()))
		} else {
			log.Info("circuit breaker state changed", utils.State(to.String()), utils.String("from", from.String()))
		}
	}
	r.breakers[credentialID] = b
	return b
}

// Reset удаляет breaker (например, после удаления credential)
func (r *BreakerRegistry) Reset(credentialID int64) {
	r.mu.Lock()
	delete(r.breakers, credentialID)
	r.mu.Unlock()
}

// Len возвращает количество созданных breaker
func (r *BreakerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}
