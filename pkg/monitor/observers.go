package monitor

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	perrors "contactperf/pkg/error"
)

// Observer 接收聚合器事件。回调在记录调用所在的 goroutine 上同步执行，不应长时间阻塞。
type Observer func(event EventName, payload interface{})

// ObserverID 订阅句柄
type ObserverID string

type subscription struct {
	id ObserverID
	fn Observer
}

// observerSet 按订阅顺序保存观察者
type observerSet struct {
	mu   sync.RWMutex
	subs []subscription
}

func (s *observerSet) add(fn Observer) ObserverID {
	id := ObserverID(uuid.New().String())

	s.mu.Lock()
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()

	return id
}

func (s *observerSet) remove(id ObserverID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *observerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *observerSet) snapshot() []subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

// notify 逐个调用观察者，单个回调 panic 只记录日志，不影响其余观察者。
func (s *observerSet) notify(log *logrus.Entry, event EventName, payload interface{}) {
	for _, sub := range s.snapshot() {
		invoke(log, sub, event, payload)
	}
}

func invoke(log *logrus.Entry, sub subscription, event EventName, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			err := perrors.NewError(perrors.ErrObserverCallback, fmt.Sprintf("observer panicked: %v", r)).
				WithContext("observer", string(sub.id)).
				WithContext("event", string(event))
			log.WithError(err).WithFields(logrus.Fields{
				"observer": sub.id,
				"event":    event,
			}).Error("performance observer error")
		}
	}()
	sub.fn(event, payload)
}
