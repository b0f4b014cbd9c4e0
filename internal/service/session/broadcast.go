package session

import (
	"sync"

	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
)

// 每个订阅者的缓冲大小。慢消费者丢最新快照而不是阻塞采集路径，
// 下一次变更会带来更新的快照。
const subscriberBuffer = 8

// broadcaster 维护每个会话的推送订阅者集合。
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan emotion.Snapshot]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subscribers: make(map[string]map[chan emotion.Snapshot]struct{}),
	}
}

func (b *broadcaster) subscribe(sessionID string) (chan emotion.Snapshot, func()) {
	ch := make(chan emotion.Snapshot, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.subscribers[sessionID]
	if !ok {
		subs = make(map[chan emotion.Snapshot]struct{})
		b.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.subscribers[sessionID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subscribers, sessionID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *broadcaster) publish(sessionID string, snapshot emotion.Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[sessionID] {
		select {
		case ch <- snapshot:
		default:
			// 订阅者缓冲已满，丢弃本次推送。
		}
	}
}
