package notification

import (
	"log/slog"
	"sync"
)

const NOTIFICATION_ALL string = "all"

const subscriberBuffer = 16

// subscription is shared by every listener of one key.
type subscription struct {
	ch   chan Progress
	refs int
}

var (
	mu          sync.Mutex
	publishers  map[string]chan Progress
	subscribers map[string]*subscription
)

func init() {
	publishers = make(map[string]chan Progress)
	subscribers = make(map[string]*subscription)
}

// GetPublisher returns the channel progress of uploadKey is sent on. The
// sender closes it when the upload ends, which also closes the subscriber.
func GetPublisher(uploadKey string) chan<- Progress {
	mu.Lock()
	defer mu.Unlock()
	if publishers[uploadKey] == nil {
		publishers[uploadKey] = make(chan Progress)
		go processNotifications(uploadKey, publishers[uploadKey])
	}
	return publishers[uploadKey]
}

// GetSubscriber registers a listener of uploadKey. Every call must be paired
// with a ReleaseSubscriber.
func GetSubscriber(uploadKey string) <-chan Progress {
	mu.Lock()
	defer mu.Unlock()
	sub := subscribers[uploadKey]
	if sub == nil {
		sub = &subscription{ch: make(chan Progress, subscriberBuffer)}
		subscribers[uploadKey] = sub
	}
	sub.refs++
	return sub.ch
}

// ReleaseSubscriber drops one listener of uploadKey. The channel is closed
// once the last listener leaves, unless a publisher still owns it. events is
// the channel GetSubscriber returned; a stale one is ignored.
func ReleaseSubscriber(uploadKey string, events <-chan Progress) {
	mu.Lock()
	defer mu.Unlock()
	sub := subscribers[uploadKey]
	if sub == nil || (<-chan Progress)(sub.ch) != events {
		return
	}
	if sub.refs > 0 {
		sub.refs--
	}
	if sub.refs > 0 {
		return
	}
	if _, publishing := publishers[uploadKey]; publishing {
		return
	}
	close(sub.ch)
	delete(subscribers, uploadKey)
}

func processNotifications(uploadKey string, publisher <-chan Progress) {
	for progress := range publisher {
		mu.Lock()
		pushToSubscriber(subscribers[uploadKey], progress)
		pushToSubscriber(subscribers[NOTIFICATION_ALL], progress)
		mu.Unlock()
	}
	mu.Lock()
	defer mu.Unlock()
	if sub := subscribers[uploadKey]; sub != nil {
		close(sub.ch)
		delete(subscribers, uploadKey)
	}
	delete(publishers, uploadKey)
}

// pushToSubscriber never blocks: a slow subscriber loses events.
func pushToSubscriber(sub *subscription, progress Progress) {
	if sub == nil {
		return
	}
	select {
	case sub.ch <- progress:
	default:
		slog.Debug("Dropping progress event for slow subscriber", "upload_key", progress.UploadKey)
	}
}

type Progress struct {
	UploadKey     string  `json:"upload_key"`
	ClientKey     string  `json:"client_key"`
	Status        string  `json:"status"`
	Transferred   int64   `json:"transferred"`
	TotalSize     int64   `json:"total_size"`
	CompletionPct float32 `json:"completion_pct"`
	ElapsedInSec  int     `json:"elapsed_in_sec"`
	EtaInSec      int     `json:"eta_in_sec"`
	Error         string  `json:"error,omitempty"`
}
