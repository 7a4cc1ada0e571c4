package broker

import "sync"

// subscriptionIndex maps an exact topic string to the set of client IDs subscribed to it. MQTT
// wildcard filters (+, #) are out of scope: every filter in a SUBSCRIBE is stored and matched
// verbatim.
type subscriptionIndex struct {
	mutex   sync.RWMutex
	byTopic map[string]map[string]struct{}
}

func newSubscriptionIndex() *subscriptionIndex {
	return &subscriptionIndex{byTopic: make(map[string]map[string]struct{})}
}

func (idx *subscriptionIndex) add(topic, clientID string) {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()
	set, ok := idx.byTopic[topic]
	if !ok {
		set = make(map[string]struct{})
		idx.byTopic[topic] = set
	}
	set[clientID] = struct{}{}
}

func (idx *subscriptionIndex) remove(topic, clientID string) {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()
	set, ok := idx.byTopic[topic]
	if !ok {
		return
	}
	delete(set, clientID)
	if len(set) == 0 {
		delete(idx.byTopic, topic)
	}
}

// removeClient drops clientID from every topic it is subscribed to - used when a client's session
// is terminated for good (explicit DISCONNECT or replaced by a clean-session reconnect).
func (idx *subscriptionIndex) removeClient(clientID string, topics []string) {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()
	for _, topic := range topics {
		set, ok := idx.byTopic[topic]
		if !ok {
			continue
		}
		delete(set, clientID)
		if len(set) == 0 {
			delete(idx.byTopic, topic)
		}
	}
}

// subscribers returns a snapshot of the client IDs currently subscribed to topic. The lock is
// held only long enough to copy the set, never while a caller goes on to deliver to each client -
// that is what lets one slow or disconnected subscriber never block publishing to the rest.
func (idx *subscriptionIndex) subscribers(topic string) []string {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()
	set, ok := idx.byTopic[topic]
	if !ok {
		return nil
	}
	result := make([]string, 0, len(set))
	for clientID := range set {
		result = append(result, clientID)
	}
	return result
}
