package projection

import (
	"github.com/golang/glog"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type SubscriptionAction string

const (
	SubscriptionSubscribe   SubscriptionAction = "subscribe"
	SubscriptionUnsubscribe SubscriptionAction = "unsubscribe"
)

// SubscriptionFunction is the host-provided pub/sub hook. The syncer
// never inspects side effects or return state.
type SubscriptionFunction func(action SubscriptionAction, topic string)

// subscriptionSyncer keeps the active screen's declared topic set in sync
// with the host. Hook faults are logged; the membership set is still
// updated so the next sync computes a correct delta.
type subscriptionSyncer struct {
	hook    SubscriptionFunction
	current map[string]bool
}

func newSubscriptionSyncer(hook SubscriptionFunction) *subscriptionSyncer {
	return &subscriptionSyncer{
		hook:    hook,
		current: map[string]bool{},
	}
}

func (self *subscriptionSyncer) Sync(desired []string) {
	desiredSet := map[string]bool{}
	for _, topic := range desired {
		desiredSet[topic] = true
	}

	for _, topic := range sortedTopics(self.current) {
		if !desiredSet[topic] {
			self.invoke(SubscriptionUnsubscribe, topic)
		}
	}
	for _, topic := range sortedTopics(desiredSet) {
		if !self.current[topic] {
			self.invoke(SubscriptionSubscribe, topic)
		}
	}
	self.current = desiredSet
}

func (self *subscriptionSyncer) Current() []string {
	return sortedTopics(self.current)
}

// Close unsubscribes every remaining topic. Called on session teardown.
func (self *subscriptionSyncer) Close() {
	for _, topic := range sortedTopics(self.current) {
		self.invoke(SubscriptionUnsubscribe, topic)
	}
	self.current = map[string]bool{}
}

func (self *subscriptionSyncer) invoke(action SubscriptionAction, topic string) {
	if self.hook == nil {
		return
	}
	HandleError(func() {
		self.hook(action, topic)
	}, func(err error) {
		glog.Warningf("[sub]%s %q hook fault = %s\n", action, topic, err)
	})
}

func sortedTopics(set map[string]bool) []string {
	topics := maps.Keys(set)
	slices.Sort(topics)
	return topics
}
