package pubsub

import (
	"reflect"
	"sync"
	"testing"
)

func TestBroadcast_RegistrationOrder(t *testing.T) {
	p := New()
	var order []string

	p.Subscribe("a", "news", func(topic string, payload any) { order = append(order, "a") })
	p.Subscribe("b", "news", func(topic string, payload any) { order = append(order, "b") })
	p.Subscribe("c", "news", func(topic string, payload any) { order = append(order, "c") })

	p.Broadcast("news", "hello")

	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Errorf("delivery order %v", order)
	}
}

func TestBroadcast_PayloadAndTopic(t *testing.T) {
	p := New()
	var gotTopic string
	var gotPayload any

	p.Subscribe("a", "news", func(topic string, payload any) {
		gotTopic = topic
		gotPayload = payload
	})
	p.Broadcast("news", 42)

	if gotTopic != "news" || gotPayload != 42 {
		t.Errorf("got (%q, %v)", gotTopic, gotPayload)
	}
}

func TestBroadcast_UnknownTopicIsNoop(t *testing.T) {
	p := New()
	p.Broadcast("empty", nil) // must not panic
}

func TestSubscribe_ResubscribeKeepsPosition(t *testing.T) {
	p := New()
	var order []string

	p.Subscribe("a", "news", func(string, any) { order = append(order, "a1") })
	p.Subscribe("b", "news", func(string, any) { order = append(order, "b") })
	// Replacing a's handler must not move it behind b.
	p.Subscribe("a", "news", func(string, any) { order = append(order, "a2") })

	p.Broadcast("news", nil)

	if !reflect.DeepEqual(order, []string{"a2", "b"}) {
		t.Errorf("delivery order %v", order)
	}
	if ids := p.Subscribers("news"); !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("subscriber ids %v", ids)
	}
}

func TestUnsubscribe(t *testing.T) {
	p := New()
	p.Subscribe("a", "news", func(string, any) { t.Error("unsubscribed handler invoked") })
	p.Subscribe("a", "sports", func(string, any) {})

	p.Unsubscribe("a", "news")
	p.Broadcast("news", nil)

	if !p.IsSubscribed("a") {
		t.Error("a should still be subscribed to sports")
	}
}

func TestUnsubscribeAll(t *testing.T) {
	p := New()
	fail := func(string, any) { t.Error("handler invoked after UnsubscribeAll") }
	p.Subscribe("a", "news", fail)
	p.Subscribe("a", "sports", fail)
	p.Subscribe("b", "news", func(string, any) {})

	p.UnsubscribeAll("a")

	p.Broadcast("news", nil)
	p.Broadcast("sports", nil)

	if p.IsSubscribed("a") {
		t.Error("a should be fully unsubscribed")
	}
	if !p.IsSubscribed("b") {
		t.Error("b should be unaffected")
	}
}

func TestPubSub_ConcurrentAccess(t *testing.T) {
	p := New()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				p.Subscribe(id, "t", func(string, any) {})
				p.Broadcast("t", j)
				p.Unsubscribe(id, "t")
			}
		}(i)
	}
	wg.Wait()
}
