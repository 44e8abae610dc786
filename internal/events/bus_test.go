package events

import "testing"

func TestBusFanOutAndUnsubscribe(t *testing.T) {
	b := NewBus()
	a, unsubA := b.Subscribe(EventRiskAlert, 1)
	c, unsubC := b.Subscribe(EventRiskAlert, 1)
	defer unsubC()

	b.Publish(EventRiskAlert, "first")
	if got := <-a; got != "first" {
		t.Errorf("subscriber a got %v", got)
	}
	if got := <-c; got != "first" {
		t.Errorf("subscriber c got %v", got)
	}

	unsubA()
	if _, open := <-a; open {
		t.Error("unsubscribed channel must be closed")
	}
	b.Publish(EventRiskAlert, "second")
	if got := <-c; got != "second" {
		t.Errorf("remaining subscriber got %v", got)
	}
}

func TestBusCountsDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventPriceTick, 1)
	defer unsub()

	b.Publish(EventPriceTick, 1.0)
	b.Publish(EventPriceTick, 2.0) // buffer full, dropped
	b.Publish(EventPriceTick, 3.0) // dropped

	if got := <-ch; got != 1.0 {
		t.Errorf("delivered %v, want the first tick", got)
	}
	if n := b.Dropped(EventPriceTick); n != 2 {
		t.Errorf("dropped = %d, want 2", n)
	}
	if n := b.Dropped(EventRiskAlert); n != 0 {
		t.Errorf("unrelated topic dropped = %d, want 0", n)
	}
}
