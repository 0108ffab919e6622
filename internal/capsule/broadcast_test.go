package capsule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeReceivesCurrentStateImmediately(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(State{Kind: Listening, Partial: "hello"})

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	select {
	case s := <-ch:
		assert.Equal(t, Listening, s.Kind)
		assert.Equal(t, "hello", s.Partial)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive current state")
	}
}

func TestPublishOverwritesStaleBufferedValue(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	<-ch // drain the initial IdleState

	b.Publish(State{Kind: Listening, Partial: "one"})
	b.Publish(State{Kind: Listening, Partial: "two"})
	b.Publish(State{Kind: Listening, Partial: "three"})

	select {
	case s := <-ch:
		assert.Equal(t, "three", s.Partial, "late subscriber must see only the latest state")
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
	}

	select {
	case <-ch:
		t.Fatal("expected exactly one buffered value, got a second")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	<-ch
	b.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestCurrentReturnsLastPublished(t *testing.T) {
	b := NewBroadcaster()
	assert.Equal(t, Idle, b.Current().Kind)
	b.Publish(State{Kind: Processing})
	assert.Equal(t, Processing, b.Current().Kind)
}
