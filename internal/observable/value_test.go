package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueNotifiesSubscribers(t *testing.T) {
	v := New(1)
	var seen []int

	cancel := v.Subscribe(func(n int) { seen = append(seen, n) }, false)
	v.Set(2)
	v.Set(2)
	cancel()
	v.Set(3)

	assert.Equal(t, []int{2, 2}, seen)
	assert.Equal(t, 3, v.Get())
}

func TestComparableSkipsEqualValues(t *testing.T) {
	v := NewComparable("a")
	calls := 0
	v.Subscribe(func(string) { calls++ }, true)

	assert.False(t, v.Set("a"))
	assert.True(t, v.Set("b"))
	assert.Equal(t, 2, calls) // immediate + one change
}

func TestSubscribeOrder(t *testing.T) {
	v := New("")
	var order []string
	v.Subscribe(func(string) { order = append(order, "first") }, false)
	v.Subscribe(func(string) { order = append(order, "second") }, false)
	v.Set("x")

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestQueueDeliversInOrderAndAllowsReentry(t *testing.T) {
	var q Queue
	var got []int

	q.Post(func() {
		got = append(got, 1)
		// posted from inside a delivery: runs after this one returns
		q.Post(func() { got = append(got, 3) })
		q.Drain()
		got = append(got, 2)
	})
	q.Drain()

	assert.Equal(t, []int{1, 2, 3}, got)
}
