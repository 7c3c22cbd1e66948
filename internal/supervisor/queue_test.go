package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_DedupeKeepsPosition(t *testing.T) {
	q := NewQueue()
	q.Add("A", true)
	q.Add("B", true)
	q.Add("A", false)

	assert.Equal(t, []PendingMutation{{ID: "A", Achieved: false}, {ID: "B", Achieved: true}}, q.Pending())
	m, ok := q.Peek()
	assert.True(t, ok)
	assert.Equal(t, "A", m.ID)
}

func TestQueue_Remove(t *testing.T) {
	q := NewQueue()
	q.Add("A", true)
	q.Add("B", true)

	assert.True(t, q.Remove("A"))
	assert.False(t, q.Remove("A"))
	assert.Equal(t, 1, q.Len())

	assert.True(t, q.Remove("B"))
	_, ok := q.Peek()
	assert.False(t, ok)
}

func TestQueue_PendingIsACopy(t *testing.T) {
	q := NewQueue()
	q.Add("A", true)
	p := q.Pending()
	p[0].ID = "Z"
	m, _ := q.Peek()
	assert.Equal(t, "A", m.ID)
}
