package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueue(t *testing.T) {
	q, closeFn, err := NewQueue("memory", QueueConfig{Lease: time.Minute})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &MemoryQueue{}, q)

	_, closeFn, err = NewQueue("postgres", QueueConfig{})
	assert.Error(t, err)
	assert.NotNil(t, closeFn)

	_, _, err = NewQueue("kafka", QueueConfig{})
	assert.ErrorContains(t, err, "unsupported queue backend")
}
