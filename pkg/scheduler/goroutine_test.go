package scheduler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestHomeIndexIsDeterministicAndInRange(t *testing.T) {
	id := uuid.New()
	first := homeIndex(id, 4)
	second := homeIndex(id, 4)
	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 4)
}

func TestHomeIndexZeroProcessorsReturnsZero(t *testing.T) {
	assert.Equal(t, 0, homeIndex(uuid.New(), 0))
}
