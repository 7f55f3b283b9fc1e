package ptr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTo(t *testing.T) {
	p := To("value")
	assert.Equal(t, "value", *p)

	zero := To(0)
	assert.NotNil(t, zero)
	assert.Equal(t, 0, *zero)

	a, b := To(1), To(1)
	assert.NotSame(t, a, b)
}
