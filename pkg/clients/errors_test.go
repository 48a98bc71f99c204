package clients

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomyClassification(t *testing.T) {
	assert.True(t, IsTransient(Transient(errors.New("dial tcp: refused"))))
	assert.True(t, IsTransient(Transientf("status %d", 503)))
	assert.True(t, IsTransient(context.DeadlineExceeded))

	assert.True(t, IsNotFound(NotFoundf("block %d", 7)))
	assert.False(t, IsTransient(NotFoundf("block %d", 7)))
	assert.False(t, IsNotFound(Transientf("x")))

	assert.False(t, IsTransient(Formatf("bad json")))
	assert.False(t, IsNotFound(Formatf("bad json")))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := NotFoundf("tx abc")
	wrapped := fmt.Errorf("while finalizing: %w", inner)
	assert.True(t, IsNotFound(wrapped))

	wrapped = fmt.Errorf("iteration: %w", Transient(errors.New("timeout")))
	assert.True(t, IsTransient(wrapped))
}
