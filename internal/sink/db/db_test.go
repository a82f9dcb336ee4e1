package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteEmptyBatchIsNoop(t *testing.T) {
	s := &Sink{}
	err := s.Write(context.Background(), nil, "some-run")
	assert.NoError(t, err)
}
