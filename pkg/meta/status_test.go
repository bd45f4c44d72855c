package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOK(t *testing.T) {
	assert.True(t, StatusOK.OK())
	assert.False(t, StatusNotFound.OK())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ENOENT", StatusNotFound.String())
	assert.Equal(t, "MISMATCH", StatusMismatch.String())
	assert.Equal(t, "UNKNOWN", Status(250).String())
}

func TestStatusError(t *testing.T) {
	var err error = StatusAccessDenied
	assert.EqualError(t, err, "EACCES")
}

func TestStatusNoRecord(t *testing.T) {
	assert.False(t, StatusOK.noRecord())
	assert.True(t, StatusNotFound.noRecord())
}
