package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOrderStartsPending(t *testing.T) {
	o := NewOrder("u-1", "go-101", "stripe", 1999, "USD")

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Empty(t, o.ExternalID)
	assert.Equal(t, o.CreatedAt, o.UpdatedAt)
	assert.NotEqual(t, o.ID, NewOrder("u-1", "go-101", "stripe", 1999, "USD").ID)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		valid    bool
	}{
		{StatusPending, false, true},
		{StatusSucceeded, true, true},
		{StatusFailed, true, true},
		{Status("refunded"), false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.valid, tt.status.Valid())
		})
	}
}
