package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NamesContextAndSignalsDone(t *testing.T) {
	names := make(chan string, 1)

	done := Go(context.Background(), "worker-1", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}
	assert.Equal(t, "worker-1", <-names)
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
}
