package groutine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGo_NamesContext(t *testing.T) {
	names := make(chan string, 1)
	Go(context.Background(), "belt-scan", func(ctx context.Context) {
		names <- GetName(ctx)
	})
	assert.Equal(t, "belt-scan", <-names)
}

func TestGo_NilParent(t *testing.T) {
	done := make(chan struct{})
	//nolint:staticcheck // nil parent is part of the contract
	Go(nil, "nil-parent", func(ctx context.Context) {
		assert.NotNil(t, ctx)
		close(done)
	})
	<-done
}

func TestGoWait(t *testing.T) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		GoWait(context.Background(), &wg, "worker", func(context.Context) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 10, count)
}

func TestGetName_NoName(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck
}
