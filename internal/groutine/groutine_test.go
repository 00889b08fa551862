package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NamePropagatesOnContext(t *testing.T) {
	got := make(chan string, 1)
	Go(context.Background(), "actor-mitch-A", func(ctx context.Context) {
		got <- Name(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "actor-mitch-A", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine never ran")
	}
}

func TestGo_NilParentContext(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "orphan", func(ctx context.Context) {
		assert.NoError(t, ctx.Err())
		close(done)
	})
	<-done
}

func TestName_ForeignContext(t *testing.T) {
	assert.Equal(t, "", Name(context.Background()))
	assert.Equal(t, "", Name(nil))
}
