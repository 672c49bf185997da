package mapping

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatbridge/internal/domain"
)

func testLink(id string) domain.MessageLink {
	return domain.MessageLink{
		SourcePlatform:  domain.PlatformAmoCRM,
		SourceMessageID: id,
		TargetPlatform:  domain.PlatformEdna,
		TargetMessageID: "edna-" + id,
	}
}

func TestMemoryStore_LinksBoundedByCount(t *testing.T) {
	st := NewMemoryStore(WithLinkLimit(3, time.Hour))
	ctx := context.Background()

	for i := range 10 {
		require.NoError(t, st.SaveLink(ctx, testLink(fmt.Sprintf("m-%d", i))))
	}
	assert.Equal(t, 3, st.LinkCount())

	_, ok, err := st.LinkBySource(ctx, domain.PlatformAmoCRM, "m-0")
	require.NoError(t, err)
	assert.False(t, ok, "oldest link is evicted")

	got, ok, err := st.LinkBySource(ctx, domain.PlatformAmoCRM, "m-9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "edna-m-9", got.TargetMessageID)
}

func TestMemoryStore_LinksExpire(t *testing.T) {
	st := NewMemoryStore(WithLinkLimit(10, time.Minute))
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, st.SaveLink(ctx, testLink("m-1")))
	_, ok, _ := st.LinkBySource(ctx, domain.PlatformAmoCRM, "m-1")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = st.LinkBySource(ctx, domain.PlatformAmoCRM, "m-1")
	assert.False(t, ok)
	assert.Equal(t, 0, st.LinkCount())
}

func TestMemoryStore_DefaultLinkLimit(t *testing.T) {
	st := NewMemoryStore(WithLinkLimit(0, 0))
	assert.Equal(t, DefaultLinkTTL, st.linkTTL)
	require.NoError(t, st.SaveLink(context.Background(), testLink("m-1")))
	assert.Equal(t, 1, st.LinkCount())
}
