package resolver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHostLimiterPacesPerHost(t *testing.T) {
	l := NewHostLimiter(0.1, 1)

	require.NoError(t, l.Wait(context.Background(), "news.google.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "NEWS.google.com"), "second fetch would wait past the deadline")
	assert.NoError(t, l.Wait(ctx, "vertexaisearch.cloud.google.com"), "other hosts have their own budget")
}

func TestHostLimiterDisabled(t *testing.T) {
	l := NewHostLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "news.google.com"))
	}
}

func TestResolvePacedFetchFails(t *testing.T) {
	_, wrapper := newWrapperPair(t, serveHTML(articleHTML), func(articleURL string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, articleURL, http.StatusFound)
		}
	})
	r := New(zaptest.NewLogger(t),
		WithWrapperHosts(hostOf(t, wrapper.URL)),
		WithHostLimiter(NewHostLimiter(0.1, 1)),
	)

	_, err := r.Resolve(context.Background(), wrapper.URL+"/articles/a")
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), wrapper.URL+"/articles/b")
	assert.Error(t, err, "the resolution budget expires before the host allows another fetch")
}
