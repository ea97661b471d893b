package opentracing_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/featurebasedb/parcelsync/logger"
	fbopentracing "github.com/featurebasedb/parcelsync/tracing/opentracing"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracer(t *testing.T) {
	mock := mocktracer.New()
	tr := fbopentracing.NewTracer(mock, logger.NopLogger)

	parent, ctx := tr.StartSpanFromContext(context.Background(), "partition")
	child, ctx := tr.StartSpanFromContext(ctx, "fetch")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com/query?where=CO_NO%3D11", nil)
	require.NoError(t, err)
	tr.InjectHTTPHeaders(req)

	child.Finish()
	parent.Finish()

	spans := mock.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "fetch", spans[0].OperationName)
	assert.Equal(t, spans[1].SpanContext.SpanID, spans[0].ParentID)
	assert.Equal(t, "GET", spans[0].Tag("http.method"))
	assert.NotEmpty(t, req.Header.Get("Mockpfx-Ids-Traceid"))
}
