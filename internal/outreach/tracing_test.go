package outreach_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

func TestSendRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := newFixture().service(t)
	ok := svc.Send(context.Background(), sendReq("5512345678", outreach.SourceManual))
	require.True(t, ok.Success)
	bad := svc.Send(context.Background(), sendReq("123", outreach.SourceManual))
	require.False(t, bad.Success)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "outreach.Send", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, string(outreach.ReasonInvalidPhone), spans[1].Status().Description)
}
