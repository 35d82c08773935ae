package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestSetupStdoutTracing(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	shutdown, err := SetupStdoutTracing(&buf)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "compile", attribute.Int("steps", 3))
	EndSpan(span, errors.New("boom"))
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name": "compile"`)
	assert.Contains(t, out, "boom")
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(RetrievalsTotal.WithLabelValues("out", "ok"))
	RetrievalsTotal.WithLabelValues("out", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RetrievalsTotal.WithLabelValues("out", "ok")))
}
