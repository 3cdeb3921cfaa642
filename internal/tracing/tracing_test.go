// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown := Init(context.Background(), Config{ServiceName: "test", Writer: &buf}, nil)

	_, span := otel.Tracer("test").Start(context.Background(), "serve")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name": "serve"`)
}
