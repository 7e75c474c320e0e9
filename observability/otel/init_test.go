package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret ,broken, =empty,tenant=ledger")
	require.Equal(t, map[string]string{"api-key": "secret", "tenant": "ledger"}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
	_, err = Init(context.Background(), Config{ServiceName: "vaultd", SampleRatio: 2})
	require.Error(t, err)
}

func TestShutdownAllRunsInReverseAndJoinsErrors(t *testing.T) {
	var order []int
	first := errors.New("first")
	fns := []func(context.Context) error{
		func(context.Context) error { order = append(order, 0); return first },
		func(context.Context) error { order = append(order, 1); return nil },
	}
	err := shutdownAll(context.Background(), fns)
	require.ErrorIs(t, err, first)
	require.Equal(t, []int{1, 0}, order)
	require.NoError(t, shutdownAll(context.Background(), nil))
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{ServiceName: "vaultd"}
	require.NoError(t, cfg.normalize())
	require.Equal(t, defaultEndpoint, cfg.Endpoint)
	require.Equal(t, defaultExportInterval, cfg.ExportInterval)
}
