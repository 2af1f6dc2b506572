package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSourceParsesDeclarations(t *testing.T) {
	t.Setenv("REGISTRY_SERVICE_PG", "database,db.local:5432")
	t.Setenv("REGISTRY_SERVICE_REDIS", "cache, cache.local:6379")
	t.Setenv("REGISTRY_SERVICE_BROKEN", "no-endpoint")
	t.Setenv("UNRELATED", "x,y")

	got, err := EnvSource{}.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	byName := map[string]string{}
	for _, svc := range got {
		byName[svc.Name] = svc.Endpoint
	}
	assert.Equal(t, "db.local:5432", byName["pg"])
	assert.Equal(t, "cache.local:6379", byName["redis"])
}

func TestEnvSourceCustomPrefix(t *testing.T) {
	t.Setenv("HR_SVC_PG", "database,db.local:5432")

	got, err := EnvSource{Prefix: "HR_SVC_"}.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pg", got[0].Name)
	assert.Equal(t, "database", got[0].Type)
}
