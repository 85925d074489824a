package di

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/mkopo/apps/api/echo"
	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/loan"
	"github.com/trezcool/mkopo/storage/database"
)

func setEnv(t *testing.T, key, value string) {
	orig, ok := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if ok {
			_ = os.Setenv(key, orig)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func TestNew_dummyStorage(t *testing.T) {
	setEnv(t, "ENV", "TEST")
	setEnv(t, "TEST_DATABASE_ENGINE", EngineDummy)

	c := New()
	err := c.Invoke(func(conf *core.Config, tx core.Transactor, server *echoapi.Server, sweeper *loan.Sweeper, closeDB DBCloser) {
		assert.Equal(t, EngineDummy, conf.Database.Engine)
		assert.True(t, conf.TestMode)
		assert.NotNil(t, tx)
		assert.NotNil(t, sweeper)
		assert.NoError(t, closeDB())
		assert.NoError(t, server.Close())
	})
	require.NoError(t, err)
}

func TestProvideSQLStorage(t *testing.T) {
	// providing registers constructors only: no database is opened
	provideSQLStorage(dig.New())

	assert.IsType(t, &database.Transactor{}, newTransactor(nil))
}
