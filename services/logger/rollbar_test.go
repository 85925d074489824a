package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/user"
)

func newTestLogger(buf *bytes.Buffer) *RollbarLogger {
	conf := &core.Config{Env: "TEST", TestMode: true}
	return NewRollbarLogger(log.New(buf, "TEST : ", 0), conf)
}

func TestRollbarLogger_prepare(t *testing.T) {
	lg := newTestLogger(new(bytes.Buffer))
	usr := user.User{ID: "8b3c8b4e-4a43-4a9e-9a43-0c3b3a9c2f11", Username: "jdoe"}
	err := errors.New("boom")
	extra := map[string]interface{}{"loan": "a1B2c3D4e5F"}

	args := lg.prepare("sweep failed", []interface{}{err, usr, extra})

	assert.Equal(t, []interface{}{"sweep failed", err, extra}, args)
}

func TestRollbarLogger_print(t *testing.T) {
	buf := new(bytes.Buffer)
	lg := newTestLogger(buf)

	lg.Info("sweep: 2 loan(s) flagged overdue", user.User{Username: "jdoe"}, map[string]int{"failed": 1})

	assert.Equal(t, "TEST : sweep: 2 loan(s) flagged overdue\nTEST : map[failed:1]\n", buf.String())
}
