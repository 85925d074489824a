package appfs_test

import (
	"io"
	"io/fs"
	"log"
	"net/mail"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mkopo/core"
	appfs "github.com/trezcool/mkopo/fs"
	logsvc "github.com/trezcool/mkopo/services/logger"
)

func TestFS_emailLayouts(t *testing.T) {
	for _, name := range []string{"_base.txt", "_base.gohtml"} {
		_, err := fs.Stat(appfs.FS, path.Join(appfs.EmailTemplatesDir, name))
		assert.NoError(t, err, name)
	}
}

func TestFS_migrations(t *testing.T) {
	fps, err := fs.Glob(appfs.FS, path.Join(appfs.MigrationsDir, "*.sql"))
	require.NoError(t, err)
	assert.Len(t, fps, 3)
}

func TestFS_renderLoanEmails(t *testing.T) {
	conf := &core.Config{Env: "TEST", TestMode: true, FrontendBaseURL: "http://localhost:8080"}
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf))

	due := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	data := struct {
		Name         string
		LoanGUID     string
		DeviceGUID   string
		DueDate      time.Time
		SanctionType string
		SanctionEnd  time.Time
	}{
		Name:         "Jane Doe",
		LoanGUID:     "a1B2c3D4e5F",
		DeviceGUID:   "Z9y8X7w6V5u",
		DueDate:      due,
		SanctionType: "TEMP_BLOCK",
		SanctionEnd:  due.Add(7 * 24 * time.Hour),
	}

	tests := []struct {
		tmpl     string
		wantText string
	}{
		{tmpl: "loan_created", wantText: "Please bring it back by Mon, 08 Jan 2024."},
		{tmpl: "loan_overdue", wantText: "New loans are blocked until Mon, 15 Jan 2024."},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			msg := &core.EmailMessage{
				To:           []mail.Address{{Name: data.Name, Address: "jane@mkopo.test"}},
				TemplateName: tt.tmpl,
				TemplateData: data,
			}
			require.NoError(t, msg.Render())
			assert.True(t, msg.HasContent())
			assert.Contains(t, msg.TextContent, "Hello Jane Doe,")
			assert.Contains(t, msg.TextContent, tt.wantText)
			assert.Contains(t, msg.HTMLContent, data.LoanGUID)
		})
	}
}
