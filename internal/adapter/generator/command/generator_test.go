package command

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/altq/internal/domain"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "gen.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wantErr error
	}{
		{name: "valid command", command: "/usr/bin/altgen --model small"},
		{name: "empty", command: "", wantErr: ErrEmptyCommand},
		{name: "only spaces", command: "   ", wantErr: ErrEmptyCommand},
		{name: "null byte", command: "/usr/bin/alt\x00gen", wantErr: ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.command)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, g)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "/usr/bin/altgen", g.path)
			assert.Equal(t, []string{"--model", "small"}, g.args)
		})
	}
}

func TestGenerator_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("passes arguments and returns stdout", func(t *testing.T) {
		g, err := New(writeScript(t, `echo "  $1 $2 $3 $4  "`) + " --fast")
		require.NoError(t, err)

		out, err := g.Generate(ctx, 42, "upload", 2)

		require.NoError(t, err)
		assert.Equal(t, "--fast 42 upload 2", out)
	})

	t.Run("exit 75 is rate limited", func(t *testing.T) {
		g, err := New(writeScript(t, `echo "quota reached" >&2; exit 75`))
		require.NoError(t, err)

		_, err = g.Generate(ctx, 1, "auto", 0)

		assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
		assert.Contains(t, err.Error(), "quota reached")
	})

	t.Run("exit 65 is not eligible", func(t *testing.T) {
		g, err := New(writeScript(t, `exit 65`))
		require.NoError(t, err)

		_, err = g.Generate(ctx, 1, "auto", 0)

		assert.Equal(t, domain.KindNotEligible, domain.KindOf(err))
		assert.Contains(t, err.Error(), "status 65")
	})

	t.Run("other exit codes are generic failures", func(t *testing.T) {
		g, err := New(writeScript(t, `echo boom >&2; exit 1`))
		require.NoError(t, err)

		_, err = g.Generate(ctx, 1, "auto", 0)

		assert.Equal(t, domain.KindOther, domain.KindOf(err))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("empty output is a failure", func(t *testing.T) {
		g, err := New(writeScript(t, `true`))
		require.NoError(t, err)

		_, err = g.Generate(ctx, 1, "auto", 0)

		assert.Equal(t, domain.KindOther, domain.KindOf(err))
	})

	t.Run("missing binary is a failure", func(t *testing.T) {
		g, err := New(filepath.Join(t.TempDir(), "does-not-exist"))
		require.NoError(t, err)

		_, err = g.Generate(ctx, 1, "auto", 0)

		assert.Error(t, err)
		assert.Equal(t, domain.KindOther, domain.KindOf(err))
	})

	t.Run("timeout is reported as deadline exceeded", func(t *testing.T) {
		g, err := New(writeScript(t, `exec sleep 5`))
		require.NoError(t, err)
		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		_, err = g.Generate(tctx, 1, "auto", 0)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, domain.KindOther, domain.KindOf(err))
	})
}
