package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/joescharf/courseforge/internal/models"
)

func TestCmd(t *testing.T) {
	got := Cmd(Cd(`D:\iCode\App`), "dir /a")
	assert.Equal(t, `cmd.exe /c "cd /d D:\iCode\App && dir /a"`, got)
}

func TestInEnv(t *testing.T) {
	got := InEnv(`C:\Users\me\miniconda3\`, "pro", "pip list")
	assert.Equal(t, `cmd.exe /c ""C:\Users\me\miniconda3\Scripts\activate.bat" pro && pip list"`, got)
}

func TestWinJoin(t *testing.T) {
	assert.Equal(t, `D:\iCode\App\dist\App.exe`, WinJoin(`D:\iCode\App\`, "dist", "App.exe"))
	assert.Equal(t, `D:\a\b\c`, WinJoin(`D:\a`, "b/c"))
}

func TestResultHasStderr(t *testing.T) {
	assert.False(t, Result{Stderr: " \r\n"}.HasStderr())
	assert.True(t, Result{Stderr: "系统找不到指定的路径。"}.HasStderr())
}

func TestDecode_GBK(t *testing.T) {
	raw, err := simplifiedchinese.GBK.NewEncoder().String("0 个文件")
	require.NoError(t, err)

	d, err := newDecoder("gbk")
	require.NoError(t, err)
	assert.Equal(t, "0 个文件", Decode(d, []byte(raw)))
	assert.Equal(t, "plain", Decode(nil, []byte("plain")))
}

func TestNewDecoder_Unknown(t *testing.T) {
	_, err := newDecoder("klingon")
	assert.Error(t, err)

	d, err := newDecoder("")
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestHostKeyCallback(t *testing.T) {
	cb, err := hostKeyCallback("")
	require.NoError(t, err)
	assert.NotNil(t, cb)

	_, err = hostKeyCallback("/nonexistent/known_hosts")
	assert.Error(t, err)
}

func TestOpen_ConnectionRefused(t *testing.T) {
	m := &models.Machine{Host: "127.0.0.1", Port: 1, Username: "u", Password: "p", RemoteRoot: `D:\x`}
	s, err := Open(context.Background(), m, Options{})
	assert.Nil(t, s)
	assert.Error(t, err)
}

func TestSessionClose_Idempotent(t *testing.T) {
	s := &Session{}
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
