package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkpeek/linkpeek/pkg/cache"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
user_agent: "test-agent/1.0"
scrape_timeout: 3s
shorteners:
  default: googl
`)

	cfg, warnings, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "test-agent/1.0", cfg.UserAgent)
	assert.Equal(t, "googl", cfg.Shorteners.Default)
	assert.Equal(t, "memory", cfg.ExpansionStore.Backend)
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, _, err := loadConfig("")

	require.NoError(t, err)
	assert.Equal(t, "tinyurl", cfg.Shorteners.Default)
	assert.Positive(t, cfg.ScrapeTimeout)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, _, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "{{invalid yaml")

	_, _, err := loadConfig(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate_Valid(t *testing.T) {
	cfgPath := writeConfig(t, `
expansion_store:
  backend: badger
max_retries: -1
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "WARN: max_retries cannot be negative")
	assert.Contains(t, stdout.String(), "WARN: expansion_store.path is empty")
	assert.Contains(t, stdout.String(), "OK: store=badger")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_Invalid(t *testing.T) {
	cfgPath := writeConfig(t, `
shorteners:
  default: bitly
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "ERROR")
	assert.Contains(t, stderr.String(), "bitly")
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestDoResolve_DirectRules(t *testing.T) {
	cfgPath := writeConfig(t, "temp_dir: "+t.TempDir()+"\n")

	var stdout, stderr bytes.Buffer
	exitCode := doResolve(cfgPath, "error", []string{
		"https://yfrog.com/ab",
		"http://example.com/nothing",
		"https://youtu.be/dQw4w9WgXcQ",
	}, 2, "", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t,
		"https://yfrog.com/ab\thttps://yfrog.com/ab:small\n"+
			"https://youtu.be/dQw4w9WgXcQ\thttp://i.ytimg.com/vi/dQw4w9WgXcQ/default.jpg\n",
		stdout.String())
	assert.Contains(t, stderr.String(), "no thumbnail: http://example.com/nothing")
}

func TestDoResolve_NoneResolved(t *testing.T) {
	cfgPath := writeConfig(t, "temp_dir: "+t.TempDir()+"\n")

	var stdout, stderr bytes.Buffer
	exitCode := doResolve(cfgPath, "error", []string{"not a url"}, 1, "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Empty(t, stdout.String())
}

func TestDoResolve_BadLogLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doResolve("", "chatty", []string{"https://yfrog.com/ab"}, 1, "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "invalid log level")
}

func TestDoResolve_OutDirKeepsRemoteDisplays(t *testing.T) {
	cfgPath := writeConfig(t, "temp_dir: "+t.TempDir()+"\n")
	outDir := filepath.Join(t.TempDir(), "thumbs")

	var stdout, stderr bytes.Buffer
	exitCode := doResolve(cfgPath, "error", []string{"https://yfrog.com/ab"}, 1, outDir, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "https://yfrog.com/ab\thttps://yfrog.com/ab:small\n", stdout.String())
	assert.NoDirExists(t, outDir, "nothing was downloaded")
}

func TestPersist_CopiesLocalFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "abc.png")
	require.NoError(t, os.WriteFile(src, []byte("PNGDATA"), 0644))
	outDir := filepath.Join(t.TempDir(), "kept")

	display, err := persist(cache.FileURI(src), outDir)
	require.NoError(t, err)

	dest := filepath.Join(outDir, "abc.png")
	assert.Equal(t, cache.FileURI(dest), display)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	// The copy survives the cache deleting its own file
	require.NoError(t, os.Remove(src))
	assert.FileExists(t, dest)
}

func TestPersist_RemoteAndMissing(t *testing.T) {
	display, err := persist("http://i.ytimg.com/vi/x/default.jpg", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http://i.ytimg.com/vi/x/default.jpg", display)

	_, err = persist(cache.FileURI(filepath.Join(t.TempDir(), "gone.png")), t.TempDir())
	assert.Error(t, err)
}

func TestDoExpand_NotShort(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doExpand("", "error", "http://example.com/abc", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "not a known short URL host")
}

func TestDoExpand_InvalidURL(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doExpand("", "error", "relative/path", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "invalid URL")
}

func TestDoShorten_UnknownProvider(t *testing.T) {
	cfgPath := writeConfig(t, "temp_dir: "+t.TempDir()+"\n")

	var stdout, stderr bytes.Buffer
	exitCode := doShorten(cfgPath, "error", "http://example.com/long", "bitly", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "no shortener named 'bitly'")
}

func TestDoRules(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doRules(&stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	out := stdout.String()
	assert.Contains(t, out, " 1  yfrog")
	assert.Contains(t, out, "pixiv")
	assert.Contains(t, out, "Total: 14 rule(s)")
}

func TestDoMcpServer_UnknownTransport(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doMcpServer("", "carrier-pigeon", 0, "info", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Unknown transport")
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	for _, cmd := range []string{"resolve", "expand", "shorten", "rules", "validate", "mcp-server", "version"} {
		assert.Contains(t, out, cmd)
	}
}

func TestURLList(t *testing.T) {
	var l urlList
	require.NoError(t, l.Set("a"))
	require.NoError(t, l.Set("b"))
	assert.Equal(t, "a,b", l.String())
}
