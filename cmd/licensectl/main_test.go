package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeConfig writes a configuration that signs with the PEM key store in
// dir and keeps the license key in a file
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := fmt.Sprintf(`
logging:
  level: error
license:
  subject: Acme 1.X
  compression: zstd
store:
  kind: file
  path: %s
keystore:
  path: %s
  type: PEM
  alias: vendor
  password: unused12
encryption:
  password: secret12
  scrypt_n: 1024
`, filepath.Join(dir, "installed.key"), filepath.Join(dir, "private.pem"))
	path := filepath.Join(dir, "licensectl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "keygen", "--alias", "vendor", "--type", "Ed25519", "--out-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"vendor"`)

	private, err := os.ReadFile(filepath.Join(dir, "private.pem"))
	require.NoError(t, err)
	assert.Contains(t, string(private), "PRIVATE KEY")
	public, err := os.ReadFile(filepath.Join(dir, "public.pem"))
	require.NoError(t, err)
	assert.NotContains(t, string(public), "PRIVATE KEY")
	assert.Contains(t, string(public), "CERTIFICATE")
}

func TestKeygenRejectsWeakKeyPassword(t *testing.T) {
	_, err := execute(t, "keygen", "--out-dir", t.TempDir(), "--key-password", "weak")
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "keygen", "--alias", "vendor", "--out-dir", dir)
	require.NoError(t, err)
	cfg := writeConfig(t, dir)

	definition := filepath.Join(dir, "acme.json")
	require.NoError(t, os.WriteFile(definition, []byte(`{"holder":"CN=Customer Inc.","consumerAmount":5,"info":"CLI test"}`), 0o600))
	keyFile := filepath.Join(dir, "acme.key")

	out, err := execute(t, "--config", cfg, "generate", "--in", definition, "--out", keyFile)
	require.NoError(t, err)
	var generated map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &generated))
	assert.Equal(t, "Acme 1.X", generated["subject"])
	assert.Equal(t, "CN=Acme 1.X", generated["issuer"])
	assert.Equal(t, float64(5), generated["consumerAmount"])

	out, err = execute(t, "--config", cfg, "install", keyFile)
	require.NoError(t, err)
	assert.Contains(t, out, "CN=Customer Inc.")

	out, err = execute(t, "--config", cfg, "view")
	require.NoError(t, err)
	assert.Contains(t, out, "CLI test")

	out, err = execute(t, "--config", cfg, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	out, err = execute(t, "--config", cfg, "uninstall")
	require.NoError(t, err)
	assert.Contains(t, out, "uninstalled")

	_, err = execute(t, "--config", cfg, "view")
	require.Error(t, err)
	assert.Equal(t, "license management failed", err.Error())
}

func TestInstallRejectsForeignKey(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "keygen", "--alias", "vendor", "--out-dir", dir)
	require.NoError(t, err)
	cfg := writeConfig(t, dir)

	forged := filepath.Join(dir, "forged.key")
	require.NoError(t, os.WriteFile(forged, []byte("not a license key"), 0o600))
	_, err = execute(t, "--config", cfg, "install", forged)
	require.Error(t, err)
	assert.Equal(t, "license management failed", err.Error())
}

func TestGenerateRequiresOut(t *testing.T) {
	_, err := execute(t, "generate")
	assert.Error(t, err)
}
