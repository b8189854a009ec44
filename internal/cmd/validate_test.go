package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	templates := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(templates, []byte(`
- name: root
- name: example
  parent: root
  environments: [ui]
- name: start
  parent: example
`), 0o644))

	validateTypesFile = ""
	validateTemplatesFile = templates
	assert.NoError(t, runValidate(validateCmd, nil))
}

func TestRunValidateRejectsBrokenSet(t *testing.T) {
	dir := t.TempDir()
	templates := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(templates, []byte(`
- name: root
- name: orphan
  parent: nowhere
`), 0o644))

	validateTypesFile = ""
	validateTemplatesFile = templates
	assert.Error(t, runValidate(validateCmd, nil))
}
