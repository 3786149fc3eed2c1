package security_test

import (
	"errors"
	"testing"

	"github.com/parsify-dev/codexec/internal/apperror"
	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireSecurityError(t *testing.T, err error, category string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrSecurity))

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, category, appErr.Category)
}

func TestValidateCode(t *testing.T) {
	v := security.New()

	t.Run("javascript denylist", func(t *testing.T) {
		cases := []struct {
			code     string
			category string
		}{
			{`eval("2+2")`, security.CategoryDynamicEval},
			{`const f = new Function("return 1")`, security.CategoryDynamicEval},
			{`setTimeout(() => {}, 10)`, security.CategoryDeferredExec},
			{`setInterval(tick, 100)`, security.CategoryDeferredExec},
			{`const fs = require("fs")`, security.CategoryModuleImport},
			{`const m = await import("node:fs")`, security.CategoryModuleImport},
			{`process.exit(1)`, security.CategoryProcess},
			{`console.log(process.env.SECRET)`, security.CategoryHostGlobals},
			{`globalThis.escape = 1`, security.CategoryHostGlobals},
		}
		for _, tc := range cases {
			err := v.ValidateCode(tc.code, language.JavaScript)
			requireSecurityError(t, err, tc.category)
		}
	})

	t.Run("typescript shares the javascript denylist", func(t *testing.T) {
		err := v.ValidateCode(`eval("x")`, language.TypeScript)
		requireSecurityError(t, err, security.CategoryDynamicEval)
	})

	t.Run("python denylist", func(t *testing.T) {
		cases := []struct {
			code     string
			category string
		}{
			{`eval("2+2")`, security.CategoryDynamicEval},
			{`exec("print(1)")`, security.CategoryDynamicEval},
			{`__import__("os")`, security.CategoryModuleImport},
			{`import importlib`, security.CategoryModuleImport},
			{`open("/etc/passwd")`, security.CategoryFilesystem},
			{`name = input()`, security.CategoryInput},
			{`os.system("ls")`, security.CategoryOSCommand},
			{`import subprocess`, security.CategoryOSCommand},
			{`import ctypes`, security.CategoryNative},
		}
		for _, tc := range cases {
			err := v.ValidateCode(tc.code, language.Python)
			requireSecurityError(t, err, tc.category)
		}
	})

	t.Run("rust denylist", func(t *testing.T) {
		err := v.ValidateCode(`use std::process::Command;`, language.Rust)
		requireSecurityError(t, err, security.CategoryOSCommand)

		err = v.ValidateCode(`use std::fs::File;`, language.Rust)
		requireSecurityError(t, err, security.CategoryFilesystem)
	})

	t.Run("c denylist", func(t *testing.T) {
		err := v.ValidateCode(`int main() { system("ls"); }`, language.C)
		requireSecurityError(t, err, security.CategoryOSCommand)

		err = v.ValidateCode(`int main() { fork(); }`, language.CPP)
		requireSecurityError(t, err, security.CategoryProcess)
	})

	t.Run("benign code passes", func(t *testing.T) {
		assert.NoError(t, v.ValidateCode(`console.log("Hello, World!")`, language.JavaScript))
		assert.NoError(t, v.ValidateCode("print(sum(range(10)))", language.Python))
		assert.NoError(t, v.ValidateCode(`fn main() { println!("hi"); }`, language.Rust))
		assert.NoError(t, v.ValidateCode("#include <stdio.h>\nint main() { printf(\"hi\\n\"); }", language.C))
	})

	t.Run("identifiers containing denylisted words pass", func(t *testing.T) {
		// "medieval" contains "eval" but is not a call to it.
		assert.NoError(t, v.ValidateCode(`const medieval = 1; console.log(medieval)`, language.JavaScript))
	})

	t.Run("unknown language", func(t *testing.T) {
		err := v.ValidateCode("puts 'hi'", language.ID("ruby"))
		assert.True(t, errors.Is(err, apperror.ErrUnsupportedLanguage))
	})
}

func TestValidateArgs(t *testing.T) {
	v := security.New()

	assert.NoError(t, v.ValidateArgs(nil))
	assert.NoError(t, v.ValidateArgs([]string{"alpha", "42", "some value"}))

	requireSecurityError(t, v.ValidateArgs([]string{"ok", "a; rm -rf /"}), security.CategoryArgs)
	requireSecurityError(t, v.ValidateArgs([]string{"$(whoami)"}), security.CategoryArgs)
	requireSecurityError(t, v.ValidateArgs([]string{"--eval"}), security.CategoryArgs)
	requireSecurityError(t, v.ValidateArgs([]string{"-e"}), security.CategoryArgs)
}

func TestValidateEnv(t *testing.T) {
	v := security.New()

	assert.NoError(t, v.ValidateEnv(nil))
	assert.NoError(t, v.ValidateEnv(map[string]string{"GREETING": "hello", "COUNT": "3"}))

	requireSecurityError(t, v.ValidateEnv(map[string]string{"PATH": "/tmp"}), security.CategoryEnv)
	requireSecurityError(t, v.ValidateEnv(map[string]string{"home": "/tmp"}), security.CategoryEnv)
	requireSecurityError(t, v.ValidateEnv(map[string]string{"LD_PRELOAD": "/x.so"}), security.CategoryEnv)
	requireSecurityError(t, v.ValidateEnv(map[string]string{"AWS_SECRET_ACCESS_KEY": "x"}), security.CategoryEnv)
	requireSecurityError(t, v.ValidateEnv(map[string]string{"BAD NAME": "x"}), security.CategoryEnv)
	requireSecurityError(t, v.ValidateEnv(map[string]string{"X": "`whoami`"}), security.CategoryEnv)
}
