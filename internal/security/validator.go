// Package security implements the static pre-execution gate: per-language
// denylists over code, plus argument and environment checks. It is
// defense-in-depth in front of the container boundary, not a full analyzer;
// every rejection names the violated category.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/parsify-dev/codexec/internal/apperror"
	"github.com/parsify-dev/codexec/internal/language"
)

// Denylist categories reported in SecurityViolation errors.
const (
	CategoryDynamicEval  = "dynamic-evaluation"
	CategoryDeferredExec = "deferred-execution"
	CategoryModuleImport = "module-import"
	CategoryProcess      = "process-control"
	CategoryHostGlobals  = "host-globals"
	CategoryFilesystem   = "filesystem-access"
	CategoryInput        = "interactive-input"
	CategoryOSCommand    = "os-command"
	CategoryNative       = "native-interface"
	CategoryNetwork      = "network-access"
	CategoryArgs         = "argument-injection"
	CategoryEnv          = "environment-access"
)

type pattern struct {
	category string
	re       *regexp.Regexp
	what     string
}

func pat(category, expr, what string) pattern {
	return pattern{category: category, re: regexp.MustCompile(expr), what: what}
}

var jsPatterns = []pattern{
	pat(CategoryDynamicEval, `\beval\s*\(`, "eval()"),
	pat(CategoryDynamicEval, `\bnew\s+Function\s*\(`, "Function constructor"),
	pat(CategoryDynamicEval, `\bFunction\s*\(\s*["'`+"`"+`]`, "Function constructor"),
	pat(CategoryDeferredExec, `\bsetTimeout\s*\(`, "setTimeout()"),
	pat(CategoryDeferredExec, `\bsetInterval\s*\(`, "setInterval()"),
	pat(CategoryModuleImport, `\brequire\s*\(`, "require()"),
	pat(CategoryModuleImport, `\bimport\s*\(`, "dynamic import()"),
	pat(CategoryProcess, `\bprocess\s*\.\s*exit\b`, "process.exit"),
	pat(CategoryHostGlobals, `\bprocess\s*\.\s*env\b`, "process.env"),
	pat(CategoryHostGlobals, `\bglobal(?:This)?\s*\.`, "host global object"),
}

var pyPatterns = []pattern{
	pat(CategoryDynamicEval, `\beval\s*\(`, "eval()"),
	pat(CategoryDynamicEval, `\bexec\s*\(`, "exec()"),
	pat(CategoryDynamicEval, `\bcompile\s*\(`, "compile()"),
	pat(CategoryModuleImport, `__import__\s*\(`, "__import__()"),
	pat(CategoryModuleImport, `\bimportlib\b`, "importlib"),
	pat(CategoryFilesystem, `\bopen\s*\(`, "open()"),
	pat(CategoryInput, `\binput\s*\(`, "input()"),
	pat(CategoryOSCommand, `\bos\s*\.\s*(system|popen|exec\w*|spawn\w*)\b`, "os command execution"),
	pat(CategoryOSCommand, `\bsubprocess\b`, "subprocess"),
	pat(CategoryNative, `\bctypes\b`, "ctypes"),
	pat(CategoryNetwork, `\bsocket\b`, "socket"),
}

var rustPatterns = []pattern{
	pat(CategoryOSCommand, `\bstd\s*::\s*process\b`, "std::process"),
	pat(CategoryFilesystem, `\bstd\s*::\s*fs\b`, "std::fs"),
	pat(CategoryNetwork, `\bstd\s*::\s*net\b`, "std::net"),
	pat(CategoryNative, `\blibc\s*::`, "libc bindings"),
	pat(CategoryModuleImport, `\binclude_(?:str|bytes)!\s*\(`, "include! of host files"),
}

var cPatterns = []pattern{
	pat(CategoryOSCommand, `\bsystem\s*\(`, "system()"),
	pat(CategoryOSCommand, `\bpopen\s*\(`, "popen()"),
	pat(CategoryProcess, `\bfork\s*\(`, "fork()"),
	pat(CategoryProcess, `\bexec[lv]p?e?\s*\(`, "exec family"),
	pat(CategoryNetwork, `\bsocket\s*\(`, "socket()"),
	pat(CategoryFilesystem, `\bfopen\s*\(\s*"/`, "fopen() on an absolute path"),
}

// denylists maps each language to its pattern set. TypeScript shares the
// JavaScript list: the escape vectors are identical after transpilation.
var denylists = map[language.ID][]pattern{
	language.JavaScript: jsPatterns,
	language.TypeScript: jsPatterns,
	language.Python:     pyPatterns,
	language.Rust:       rustPatterns,
	language.C:          cPatterns,
	language.CPP:        cPatterns,
}

// sensitiveEnvNames are host variables a snippet must not see or shadow.
var sensitiveEnvNames = map[string]bool{
	"PATH":            true,
	"HOME":            true,
	"SHELL":           true,
	"USER":            true,
	"LOGNAME":         true,
	"LD_PRELOAD":      true,
	"LD_LIBRARY_PATH": true,
}

var sensitiveEnvPrefixes = []string{"SSH_", "AWS_", "DOCKER_", "KUBERNETES_"}

var (
	envNameRe     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	shellMetaRe   = regexp.MustCompile("[;|&`$<>\\\\\n]")
	argFlagLikeRe = regexp.MustCompile(`^-{1,2}[A-Za-z]`)
)

// Validator is the static pre-execution gate. The zero value is not usable;
// construct with New.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// ValidateCode rejects code matching the language's denylist.
func (v *Validator) ValidateCode(code string, id language.ID) error {
	patterns, ok := denylists[id]
	if !ok {
		return apperror.UnsupportedLanguage(id.String())
	}
	for _, p := range patterns {
		if p.re.MatchString(code) {
			return apperror.SecurityViolation(p.category,
				fmt.Sprintf("code contains %s, which is not permitted in the sandbox (%s)", p.what, p.category))
		}
	}
	return nil
}

// ValidateArgs rejects arguments that look like shell flags or carry shell
// metacharacters, independent of the code body.
func (v *Validator) ValidateArgs(args []string) error {
	for i, a := range args {
		if shellMetaRe.MatchString(a) {
			return apperror.SecurityViolation(CategoryArgs,
				fmt.Sprintf("argument %d contains shell metacharacters (%s)", i, CategoryArgs))
		}
		if argFlagLikeRe.MatchString(a) {
			return apperror.SecurityViolation(CategoryArgs,
				fmt.Sprintf("argument %d looks like an interpreter flag: %q (%s)", i, a, CategoryArgs))
		}
	}
	return nil
}

// ValidateEnv rejects malformed names, names of sensitive host variables,
// and values carrying shell metacharacters.
func (v *Validator) ValidateEnv(env map[string]string) error {
	for name, value := range env {
		if !envNameRe.MatchString(name) {
			return apperror.SecurityViolation(CategoryEnv,
				fmt.Sprintf("environment variable name %q is not valid (%s)", name, CategoryEnv))
		}
		upper := strings.ToUpper(name)
		if sensitiveEnvNames[upper] {
			return apperror.SecurityViolation(CategoryEnv,
				fmt.Sprintf("environment variable %q shadows a sensitive host variable (%s)", name, CategoryEnv))
		}
		for _, prefix := range sensitiveEnvPrefixes {
			if strings.HasPrefix(upper, prefix) {
				return apperror.SecurityViolation(CategoryEnv,
					fmt.Sprintf("environment variable %q shadows a sensitive host variable (%s)", name, CategoryEnv))
			}
		}
		if shellMetaRe.MatchString(value) {
			return apperror.SecurityViolation(CategoryEnv,
				fmt.Sprintf("environment variable %q has a value with shell metacharacters (%s)", name, CategoryEnv))
		}
	}
	return nil
}
