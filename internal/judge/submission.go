package judge

import (
	"os"
	"path/filepath"
	"strings"

	"judgecore/internal/judge/language"
	"judgecore/internal/judge/testdata"
	appErr "judgecore/pkg/errors"
)

// Submission is one program judged against a case set.
type Submission struct {
	ID       string
	Language string
	Code     string
	Cases    []testdata.Case
}

// ValidateSubmission checks a submission before any sandbox work starts.
func (j *Judge) ValidateSubmission(sub Submission) (language.Spec, error) {
	if strings.TrimSpace(sub.Code) == "" {
		return language.Spec{}, invalid("code", "Code cannot be empty")
	}
	if len(sub.Code) > j.cfg.MaxCodeBytes {
		return language.Spec{}, appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", j.cfg.MaxCodeBytes)
	}
	if strings.TrimSpace(sub.Language) == "" {
		return language.Spec{}, invalid("language", "Language must be specified")
	}
	lang, err := j.languages.Lookup(sub.Language)
	if err != nil {
		return language.Spec{}, err
	}
	if len(sub.Cases) == 0 {
		return language.Spec{}, invalid("cases", "At least one test case is required")
	}
	return lang, nil
}

func invalid(field, msg string) error {
	return appErr.New(appErr.ValidationFailed).WithMessage(msg).WithDetail("field", field)
}

// prepareSource writes the normalised submission into a fresh directory.
// The caller removes the directory.
func (j *Judge) prepareSource(lang language.Spec, code string) (string, error) {
	dir, err := os.MkdirTemp(j.cfg.ScratchRoot, "judge-src-")
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "create source dir failed")
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "chmod source dir failed")
	}
	path := filepath.Join(dir, lang.SourceFile)
	if err := os.WriteFile(path, []byte(lang.PrepareSource(code)), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
	}
	return dir, nil
}
