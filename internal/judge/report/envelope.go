package report

import (
	"encoding/json"
	stderrors "errors"
	"io"

	"judgecore/internal/sandbox/result"
	appErr "judgecore/pkg/errors"

	"github.com/go-playground/validator/v10"
)

// Compile-check messages shared with the language runners.
const (
	CompileCheckOK       = "Compilation successful"
	CompileCheckMisusage = "This runner should only be used for compilation testing"
)

// Envelope is the four-field record printed by runners.
type Envelope struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
	Output  string  `json:"output"`
	Runtime int64   `json:"runtime" validate:"gte=0"`
}

// Line is one JSON line of CLI output: the envelope plus optional case details.
type Line struct {
	Envelope
	Case   string   `json:"case,omitempty"`
	Result *Payload `json:"result,omitempty"`
}

// Succeeded builds a successful envelope.
func Succeeded(output string, runtimeMs int64) Envelope {
	return Envelope{Success: true, Output: output, Runtime: nonNegative(runtimeMs)}
}

// Failed builds a failed envelope. An empty message falls back to the SystemError name.
func Failed(msg, output string, runtimeMs int64) Envelope {
	if msg == "" {
		msg = appErr.JudgeSystemError.Name()
	}
	return Envelope{Success: false, Error: &msg, Output: output, Runtime: nonNegative(runtimeMs)}
}

// FromError builds a failed envelope from err.
func FromError(err error, runtimeMs int64) Envelope {
	if err == nil {
		return Failed("", "", runtimeMs)
	}
	return Failed(Truncate(err.Error(), DefaultMaxMessageBytes), "", runtimeMs)
}

// Envelope converts a payload into the interop record.
func (p Payload) Envelope() Envelope {
	if p.Verdict == result.Accepted {
		return Succeeded(p.Output, p.RuntimeMs)
	}
	msg := p.Message
	if msg == "" {
		msg = Title(p.Verdict)
	}
	return Failed(msg, p.Output, p.RuntimeMs)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(envelopeStructLevel, Envelope{})
	return v
}

// envelopeStructLevel requires an error exactly when the envelope failed.
func envelopeStructLevel(sl validator.StructLevel) {
	env := sl.Current().Interface().(Envelope)
	if env.Success && env.Error != nil {
		sl.ReportError(env.Error, "Error", "error", "excluded_on_success", "")
	}
	if !env.Success && env.Error == nil {
		sl.ReportError(env.Error, "Error", "error", "required_on_failure", "")
	}
}

// Validate checks an envelope or line before it is written.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return appErr.ValidationError(fe.Field(), fe.Tag())
		}
		return appErr.Wrap(err, appErr.ValidationFailed)
	}
	return nil
}

// Encode validates v and writes it as a single JSON line.
func Encode(w io.Writer, v any) error {
	if err := Validate(v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode envelope failed")
	}
	return nil
}
