package scan

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// Checks submission shape. Returns a *ValidationError for any problem, which callers should treat as non-retriable.
func (s *Submission) Validate() error {
	if s == nil {
		return &ValidationError{Message: "empty submission"}
	}
	if err := validate.Struct(s); err != nil {
		return formatValidationErrors(err)
	}
	if fields := s.checkConfidenceScale(); len(fields) > 0 {
		return &ValidationError{Message: "validation failed", Fields: fields}
	}
	if s.Source == SourceHash && (s.Hash == nil || *s.Hash == "") {
		return &ValidationError{
			Message: "validation failed",
			Fields:  map[string]string{"hash": "is required for hash source"},
		}
	}
	return nil
}

// Confidences above the source's scale maximum are rejected rather than rescaled.
func (s *Submission) checkConfidenceScale() map[string]string {
	scale := s.Source.ConfidenceScale()
	max := scale.Max()
	fields := make(map[string]string)
	check := func(path string, tags []RawTag) {
		for i, t := range tags {
			if t.Confidence != nil && *t.Confidence > max {
				fields[fmt.Sprintf("%s[%d].confidence", path, i)] = fmt.Sprintf("must be at most %g for %s source", max, s.Source)
			}
		}
	}
	check("tags", s.Tags)
	for i, r := range s.Result {
		check(fmt.Sprintf("result[%d].tags", i), r.Tags)
	}
	return fields
}

func formatValidationErrors(err error) *ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = validationMessage(fe)
		}
		return &ValidationError{Message: "validation failed", Fields: fields}
	}
	return &ValidationError{Message: "validation failed", Err: err}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}
