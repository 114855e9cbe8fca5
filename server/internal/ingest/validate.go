package ingest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// newValidator returns a validator reporting fields by their JSON names.
// A single instance is kept per Gateway because it caches struct parsing.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// structural runs tag validation and converts failures to field errors
// such as "items[2].longitude".
func structural(v *validator.Validate, req *types.BatchRequest, ve *types.ValidationError) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("ingest: validate: %w", err)
	}
	for _, fe := range verrs {
		ve.Add(fieldPath(fe.Namespace()), detail(fe))
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func detail(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return "must contain at least " + fe.Param() + " item(s)"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "longitude":
		return "must be within [-180, 180]"
	case "latitude":
		return "must be within [-90, 90]"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
