package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// errEmptyBody is returned by decodeJSON when the request has no body.
var errEmptyBody = errors.New("request body is empty")

// decodeJSON strictly decodes the body into dest and runs struct validation.
func decodeJSON(r *http.Request, dest any) error {
	if err := decodeBody(r, dest); err != nil {
		return err
	}
	return validate.Struct(dest)
}

// decodeBody is decodeJSON without validation, for handlers that fill in
// fields from the route before validating.
func decodeBody(r *http.Request, dest any) error {
	defer io.Copy(io.Discard, r.Body)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("%w: %v", ledger.ErrInvalidTransaction, err)
	}
	return nil
}

// validationDetails flattens validator errors into field -> message.
func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Namespace()] = validationMessage(fe)
	}
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "datetime":
		return fmt.Sprintf("must match %s", fe.Param())
	}
	return "is invalid"
}

// =============================================================================
// QUERY PARAMETERS
// =============================================================================

func queryString(r *http.Request, key string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil
	}
	return &v
}

func queryInt(r *http.Request, key string) (*int64, error) {
	raw := queryString(r, key)
	if raw == nil {
		return nil, nil
	}
	n, err := strconv.ParseInt(*raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", ledger.ErrInvalidTransaction, key)
	}
	return &n, nil
}

// queryTime accepts RFC 3339 timestamps or plain YYYY-MM-DD days.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := queryString(r, key)
	if raw == nil {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, *raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := ledger.ParseDay(*raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", ledger.ErrInvalidTransaction, key)
	}
	t := d.Start()
	return &t, nil
}

func queryDay(r *http.Request, key string) (*ledger.Day, error) {
	raw := queryString(r, key)
	if raw == nil {
		return nil, nil
	}
	d, err := ledger.ParseDay(*raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", ledger.ErrInvalidTransaction, key)
	}
	return &d, nil
}
