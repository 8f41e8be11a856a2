package apperror

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// MsgInvalidBody is returned when the request body is not parseable JSON.
const MsgInvalidBody = "invalid request body"

var (
	uuidType = reflect.TypeOf(uuid.UUID{})
	timeType = reflect.TypeOf(time.Time{})
)

// Bind decodes a JSON request body into v. Values of the wrong shape are
// reported per field as a validation error; only unparseable JSON gets the
// generic message. An empty body leaves v untouched.
func Bind(c echo.Context, v interface{}) error {
	req := c.Request()
	if req.Body == nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, MsgInvalidBody).SetInternal(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if ct := req.Header.Get(echo.HeaderContentType); ct != "" && !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		return echo.ErrUnsupportedMediaType
	}
	return Decode(data, v)
}

// Decode unmarshals data into v with the same error mapping as Bind.
func Decode(data []byte, v interface{}) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return echo.NewHTTPError(http.StatusBadRequest, MsgInvalidBody).SetInternal(err)
	}

	target := reflect.TypeOf(v)
	for target != nil && target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	var raw map[string]json.RawMessage
	if target == nil || target.Kind() != reflect.Struct || json.Unmarshal(data, &raw) != nil {
		return echo.NewHTTPError(http.StatusBadRequest, MsgInvalidBody).SetInternal(err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs FieldErrors
	for _, k := range keys {
		single, _ := json.Marshal(map[string]json.RawMessage{k: raw[k]})
		scratch := reflect.New(target).Interface()
		if json.Unmarshal(single, scratch) == nil {
			continue
		}
		errs.Add(k, expectation(fieldType(target, k)))
	}
	if len(errs) == 0 {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			errs.Add(typeErr.Field, expectation(typeErr.Type))
		} else {
			return echo.NewHTTPError(http.StatusBadRequest, MsgInvalidBody).SetInternal(err)
		}
	}
	return errs.Err()
}

// fieldType finds the struct field encoding/json would fill for key.
func fieldType(t reflect.Type, key string) reflect.Type {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			if ft := fieldType(f.Type, key); ft != nil {
				return ft
			}
			continue
		}
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.EqualFold(name, key) {
			return f.Type
		}
	}
	return nil
}

func expectation(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "has an invalid value"
	}
	switch t {
	case uuidType:
		return "must be a valid UUID"
	case timeType:
		return "must be an RFC 3339 timestamp"
	}
	switch t.Kind() {
	case reflect.String:
		return "must be a string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "must be an integer"
	case reflect.Float32, reflect.Float64:
		return "must be a number"
	case reflect.Bool:
		return "must be a boolean"
	case reflect.Slice, reflect.Array:
		return "must be an array"
	case reflect.Struct, reflect.Map:
		return "must be an object"
	}
	return "has an invalid value"
}
