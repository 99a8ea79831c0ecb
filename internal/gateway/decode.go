package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var shape = newShapeValidator()

func newShapeValidator() *validator.Validate {
	v := validator.New()
	// Report wire names, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody parses a 2xx body into out and checks it against the declared
// shape. Backend bodies are untrusted.
func decodeBody(data []byte, out any) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return errors.New("empty body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if reflect.Indirect(reflect.ValueOf(out)).Kind() != reflect.Struct {
		return nil
	}
	if err := shape.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", trimNamespace(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("invalid fields: %s", strings.Join(fields, "; "))
		}
		return err
	}
	return nil
}

// trimNamespace drops the root type name from a validator namespace.
func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
