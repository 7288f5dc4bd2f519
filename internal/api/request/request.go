package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
)

// Stack set names start with a letter and hold letters, digits and hyphens.
var stackSetNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]{0,127}$`)

// Instances is the body of POST /stacksets/{name}/instances.
type Instances struct {
	Accounts []string `json:"target_accounts" validate:"required,min=1,dive,awsaccount"`
	Regions  []string `json:"target_regions" validate:"required,min=1,dive,required"`
}

// Decode reads a JSON body into v and checks its validate tags.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := model.Validate(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

func StackSetName(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing stack set name")
	}
	if !stackSetNameRegex.MatchString(s) {
		return "", fmt.Errorf("invalid stack set name %q", s)
	}
	return s, nil
}
