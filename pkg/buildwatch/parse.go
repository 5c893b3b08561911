package buildwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/deploybot/internal/assets/schemas"
)

// ErrInvalidEvent indicates a payload that is not a build notification.
var ErrInvalidEvent = errors.New("invalid build event")

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.JenkinsNotificationSchema) == 0 {
			validatorErr = errors.New("embedded notification schema is empty")
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.JenkinsNotificationSchema)
	})
	return validator, validatorErr
}

// ParseEvent validates data against the notification schema and decodes it.
func ParseEvent(data []byte) (Event, error) {
	v, err := getValidator()
	if err != nil {
		return Event{}, fmt.Errorf("compile notification schema: %w", err)
	}

	diags, err := v.ValidateJSON(data)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var problems []string
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			if d.Pointer != "" {
				problems = append(problems, d.Pointer+": "+d.Message)
			} else {
				problems = append(problems, d.Message)
			}
		}
	}
	if len(problems) > 0 {
		return Event{}, fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(problems, "; "))
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return ev, nil
}
