// Package reservations turns create_reservation tool calls into stored bookings.
package reservations

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var ErrInvalidArguments = errors.New("invalid reservation details")

const maxGuests = 1000

// Arguments are the normalized create_reservation parameters.
// Time is always HH:MM:SS once parsed.
type Arguments struct {
	Name   string `mapstructure:"name" validate:"required"`
	Email  string `mapstructure:"email" validate:"required,email"`
	Date   string `mapstructure:"date" validate:"required,datetime=2006-01-02"`
	Time   string `mapstructure:"time" validate:"required,datetime=15:04:05"`
	Guests int    `mapstructure:"guests" validate:"min=1,max=1000"`
}

type textFields struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
	Date  string `mapstructure:"date"`
	Time  string `mapstructure:"time"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

// ParseArguments decodes the model's argument JSON. Scalar fields are decoded
// weakly (a numeric name becomes a string) and guests goes through CoerceGuests.
// Missing required fields are an error, never defaulted.
func ParseArguments(raw string) (Arguments, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Arguments{}, fmt.Errorf("%w: arguments are not a JSON object", ErrInvalidArguments)
	}

	var text textFields
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &text,
	})
	if err != nil {
		return Arguments{}, err
	}
	if err := dec.Decode(fields); err != nil {
		return Arguments{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	args := Arguments{
		Name:   strings.TrimSpace(text.Name),
		Email:  strings.TrimSpace(text.Email),
		Date:   strings.TrimSpace(text.Date),
		Time:   NormalizeTime(text.Time),
		Guests: CoerceGuests(fields["guests"]),
	}
	if err := validate.Struct(args); err != nil {
		return Arguments{}, describeValidation(err)
	}
	return args, nil
}

// CoerceGuests turns a loosely typed party size into a positive integer.
// Missing, non-numeric and non-positive values default to 1. Fractions truncate.
func CoerceGuests(v any) int {
	var n float64
	switch g := v.(type) {
	case float64:
		n = g
	case int:
		n = float64(g)
	case json.Number:
		f, err := g.Float64()
		if err != nil {
			return 1
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(g), 64)
		if err != nil {
			return 1
		}
		n = f
	default:
		return 1
	}
	if math.IsNaN(n) || n < 1 {
		return 1
	}
	if n > maxGuests {
		// out of range; left for validation to reject
		return maxGuests + 1
	}
	return int(n)
}

var clockLayouts = []string{"15:04:05", "15:04", "3:04 PM", "3:04PM", "3PM", "3 PM"}

// NormalizeTime converts HH:MM (and a few spoken 12h forms) to HH:MM:SS.
// Input it cannot read is returned trimmed so validation reports it.
func NormalizeTime(s string) string {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, upper); err == nil {
			return t.Format("15:04:05")
		}
	}
	return s
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch {
		case fe.Tag() == "required":
			msgs = append(msgs, fe.Field()+" is required")
		case fe.Tag() == "email":
			msgs = append(msgs, "email is not a valid address")
		case fe.Field() == "date":
			msgs = append(msgs, "date must be YYYY-MM-DD")
		case fe.Field() == "time":
			msgs = append(msgs, "time must be HH:MM")
		case fe.Field() == "guests":
			msgs = append(msgs, fmt.Sprintf("guests must be between 1 and %d", maxGuests))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}
