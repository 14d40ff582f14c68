package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RegisterBuiltins installs the demo tool set: a calculator plus two
// numerology helpers the assistant can reach for in conversation.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		spec    Spec
		handler Handler
	}{
		{
			spec: Spec{
				Name:        "add",
				Description: "Add two numbers and return the sum.",
				Schema: ObjectSchema(map[string]Property{
					"a": {Type: "number", Description: "First addend"},
					"b": {Type: "number", Description: "Second addend"},
				}, "a", "b"),
			},
			handler: addHandler,
		},
		{
			spec: Spec{
				Name: "life_path_number",
				Description: "Compute the numerology life path number for a " +
					"birth date given as YYYY-MM-DD.",
				Schema: ObjectSchema(map[string]Property{
					"birth_date": {Type: "string", Description: "Birth date in YYYY-MM-DD format"},
				}, "birth_date"),
			},
			handler: lifePathHandler,
		},
		{
			spec: Spec{
				Name: "name_number",
				Description: "Compute the numerology expression number for a " +
					"name using Pythagorean letter values.",
				Schema: ObjectSchema(map[string]Property{
					"name": {Type: "string", Description: "Full name, letters only are counted"},
				}, "name"),
			},
			handler: nameNumberHandler,
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.spec, b.handler); err != nil {
			return err
		}
	}
	return nil
}

func addHandler(_ context.Context, args map[string]interface{}) (interface{}, error) {
	a, _ := toFloat(args["a"])
	b, _ := toFloat(args["b"])
	return map[string]interface{}{"sum": a + b}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func lifePathHandler(_ context.Context, args map[string]interface{}) (interface{}, error) {
	raw, _ := args["birth_date"].(string)
	date, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("birth_date %q is not a valid YYYY-MM-DD date", raw)
	}

	// month, day and year reduce independently so a master number in any
	// component survives into the final sum
	month := reduceWithMasters(int(date.Month()))
	day := reduceWithMasters(date.Day())
	year := reduceWithMasters(digitSum(date.Year()))
	number := reduceWithMasters(month + day + year)

	return map[string]interface{}{
		"birth_date":       date.Format("2006-01-02"),
		"life_path_number": number,
		"is_master_number": number == 11 || number == 22 || number == 33,
	}, nil
}

// pythagorean maps A..Z to 1..9 cyclically.
func pythagorean(r rune) int {
	return int(r-'a')%9 + 1
}

func nameNumberHandler(_ context.Context, args map[string]interface{}) (interface{}, error) {
	name, _ := args["name"].(string)
	sum := 0
	letters := 0
	// runes outside a-z carry no Pythagorean value and are skipped
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' {
			sum += pythagorean(r)
			letters++
		}
	}
	if letters == 0 {
		return nil, fmt.Errorf("name %q contains no letters", name)
	}

	return map[string]interface{}{
		"name":        name,
		"name_number": reduceWithMasters(sum),
	}, nil
}

// reduceWithMasters repeatedly sums digits until a single digit remains,
// stopping early on the master numbers 11, 22 and 33.
func reduceWithMasters(n int) int {
	for n > 9 {
		if n == 11 || n == 22 || n == 33 {
			return n
		}
		n = digitSum(n)
	}
	return n
}

func digitSum(n int) int {
	s := 0
	for n > 0 {
		s += n % 10
		n /= 10
	}
	return s
}
