package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value.
const PresencePlaceholder = "<<PRESENCE>>"

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool `default:"true"`
	AllowPresencePlaceholder bool `default:"true"`
}

// Option configures a JSONAsserter.
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a gojsondiff diff.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options.
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects, so root-level arrays are wrapped
	if isArray(expected) || isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}
	expectedObj, ok := expected.(map[string]interface{})
	if !ok {
		return fmt.Sprintf("expected JSON must be an object or an array, got %T", expected)
	}
	actualObj, ok := actual.(map[string]interface{})
	if !ok {
		return fmt.Sprintf("actual JSON must be an object or an array, got %T", actual)
	}

	if ja.options.AllowPresencePlaceholder {
		replacePresence(expectedObj, actualObj)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actualObj, expectedObj)
	}

	differ := gojsondiff.New()
	diff := differ.CompareObjects(expectedObj, actualObj)
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expectedObj, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	return out
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// replacePresence copies actual values over placeholders so that they compare equal.
func replacePresence(expected, actual map[string]interface{}) {
	for k, v := range expected {
		if av, ok := actual[k]; ok {
			expected[k] = withPresence(v, av)
		}
	}
}

func withPresence(expected, actual interface{}) interface{} {
	switch ev := expected.(type) {
	case string:
		if ev == PresencePlaceholder {
			return actual
		}
	case map[string]interface{}:
		if am, ok := actual.(map[string]interface{}); ok {
			replacePresence(ev, am)
		}
	case []interface{}:
		if aa, ok := actual.([]interface{}); ok {
			for i := range ev {
				if i < len(aa) {
					ev[i] = withPresence(ev[i], aa[i])
				}
			}
		}
	}
	return expected
}

// pruneExtraKeys drops keys from actual that expected does not mention, descending into
// nested objects and into array elements pairwise.
func pruneExtraKeys(actual, expected map[string]interface{}) {
	for k, v := range actual {
		ev, ok := expected[k]
		if !ok {
			delete(actual, k)
			continue
		}
		pruneValue(v, ev)
	}
}

func pruneValue(actual, expected interface{}) {
	switch av := actual.(type) {
	case map[string]interface{}:
		if em, ok := expected.(map[string]interface{}); ok {
			pruneExtraKeys(av, em)
		}
	case []interface{}:
		if ea, ok := expected.([]interface{}); ok {
			for i := range av {
				if i < len(ea) {
					pruneValue(av[i], ea[i])
				}
			}
		}
	}
}

// WithIgnoreExtraKeys sets whether keys absent from the expected document are ignored.
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoreExtraKeys = ignore }
}

// WithAllowPresencePlaceholder sets whether PresencePlaceholder is honored.
func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) { opts.AllowPresencePlaceholder = allow }
}
