// Package validation holds the input validation rules shared by the identity
// services: attribute length limits and the variant-value constraints on
// tag/config maps.
package validation

import (
	"github.com/skyfactor/identity/pkg/errdefs"
)

// MaxNameLength bounds display names across all entities
const MaxNameLength = 128

// ValidateName enforces presence and the display-name length limit
func ValidateName(name string) error {
	if name == "" {
		return errdefs.Validation("name is required")
	}
	if len(name) > MaxNameLength {
		return errdefs.Validation("name length %d exceeds %d characters", len(name), MaxNameLength)
	}
	return nil
}

// ValidateTags checks that every tag value is one of the supported variant
// types: string, number, boolean, or a nested map of the same. Keeping the
// value domain closed keeps serialization deterministic across stores.
func ValidateTags(tags map[string]interface{}) error {
	for key, value := range tags {
		if key == "" {
			return errdefs.Validation("tag key must not be empty")
		}
		if err := validateTagValue(key, value); err != nil {
			return err
		}
	}
	return nil
}

func validateTagValue(key string, value interface{}) error {
	switch v := value.(type) {
	case nil, string, bool,
		int, int32, int64, float32, float64:
		return nil
	case map[string]interface{}:
		return ValidateTags(v)
	case []interface{}:
		for _, elem := range v {
			if err := validateTagValue(key, elem); err != nil {
				return err
			}
		}
		return nil
	default:
		return errdefs.Validation("tag %q has unsupported value type %T", key, v)
	}
}
