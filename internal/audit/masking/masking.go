package masking

import "strings"

const maskToken = "****"

var contactKeys = map[string]func(string) string{
	"email":         MaskEmail,
	"contact_email": MaskEmail,
	"phone":         MaskPhone,
	"phone_number":  MaskPhone,
	"contact_phone": MaskPhone,
	"name":          MaskName,
	"contact_name":  MaskName,
}

// MaskPhone keeps the last four digits.
func MaskPhone(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 {
		return MaskName(trimmed)
	}
	return trimmed[:1] + maskToken + trimmed[at:]
}

// MaskName keeps the first character.
func MaskName(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	r := []rune(trimmed)
	return string(r[0]) + maskToken
}

// MaskContact returns a copy of input with contact fields masked at any depth.
func MaskContact(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if mask, ok := contactKeys[strings.ToLower(key)]; ok {
			return mask(cast)
		}
		return cast
	case map[string]any:
		return MaskContact(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}
