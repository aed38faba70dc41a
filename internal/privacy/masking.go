package privacy

import (
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits.
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskChatID masks a WhatsApp chat ID while keeping its domain suffix.
// Example: "1234567890@c.us" -> "******7890@c.us"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if at := strings.Index(chatID, "@"); at >= 0 {
		return maskString(chatID[:at], 4) + chatID[at:]
	}

	return maskString(chatID, 4)
}

// MaskURL hides the path and query of a webhook URL, keeping the host
// visible for debugging.
func MaskURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd < 0 {
		return maskString(rawURL, 4)
	}

	rest := rawURL[schemeEnd+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		return rawURL[:schemeEnd+3] + rest[:slash] + "/***"
	}
	return rawURL
}

// MaskSensitiveFields applies masking to common logging fields.
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "phone_number", "phoneNumber", "identifier", "from", "to":
			masked[k] = MaskPhoneNumber(s)
		case "chat_id", "chatId":
			masked[k] = MaskChatID(s)
		case "url", "webhook_url":
			masked[k] = MaskURL(s)
		default:
			masked[k] = v
		}
	}

	return masked
}

func maskString(s string, keepLast int) string {
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
