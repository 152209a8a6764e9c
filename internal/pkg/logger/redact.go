package logger

// RedactPhone masks the middle digits of a phone number for safe logging.
// "+5511999990000" → "+5511***0000"
// Numbers too short to keep a prefix and suffix are fully masked.
func RedactPhone(phone string) string {
	if len(phone) < 10 {
		return "***"
	}
	return phone[:5] + "***" + phone[len(phone)-4:]
}
