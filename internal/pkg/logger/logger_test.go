package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "+5511***0000", RedactPhone("+5511999990000"))
	assert.Equal(t, "+1415***5309", RedactPhone("+14155555309"))
	assert.Equal(t, "***", RedactPhone("+551199"))
}

func TestRedactPIIValueByKey(t *testing.T) {
	assert.Equal(t, "+5511***0000", redactPIIValue("phone", "+5511999990000"))
	assert.Equal(t, "+5511***0000", redactPIIValue("recipient_phone", "+5511999990000"))
}

func TestRedactPIIValueEmbedded(t *testing.T) {
	got := redactPIIValue("detail", "send to +5511999990000 failed")
	assert.Equal(t, "send to +5511***0000 failed", got)
}
