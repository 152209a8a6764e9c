package message

import (
	"testing"

	"github.com/CesarNXT/topzap-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlaceholders(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name     string
		body     string
		rcptName string
		phone    string
		expected string
	}{
		{"plain text", "hello", "Ana", "+5511999990000", "hello"},
		{"name", "Hi {{ name }}!", "Ana Souza", "+5511999990000", "Hi Ana Souza!"},
		{"first name", "Hi {{ first_name }}!", "Ana Souza", "+5511999990000", "Hi Ana!"},
		{"phone", "Confirm {{ phone }}", "Ana", "+5511999990000", "Confirm +5511999990000"},
		{"default filter", "Hi {{ name | default: \"there\" }}!", "", "+55", "Hi there!"},
		{"capitalize", "Hi {{ first_name | capitalize }}!", "ana souza", "+55", "Hi Ana!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Render(domain.MessagePart{Body: tt.body}, tt.rcptName, tt.phone)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRenderAllKeepsOrder(t *testing.T) {
	r := NewRenderer()
	parts := []domain.MessagePart{
		{Body: "Hi {{ first_name }}"},
		{Body: "Offer for {{ phone }}"},
		{Body: "Bye"},
	}
	got, err := r.RenderAll(parts, "Ana Souza", "+5511999990000")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi Ana", "Offer for +5511999990000", "Bye"}, got)
}

func TestRenderBadTemplate(t *testing.T) {
	r := NewRenderer()
	_, err := r.Render(domain.MessagePart{Body: "{% if %}"}, "Ana", "+55")
	assert.Error(t, err)
}
