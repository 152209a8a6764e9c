// Package message renders campaign message parts for individual recipients.
// Templates use Liquid syntax: {{ name }}, {{ phone }}, {{ first_name }}.
package message

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/CesarNXT/topzap-engine/internal/domain"
)

// Renderer compiles and renders Liquid message templates with caching.
// Safe for concurrent use.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the campaign-specific filters registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// Default value filter: {{ name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Capitalize first letter: {{ name | capitalize }}
	engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	return &Renderer{engine: engine}
}

// bindings builds the variable set for one recipient.
func bindings(name, phone string) map[string]interface{} {
	first := name
	if i := strings.IndexByte(name, ' '); i > 0 {
		first = name[:i]
	}
	return map[string]interface{}{
		"name":       name,
		"first_name": first,
		"phone":      phone,
	}
}

// Render resolves one message part's placeholders for the given recipient.
func (r *Renderer) Render(part domain.MessagePart, name, phone string) (string, error) {
	tpl, err := r.parse(part.Body)
	if err != nil {
		return "", fmt.Errorf("parse message template: %w", err)
	}
	out, err := tpl.RenderString(bindings(name, phone))
	if err != nil {
		return "", fmt.Errorf("render message template: %w", err)
	}
	return out, nil
}

// RenderAll resolves every part of a template in order.
func (r *Renderer) RenderAll(parts []domain.MessagePart, name, phone string) ([]string, error) {
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		body, err := r.Render(p, name, phone)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		out = append(out, body)
	}
	return out, nil
}

func (r *Renderer) parse(body string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(body); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(body)
	if err != nil {
		return nil, err
	}
	r.cache.Store(body, tpl)
	return tpl, nil
}
