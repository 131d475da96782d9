package templates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Run("Plain strings pass through", func(t *testing.T) {
		assert.Equal(t, "no templates here", Render("no templates here", nil))
	})

	t.Run("Interpolates variables", func(t *testing.T) {
		out := Render("Buy {{item}} for {{user.name}}", map[string]interface{}{
			"item": "milk",
			"user": map[string]interface{}{"name": "Sam"},
		})
		assert.Equal(t, "Buy milk for Sam", out)
	})

	t.Run("Does not HTML-escape values", func(t *testing.T) {
		out := RenderStrings("{{title}}", map[string]string{"title": "Tom & Jerry's <list>"})
		assert.Equal(t, "Tom & Jerry's <list>", out)
	})

	t.Run("Missing variables render empty", func(t *testing.T) {
		assert.Equal(t, "id=", RenderStrings("id={{missing}}", nil))
	})

	t.Run("Broken template returns input", func(t *testing.T) {
		in := "{{#if}}unterminated"
		assert.Equal(t, in, Render(in, nil))
	})
}

func TestRenderValue(t *testing.T) {
	data := map[string]interface{}{"list": "Groceries"}
	out := RenderValue(map[string]interface{}{
		"title":    "Task for {{list}}",
		"priority": 3,
		"tags":     []interface{}{"{{list}}", "static"},
	}, data)

	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Task for Groceries", m["title"])
	assert.Equal(t, 3, m["priority"])
	assert.Equal(t, []interface{}{"Groceries", "static"}, m["tags"])
}

func TestHelpers(t *testing.T) {
	t.Run("randomValue UUID", func(t *testing.T) {
		out := Render(`{{randomValue type="UUID"}}`, nil)
		assert.Len(t, out, 36)
	})

	t.Run("randomValue numeric with length", func(t *testing.T) {
		out := Render(`{{randomValue type="NUMERIC" length=6}}`, nil)
		assert.Regexp(t, `^[0-9]{6}$`, out)
	})

	t.Run("randomInt stays in bounds", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			out := Render(`{{randomInt lower=5 upper=7}}`, nil)
			assert.Contains(t, []string{"5", "6", "7"}, out)
		}
	})

	t.Run("now with custom format", func(t *testing.T) {
		out := Render(`{{now format="2006-01-02"}}`, nil)
		_, err := time.Parse("2006-01-02", out)
		assert.NoError(t, err)
	})

	t.Run("faker produces data", func(t *testing.T) {
		assert.NotEmpty(t, Render(`{{faker "Lorem.sentence"}}`, nil))
		assert.Empty(t, Render(`{{faker "Unknown.key"}}`, nil))
	})
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"3 days", 72 * time.Hour, false},
		{"-24 seconds", -24 * time.Second, false},
		{"1 week", 7 * 24 * time.Hour, false},
		{"2 fortnights", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOffset(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
