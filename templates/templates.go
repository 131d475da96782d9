package templates

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/mykhaliev/agent-oracle/logger"
)

const (
	alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	numericChars      = "0123456789"
	hexChars          = "0123456789abcdef"
)

type TemplateEngine struct{}

var (
	templateEngineInstance *TemplateEngine
	templateEngineOnce     sync.Once
)

// NewTemplateEngine returns the singleton instance of TemplateEngine.
// raymond panics on duplicate helper registration, so helpers are registered once here.
func NewTemplateEngine() *TemplateEngine {
	templateEngineOnce.Do(func() {
		registerHelpers()
		templateEngineInstance = &TemplateEngine{}
	})
	return templateEngineInstance
}

// Render interpolates {{var}} expressions in input. Values are inserted verbatim (no HTML
// escaping). When the template cannot be parsed or executed, input is returned unchanged.
func Render(input string, data map[string]interface{}) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	NewTemplateEngine()

	tmpl, err := raymond.Parse(input)
	if err != nil {
		logger.Logger.Warn("Failed to parse template", "template", input, "error", err)
		return input
	}

	output, err := tmpl.Exec(safeContext(data))
	if err != nil {
		logger.Logger.Warn("Failed to execute template", "template", input, "error", err)
		return input
	}

	return output
}

// RenderStrings is Render over a flat variable map.
func RenderStrings(input string, vars map[string]string) string {
	data := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		data[k] = v
	}
	return Render(input, data)
}

// RenderValue walks maps and slices and renders every string it finds.
func RenderValue(v interface{}, data map[string]interface{}) interface{} {
	switch typed := v.(type) {
	case string:
		return Render(typed, data)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, item := range typed {
			out[k] = RenderValue(item, data)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = RenderValue(item, data)
		}
		return out
	default:
		return v
	}
}

func safeContext(v interface{}) interface{} {
	switch typed := v.(type) {
	case string:
		return raymond.SafeString(typed)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, item := range typed {
			out[k] = safeContext(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = safeContext(item)
		}
		return out
	default:
		return v
	}
}

func registerHelpers() {
	// {{randomValue type="UUID|ALPHANUMERIC|NUMERIC|HEXADECIMAL" length=10}}
	raymond.RegisterHelper("randomValue", func(options *raymond.Options) raymond.SafeString {
		randomType := strings.ToUpper(options.HashStr("type"))
		if randomType == "UUID" {
			return raymond.SafeString(uuid.New().String())
		}

		length := 10
		if lengthVal := options.HashProp("length"); lengthVal != nil {
			length = toInt(lengthVal)
		}

		switch randomType {
		case "NUMERIC":
			return raymond.SafeString(generateRandomString(numericChars, length))
		case "HEXADECIMAL":
			return raymond.SafeString(generateRandomString(hexChars, length))
		default:
			return raymond.SafeString(generateRandomString(alphanumericChars, length))
		}
	})

	// {{randomInt lower=0 upper=100}}
	raymond.RegisterHelper("randomInt", func(options *raymond.Options) raymond.SafeString {
		lower, upper := 0, 100
		if v := options.HashProp("lower"); v != nil {
			lower = toInt(v)
		}
		if v := options.HashProp("upper"); v != nil {
			upper = toInt(v)
		}
		if lower > upper {
			lower, upper = upper, lower
		}

		num, err := rand.Int(rand.Reader, big.NewInt(int64(upper-lower+1)))
		if err != nil {
			return "0"
		}
		return raymond.SafeString(strconv.Itoa(int(num.Int64()) + lower))
	})

	// {{now offset="-2 days" format="2006-01-02"}}; format may also be "unix" or "epoch"
	raymond.RegisterHelper("now", func(options *raymond.Options) raymond.SafeString {
		now := time.Now().UTC()
		if offsetStr := options.HashStr("offset"); offsetStr != "" {
			if offset, err := ParseOffset(offsetStr); err == nil {
				now = now.Add(offset)
			}
		}

		switch format := options.HashStr("format"); format {
		case "epoch":
			return raymond.SafeString(strconv.FormatInt(now.UnixMilli(), 10))
		case "unix":
			return raymond.SafeString(strconv.FormatInt(now.Unix(), 10))
		case "":
			return raymond.SafeString(now.Format(time.RFC3339))
		default:
			return raymond.SafeString(now.Format(format))
		}
	})

	// {{faker "Lorem.sentence"}}: seed data for setup steps
	raymond.RegisterHelper("faker", func(key string) raymond.SafeString {
		return raymond.SafeString(fake(key))
	})
}

func fake(key string) string {
	r := gofakeit.New(0)

	switch key {
	case "Name.first_name":
		return r.FirstName()
	case "Name.last_name":
		return r.LastName()
	case "Name.full_name":
		return r.Name()
	case "Internet.email":
		return r.Email()
	case "Internet.username":
		return r.Username()
	case "Internet.url":
		return r.URL()
	case "Company.name":
		return r.Company()
	case "Lorem.word":
		return r.Word()
	case "Lorem.sentence":
		return r.Sentence(5)
	case "Address.city":
		return r.City()
	case "Misc.uuid":
		return r.UUID()
	case "Misc.boolean":
		return strconv.FormatBool(r.Bool())
	case "Misc.date":
		return r.Date().Format("2006-01-02")
	}
	return ""
}

// generateRandomString generates a cryptographically secure random string
func generateRandomString(charset string, length int) string {
	result := make([]byte, length)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return ""
		}
		result[i] = charset[num.Int64()]
	}

	return string(result)
}

func toInt(val interface{}) int {
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// ParseOffset parses offset strings like "3 days", "-24 seconds", "1 week"
func ParseOffset(offset string) (time.Duration, error) {
	parts := strings.Fields(strings.TrimSpace(offset))
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid offset format: %q", offset)
	}

	value, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset value: %w", err)
	}

	var unit time.Duration
	switch strings.TrimSuffix(strings.ToLower(parts[1]), "s") {
	case "second":
		unit = time.Second
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit: %s", parts[1])
	}

	return time.Duration(value) * unit, nil
}
