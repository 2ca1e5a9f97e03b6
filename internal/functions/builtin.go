package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ProcessTextArgs are the arguments of process_text.
type ProcessTextArgs struct {
	Text       string   `json:"text" jsonschema_description:"The text to process"`
	Operations []string `json:"operations" jsonschema_description:"Operations to perform: lowercase, uppercase, tokenize, count_words, count_chars"`
}

// CalculateStatisticsArgs are the arguments of calculate_statistics.
type CalculateStatisticsArgs struct {
	Data  []interface{} `json:"data" jsonschema_description:"Records containing the field"`
	Field string        `json:"field" jsonschema_description:"The numeric field to summarize"`
}

// SendNotificationArgs are the arguments of send_notification.
type SendNotificationArgs struct {
	Recipient string `json:"recipient" jsonschema_description:"The recipient of the notification"`
	Message   string `json:"message" jsonschema_description:"The message to send"`
	Channel   string `json:"channel,omitempty" jsonschema_description:"Delivery channel (email, sms, slack)"`
}

// FetchDataArgs are the arguments of fetch_data.
type FetchDataArgs struct {
	URL     string            `json:"url" jsonschema_description:"The URL to fetch JSON from"`
	Headers map[string]string `json:"headers,omitempty" jsonschema_description:"Optional request headers"`
}

// Builtins returns the bundled implementations.
func Builtins() []*Function {
	return []*Function{
		Typed("process_text", "Process text with various operations", ProcessText),
		Typed("calculate_statistics", "Calculate min, max, avg, sum and count for a field across records", CalculateStatistics),
		Typed("send_notification", "Send a notification to a recipient", SendNotification),
		Typed("fetch_data", "Fetch JSON data from a URL", FetchData),
	}
}

// NewBuiltinRegistry creates a registry preloaded with Builtins.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, f := range Builtins() {
		// names are unique by construction
		_ = r.RegisterFunction(f)
	}
	return r
}

// ProcessText applies each requested operation to the text. Unknown
// operations are ignored.
func ProcessText(_ context.Context, args ProcessTextArgs) (interface{}, error) {
	results := make(map[string]interface{})
	for _, op := range args.Operations {
		switch op {
		case "lowercase":
			results[op] = strings.ToLower(args.Text)
		case "uppercase":
			results[op] = strings.ToUpper(args.Text)
		case "tokenize":
			results[op] = strings.Fields(args.Text)
		case "count_words":
			results[op] = len(strings.Fields(args.Text))
		case "count_chars":
			results[op] = utf8.RuneCountInString(args.Text)
		}
	}
	return results, nil
}

// CalculateStatistics summarizes the numeric values of field across data.
func CalculateStatistics(_ context.Context, args CalculateStatisticsArgs) (interface{}, error) {
	if len(args.Data) == 0 {
		return nil, fmt.Errorf("no data provided")
	}
	raw, err := json.Marshal(args.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding data: %w", err)
	}

	var values []float64
	gjson.GetBytes(raw, "#."+escapePath(args.Field)).ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.Number {
			values = append(values, v.Num)
		}
		return true
	})
	if len(values) == 0 {
		return nil, fmt.Errorf("field '%s' not found in data", args.Field)
	}

	minV, maxV, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, v := range values {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
		sum += v
	}
	return map[string]interface{}{
		"min":   minV,
		"max":   maxV,
		"avg":   sum / float64(len(values)),
		"sum":   sum,
		"count": len(values),
	}, nil
}

// SendNotification is a mock delivery that reports success.
func SendNotification(ctx context.Context, args SendNotificationArgs) (interface{}, error) {
	if args.Recipient == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channel := args.Channel
	if channel == "" {
		channel = "email"
	}
	return map[string]interface{}{
		"status":    "sent",
		"recipient": args.Recipient,
		"channel":   channel,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// FetchData performs a GET request and decodes the JSON body.
func FetchData(ctx context.Context, args FetchDataArgs) (interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch data: %d", resp.StatusCode)
	}

	var out interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}

// escapePath escapes gjson path metacharacters in a field name.
func escapePath(field string) string {
	var b strings.Builder
	for _, r := range field {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
